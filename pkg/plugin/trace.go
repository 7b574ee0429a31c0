package plugin

import (
	"fmt"
	"io"
	"sync"
)

// TracePlugin writes a line to its writer for every kernel lifecycle,
// barrier, and log event (instruction-level tracing is opt-in via
// Verbose, since it is by far the highest-volume event). It is
// thread-safe: a mutex serializes writes so it never forces Device.Run
// to fall back to Serial concurrency.
type TracePlugin struct {
	BasePlugin
	mu      sync.Mutex
	out     io.Writer
	Verbose bool
}

// NewTracePlugin creates a trace plugin writing to out.
func NewTracePlugin(out io.Writer) *TracePlugin {
	return &TracePlugin{out: out}
}

func (t *TracePlugin) Name() string     { return "trace" }
func (t *TracePlugin) ThreadSafe() bool { return true }

func (t *TracePlugin) println(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *TracePlugin) OnKernelBegin(e KernelEvent) {
	t.println("kernel %s begin: global=%v local=%v", e.KernelName, e.GlobalSize, e.LocalSize)
}

func (t *TracePlugin) OnKernelEnd(e KernelEvent) {
	t.println("kernel %s end", e.KernelName)
}

func (t *TracePlugin) OnWorkGroupBarrier(e BarrierEvent) {
	t.println("group %v: barrier (flags=%d)", e.Group, e.Flags)
}

func (t *TracePlugin) OnWorkGroupComplete(e GroupEvent) {
	t.println("group %v: complete", e.Group)
}

func (t *TracePlugin) OnWorkItemComplete(e ItemEvent) {
	if e.State == "finished" {
		return
	}
	t.println("item %v (group %v): %s", e.Item, e.Group, e.State)
}

func (t *TracePlugin) OnInstructionExecuted(e InstructionEvent) {
	if !t.Verbose {
		return
	}
	t.println("item %v pc=%d: %s", e.Item, e.PC, e.Text)
}

func (t *TracePlugin) OnMemoryAllocated(e AllocationEvent) {
	t.println("alloc %s %#x (%d bytes)", e.Space, e.Address, e.Size)
}

func (t *TracePlugin) OnMemoryDeallocated(e AllocationEvent) {
	t.println("free %s %#x", e.Space, e.Address)
}

func (t *TracePlugin) OnLog(kind MessageType, text string) {
	t.println("[%s] %s", kind, text)
}
