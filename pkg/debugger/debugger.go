// Package debugger provides an interactive, breakpoint-driven Plugin
// that pauses execution on a matching instruction or memory address and
// lets a user step through a launch from a terminal.
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/oclgrind/oclgrind-go/pkg/plugin"
)

// HistoryEntry records one instruction the debugger observed, for the
// "history"/"h" command.
type HistoryEntry struct {
	Item plugin.ID
	PC   int
	Text string
}

// Debugger is a plugin.Plugin that pauses on breakpoints and watchpoints
// and drives an interactive command loop over input/output. It is never
// thread-safe: Device.Run forces Serial concurrency whenever a Debugger
// is registered (see plugin.Bus.HasNonThreadSafePlugin), since pausing
// one work-item's callback to read a terminal command while others run
// concurrently would make the session incoherent.
type Debugger struct {
	plugin.BasePlugin

	mu          sync.Mutex
	breakpoints map[int]bool    // PC values that pause execution
	watchpoints map[uint64]bool // addresses that pause on access

	stepMode bool
	running  bool

	history    []HistoryEntry
	maxHistory int

	input  *bufio.Scanner
	output io.Writer

	instrCount uint64
}

// New creates a Debugger reading commands from in and writing prompts
// and output to out. The debugger starts in free-running mode: it only
// pauses once a breakpoint or watchpoint is hit, or Pause is called.
func New(in io.Reader, out io.Writer) *Debugger {
	return &Debugger{
		breakpoints: make(map[int]bool),
		watchpoints: make(map[uint64]bool),
		history:     make([]HistoryEntry, 0, 64),
		maxHistory:  256,
		input:       bufio.NewScanner(in),
		output:      out,
		running:     true,
	}
}

func (d *Debugger) Name() string     { return "debugger" }
func (d *Debugger) ThreadSafe() bool { return false }

// Break registers a PC value that halts execution when any work-item's
// instruction event reports it.
func (d *Debugger) Break(pc int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[pc] = true
}

// Watch registers an address that halts execution on any load or store.
func (d *Debugger) Watch(addr uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchpoints[addr] = true
}

// Pause forces the next instruction event to stop, as if single-stepping.
func (d *Debugger) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stepMode = true
}

func (d *Debugger) OnKernelBegin(e plugin.KernelEvent) {
	fmt.Fprintf(d.output, "kernel %s begin: global=%v local=%v\n", e.KernelName, e.GlobalSize, e.LocalSize)
}

func (d *Debugger) OnKernelEnd(e plugin.KernelEvent) {
	fmt.Fprintf(d.output, "kernel %s end (%d instructions observed)\n", e.KernelName, d.instrCount)
}

func (d *Debugger) OnInstructionExecuted(e plugin.InstructionEvent) {
	d.mu.Lock()
	d.instrCount++
	d.history = append(d.history, HistoryEntry{Item: e.Item, PC: e.PC, Text: e.Text})
	if len(d.history) > d.maxHistory {
		d.history = d.history[len(d.history)-d.maxHistory:]
	}
	hit := d.stepMode || d.breakpoints[e.PC]
	d.stepMode = false
	d.mu.Unlock()

	if hit {
		fmt.Fprintf(d.output, "break at item %v pc=%d: %s\n", e.Item, e.PC, e.Text)
		d.prompt()
	}
}

func (d *Debugger) OnMemoryLoad(e plugin.MemoryEvent)  { d.checkWatch("load", e.Address, e.Origin.Item) }
func (d *Debugger) OnMemoryStore(e plugin.MemoryEvent) { d.checkWatch("store", e.Address, e.Origin.Item) }

func (d *Debugger) checkWatch(kind string, addr uint64, item plugin.ID) {
	d.mu.Lock()
	hit := d.watchpoints[addr]
	d.mu.Unlock()
	if hit {
		fmt.Fprintf(d.output, "watchpoint %#x (%s) by item %v\n", addr, kind, item)
		d.prompt()
	}
}

func (d *Debugger) OnLog(kind plugin.MessageType, text string) {
	fmt.Fprintf(d.output, "[%s] %s\n", kind, text)
}

// prompt reads and dispatches one command. Any command other than
// "c"/"continue", "s"/"step" and "q"/"quit" re-prompts immediately after
// acting, so a user can chain several inspection commands before resuming.
func (d *Debugger) prompt() {
	for {
		fmt.Fprint(d.output, "(oclgrind-dbg) ")
		if !d.input.Scan() {
			return
		}
		line := strings.TrimSpace(d.input.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "c", "continue":
			return
		case "s", "step":
			d.Pause()
			return
		case "b", "break":
			if len(fields) == 2 {
				if pc, err := strconv.Atoi(fields[1]); err == nil {
					d.Break(pc)
					fmt.Fprintf(d.output, "breakpoint set at pc=%d\n", pc)
				}
			}
		case "w", "watch":
			if len(fields) == 2 {
				if addr, err := strconv.ParseUint(fields[1], 0, 64); err == nil {
					d.Watch(addr)
					fmt.Fprintf(d.output, "watchpoint set at %#x\n", addr)
				}
			}
		case "h", "history":
			d.mu.Lock()
			for _, e := range d.history {
				fmt.Fprintf(d.output, "  item=%v pc=%d %s\n", e.Item, e.PC, e.Text)
			}
			d.mu.Unlock()
		case "q", "quit":
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return
		default:
			fmt.Fprintf(d.output, "unknown command %q (c)ontinue, (s)tep, (b)reak <pc>, (w)atch <addr>, (h)istory, (q)uit\n", fields[0])
		}
	}
}
