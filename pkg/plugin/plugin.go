// Package plugin implements the observer bus that every memory operation,
// instruction retirement, barrier, and work-item lifecycle event is
// published to, synchronously, before control returns to the interpreter.
package plugin

// Plugin is the capability set notified of every significant engine event.
// Concrete plugins embed BasePlugin and override only the callbacks they
// care about — a tagged-variant dispatch would satisfy the same contract,
// but an interface with no-op defaults reads more naturally in Go.
type Plugin interface {
	// Name identifies the plugin in logs and error messages.
	Name() string
	// ThreadSafe reports whether this plugin's callbacks may be invoked
	// concurrently from multiple work-groups. A false return makes the
	// dispatcher run work-groups one after another even when parallel
	// execution was requested.
	ThreadSafe() bool

	OnHostMemoryLoad(MemoryEvent)
	OnHostMemoryStore(MemoryEvent)
	OnMemoryAllocated(AllocationEvent)
	OnMemoryDeallocated(AllocationEvent)
	OnMemoryLoad(MemoryEvent)
	OnMemoryStore(MemoryEvent)
	OnMemoryAtomicLoad(AtomicEvent)
	OnMemoryAtomicStore(AtomicEvent)
	OnInstructionExecuted(InstructionEvent)
	OnKernelBegin(KernelEvent)
	OnKernelEnd(KernelEvent)
	OnWorkGroupBarrier(BarrierEvent)
	OnWorkGroupComplete(GroupEvent)
	OnWorkItemComplete(ItemEvent)
	OnLog(MessageType, string)
}

// BasePlugin implements every Plugin callback as a no-op. Concrete
// plugins embed it by value and override only what they need.
type BasePlugin struct{}

func (BasePlugin) OnHostMemoryLoad(MemoryEvent)            {}
func (BasePlugin) OnHostMemoryStore(MemoryEvent)           {}
func (BasePlugin) OnMemoryAllocated(AllocationEvent)       {}
func (BasePlugin) OnMemoryDeallocated(AllocationEvent)     {}
func (BasePlugin) OnMemoryLoad(MemoryEvent)                {}
func (BasePlugin) OnMemoryStore(MemoryEvent)               {}
func (BasePlugin) OnMemoryAtomicLoad(AtomicEvent)          {}
func (BasePlugin) OnMemoryAtomicStore(AtomicEvent)         {}
func (BasePlugin) OnInstructionExecuted(InstructionEvent)  {}
func (BasePlugin) OnKernelBegin(KernelEvent)               {}
func (BasePlugin) OnKernelEnd(KernelEvent)                 {}
func (BasePlugin) OnWorkGroupBarrier(BarrierEvent)         {}
func (BasePlugin) OnWorkGroupComplete(GroupEvent)          {}
func (BasePlugin) OnWorkItemComplete(ItemEvent)            {}
func (BasePlugin) OnLog(MessageType, string)               {}
