package plugin

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidPluginCallback is logged to every plugin (never returned to
// the caller that triggered the original event) when a plugin callback
// re-enters the bus, and is returned by AddPlugin/RemovePlugin when they
// are called while a launch is active.
var ErrInvalidPluginCallback = errors.New("plugin: invalid reentrant or mid-launch callback")

// Bus is a registry of observers notified synchronously, in registration
// order, of every engine event. A single Bus instance is shared by one
// Device across all of its launches.
type Bus struct {
	mu           sync.Mutex
	plugins      []Plugin
	launchActive bool
	inCallback   bool
}

// New creates an empty plugin bus.
func New() *Bus {
	return &Bus{}
}

// AddPlugin registers an observer. Forbidden while a launch is active.
func (b *Bus) AddPlugin(p Plugin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.launchActive {
		return fmt.Errorf("plugin: add %q: %w", p.Name(), ErrInvalidPluginCallback)
	}
	b.plugins = append(b.plugins, p)
	return nil
}

// RemovePlugin unregisters an observer by name. Forbidden while a launch
// is active.
func (b *Bus) RemovePlugin(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.launchActive {
		return fmt.Errorf("plugin: remove %q: %w", name, ErrInvalidPluginCallback)
	}
	for i, p := range b.plugins {
		if p.Name() == name {
			b.plugins = append(b.plugins[:i], b.plugins[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("plugin: no such plugin %q", name)
}

// HasNonThreadSafePlugin reports whether any registered plugin must be
// serialized against concurrent work-group execution.
func (b *Bus) HasNonThreadSafePlugin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.plugins {
		if !p.ThreadSafe() {
			return true
		}
	}
	return false
}

// BeginLaunch marks a launch as active, forbidding plugin (de)registration
// until EndLaunch.
func (b *Bus) BeginLaunch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launchActive = true
}

// EndLaunch marks the active launch as finished.
func (b *Bus) EndLaunch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launchActive = false
}

// dispatch serializes one notification to every registered plugin. A
// callback that itself tries to notify the bus is rejected and logged,
// rather than allowed to recurse. b.mu guards only the inCallback flag
// and the plugins snapshot, not the notify calls themselves: a plugin
// callback that calls back into the bus runs on the same goroutine, and
// sync.Mutex is not reentrant, so holding the lock across notify would
// deadlock that goroutine instead of letting it observe and reject its
// own reentrancy.
func (b *Bus) dispatch(notify func(Plugin)) {
	b.mu.Lock()
	if b.inCallback {
		b.mu.Unlock()
		b.rejectReentrant()
		return
	}
	b.inCallback = true
	plugins := b.plugins
	b.mu.Unlock()

	for _, p := range plugins {
		notify(p)
	}

	b.mu.Lock()
	b.inCallback = false
	b.mu.Unlock()
}

// rejectReentrant logs ErrInvalidPluginCallback directly to every plugin
// without going through dispatch, since dispatch itself detected the
// reentrancy.
func (b *Bus) rejectReentrant() {
	b.mu.Lock()
	plugins := b.plugins
	b.mu.Unlock()
	for _, p := range plugins {
		p.OnLog(Error, ErrInvalidPluginCallback.Error())
	}
}

func (b *Bus) NotifyHostMemoryLoad(e MemoryEvent) {
	b.dispatch(func(p Plugin) { p.OnHostMemoryLoad(e) })
}

func (b *Bus) NotifyHostMemoryStore(e MemoryEvent) {
	b.dispatch(func(p Plugin) { p.OnHostMemoryStore(e) })
}

func (b *Bus) NotifyMemoryAllocated(e AllocationEvent) {
	b.dispatch(func(p Plugin) { p.OnMemoryAllocated(e) })
}

func (b *Bus) NotifyMemoryDeallocated(e AllocationEvent) {
	b.dispatch(func(p Plugin) { p.OnMemoryDeallocated(e) })
}

func (b *Bus) NotifyMemoryLoad(e MemoryEvent) {
	b.dispatch(func(p Plugin) { p.OnMemoryLoad(e) })
}

func (b *Bus) NotifyMemoryStore(e MemoryEvent) {
	b.dispatch(func(p Plugin) { p.OnMemoryStore(e) })
}

func (b *Bus) NotifyMemoryAtomicLoad(e AtomicEvent) {
	b.dispatch(func(p Plugin) { p.OnMemoryAtomicLoad(e) })
}

func (b *Bus) NotifyMemoryAtomicStore(e AtomicEvent) {
	b.dispatch(func(p Plugin) { p.OnMemoryAtomicStore(e) })
}

func (b *Bus) NotifyInstructionExecuted(e InstructionEvent) {
	b.dispatch(func(p Plugin) { p.OnInstructionExecuted(e) })
}

func (b *Bus) NotifyKernelBegin(e KernelEvent) {
	b.dispatch(func(p Plugin) { p.OnKernelBegin(e) })
}

func (b *Bus) NotifyKernelEnd(e KernelEvent) {
	b.dispatch(func(p Plugin) { p.OnKernelEnd(e) })
}

func (b *Bus) NotifyWorkGroupBarrier(e BarrierEvent) {
	b.dispatch(func(p Plugin) { p.OnWorkGroupBarrier(e) })
}

func (b *Bus) NotifyWorkGroupComplete(e GroupEvent) {
	b.dispatch(func(p Plugin) { p.OnWorkGroupComplete(e) })
}

func (b *Bus) NotifyWorkItemComplete(e ItemEvent) {
	b.dispatch(func(p Plugin) { p.OnWorkItemComplete(e) })
}

func (b *Bus) NotifyLog(kind MessageType, text string) {
	b.dispatch(func(p Plugin) { p.OnLog(kind, text) })
}
