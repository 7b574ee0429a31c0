// Package device implements the N-D range dispatcher: the component that
// turns a kernel launch configuration into a grid of work-groups, runs
// them to completion (serially or in parallel), and fires the kernel
// begin/end plugin events around the whole launch.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/kernel"
	"github.com/oclgrind/oclgrind-go/pkg/memory"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/workgroup"
	"github.com/oclgrind/oclgrind-go/pkg/workitem"
)

// ErrInvalidWorkSize covers every shape problem with a launch
// configuration: a work_dim outside [1,3], a zero global or local size,
// a global size not evenly divisible by the local size in some
// dimension, or a local size that contradicts the kernel's
// reqd_work_group_size attribute. The engine rejects the launch outright
// rather than silently truncating the grid.
var ErrInvalidWorkSize = errors.New("device: invalid work size")

// ErrInvalidArgument is returned when Run is called on a kernel with an
// unbound formal parameter.
var ErrInvalidArgument = errors.New("device: invalid argument")

// ErrBarrierDivergence is re-exported so callers can classify a Run
// error without importing the workgroup package directly.
var ErrBarrierDivergence = workgroup.ErrBarrierDivergence

// ErrUnhandledConstant is re-exported from kernel for the same reason.
var ErrUnhandledConstant = kernel.ErrUnhandledConstant

// ErrInvalidPluginCallback is re-exported from plugin for the same reason.
var ErrInvalidPluginCallback = plugin.ErrInvalidPluginCallback

// Concurrency selects how a launch schedules its work-groups against one
// another. Work-items within a single group are always scheduled
// cooperatively (see workgroup.Group.Run); this only affects whether
// distinct groups run one after another or concurrently.
type Concurrency int

const (
	// Serial runs one work-group to completion before starting the next,
	// in row-major group-id order. Always safe, regardless of registered
	// plugins.
	Serial Concurrency = iota
	// Parallel runs every work-group on its own goroutine. Rejected
	// silently in favor of Serial if any registered plugin is not
	// thread-safe (plugin.Plugin.ThreadSafe() == false).
	Parallel
)

// Device owns the global memory region shared by every kernel this
// device launches, and the plugin bus every launch notifies.
type Device struct {
	global *memory.Region
	bus    *plugin.Bus
}

// New creates a device with a fresh, unbounded global memory region and
// an empty plugin bus.
func New() *Device {
	bus := plugin.New()
	return &Device{global: memory.NewObserved(addrspace.Global, 0, bus), bus: bus}
}

// Bus returns the device's plugin bus, for registering observers before
// a launch.
func (d *Device) Bus() *plugin.Bus { return d.bus }

// GlobalMemory returns the device's global memory region, the region a
// host uses to allocate and populate kernel buffer arguments.
func (d *Device) GlobalMemory() *memory.Region { return d.global }

// RunConfig is an N-D range launch configuration, mirroring
// clEnqueueNDRangeKernel's shape parameters.
type RunConfig struct {
	WorkDim      int
	GlobalOffset [3]int
	GlobalSize   [3]int
	LocalSize    [3]int
	Concurrency  Concurrency
}

func normalize(cfg RunConfig) (offset, global, local [3]int) {
	for d := 0; d < 3; d++ {
		if d < cfg.WorkDim {
			offset[d] = cfg.GlobalOffset[d]
			global[d] = cfg.GlobalSize[d]
			local[d] = cfg.LocalSize[d]
		} else {
			global[d] = 1
			local[d] = 1
		}
	}
	return
}

// Run validates cfg against k, allocates and initializes k's constants,
// runs every work-group the range implies, and tears the launch back
// down. Every group is visited in row-major group-id order for Serial;
// for Parallel, groups may complete in any order but Run still blocks
// until all have finished.
func (d *Device) Run(k *kernel.Kernel, cfg RunConfig) error {
	if cfg.WorkDim < 1 || cfg.WorkDim > 3 {
		return fmt.Errorf("device: work_dim %d out of range [1,3]: %w", cfg.WorkDim, ErrInvalidWorkSize)
	}
	if !k.AllArgumentsBound() {
		return fmt.Errorf("device: kernel %q has an unbound argument: %w", k.Name(), ErrInvalidArgument)
	}

	offset, global, local := normalize(cfg)
	reqd := k.RequiredWorkGroupSize()

	var numGroups [3]int
	for d := 0; d < 3; d++ {
		if global[d] <= 0 || local[d] <= 0 {
			return fmt.Errorf("device: dimension %d has non-positive size (global=%d local=%d): %w", d, global[d], local[d], ErrInvalidWorkSize)
		}
		if reqd[d] != 0 && local[d] != reqd[d] {
			return fmt.Errorf("device: local size %d in dimension %d contradicts reqd_work_group_size %d: %w", local[d], d, reqd[d], ErrInvalidWorkSize)
		}
		if global[d]%local[d] != 0 {
			return fmt.Errorf("device: global size %d is not evenly divisible by local size %d in dimension %d: %w", global[d], local[d], d, ErrInvalidWorkSize)
		}
		numGroups[d] = global[d] / local[d]
	}

	if err := k.AllocateConstants(d.global, d.bus); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	d.bus.NotifyKernelBegin(plugin.KernelEvent{KernelName: k.Name(), GlobalSize: global, LocalSize: local})
	d.bus.BeginLaunch()

	snap := k.Snapshot()
	groups := make([]*workgroup.Group, 0, numGroups[0]*numGroups[1]*numGroups[2])
	for gz := 0; gz < numGroups[2]; gz++ {
		for gy := 0; gy < numGroups[1]; gy++ {
			for gx := 0; gx < numGroups[0]; gx++ {
				id := workitem.ID3{gx, gy, gz}
				groups = append(groups, workgroup.New(id, offset, local, k, snap, d.global, d.bus))
			}
		}
	}

	runErr := d.runGroups(groups, cfg.Concurrency)

	d.bus.EndLaunch()
	d.bus.NotifyKernelEnd(plugin.KernelEvent{KernelName: k.Name(), GlobalSize: global, LocalSize: local})

	if err := k.DeallocateConstants(d.global); err != nil && runErr == nil {
		runErr = fmt.Errorf("device: %w", err)
	}
	return runErr
}

func (d *Device) runGroups(groups []*workgroup.Group, concurrency Concurrency) error {
	if concurrency == Serial || d.bus.HasNonThreadSafePlugin() {
		// Every group runs regardless of an earlier group's fault: the
		// dispatcher provides no cancel, so a faulting group must not
		// prevent the rest from running to completion and publishing
		// their own events.
		var first error
		for _, g := range groups {
			if err := g.Run(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	// One goroutine per group, bounded by a worker pool sized to
	// GOMAXPROCS so a launch with thousands of groups doesn't spawn
	// thousands of goroutines at once.
	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	errs := make(chan error, len(groups))
	for _, g := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(g *workgroup.Group) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := g.Run(); err != nil {
				errs <- err
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}
