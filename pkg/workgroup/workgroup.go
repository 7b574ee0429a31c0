// Package workgroup implements the cooperative, deterministic scheduler
// that steps every work-item of a group in a fixed lexicographic order,
// detects when all items have reached a barrier together, and reports a
// divergence fault when they have not.
package workgroup

import (
	"errors"
	"fmt"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/kernel"
	"github.com/oclgrind/oclgrind-go/pkg/memory"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/workitem"
)

// ErrBarrierDivergence is returned by Run when some but not all work-items
// reached a barrier before the rest finished or took a different path.
var ErrBarrierDivergence = errors.New("workgroup: barrier divergence")

// Group is one work-group: its local memory and the dense, row-major set
// of work-items it owns.
type Group struct {
	ID        workitem.ID3
	LocalSize [3]int

	local *memory.Region
	bus   *plugin.Bus
	items []*workitem.Item
}

// New creates a work-group. offset is the kernel launch's global_offset;
// localSize is the group's per-dimension extent. snap is the kernel's
// argument snapshot (one per launch, shared read-only across every
// group and item it spawns). k supplies the static local-memory layout
// so this group's local region reproduces the exact offsets the
// snapshot's Local-pointer bindings were computed against.
func New(id workitem.ID3, offset workitem.ID3, localSize [3]int, k *kernel.Kernel, snap kernel.Snapshot, globalMem *memory.Region, bus *plugin.Bus) *Group {
	local := memory.NewObserved(addrspace.Local, k.LocalMemorySize(), bus)
	for _, size := range k.LocalReservations() {
		if _, err := local.Allocate(size); err != nil {
			// Unreachable: LocalMemorySize() is exactly the sum of
			// LocalReservations(), so capacity can never be exceeded.
			panic(fmt.Sprintf("workgroup: replay local layout: %v", err))
		}
	}

	g := &Group{ID: id, LocalSize: localSize, local: local, bus: bus}

	for lz := 0; lz < localSize[2]; lz++ {
		for ly := 0; ly < localSize[1]; ly++ {
			for lx := 0; lx < localSize[0]; lx++ {
				local3 := workitem.ID3{lx, ly, lz}
				global3 := workitem.ID3{
					offset[0] + id[0]*localSize[0] + lx,
					offset[1] + id[1]*localSize[1] + ly,
					offset[2] + id[2]*localSize[2] + lz,
				}
				it := workitem.New(global3, local3, id, snap.Function, snap.Params, snap.Globals, local, globalMem, bus)
				g.items = append(g.items, it)
			}
		}
	}
	return g
}

// Items returns the group's work-items in their fixed scheduling order.
func (g *Group) Items() []*workitem.Item { return g.items }

// Run schedules every item to completion, releasing barriers in lock
// step. A faulted item does not cancel its siblings: the rest keep
// scheduling (including crossing barriers among themselves) until no
// more progress is possible, at which point the first fault observed
// (program.Instruction-level errors surfaced by an Item) is returned, or
// ErrBarrierDivergence if the group's still-active items disagree about
// reaching a barrier.
func (g *Group) Run() error {
	for {
		var ready, atBarrier, faulted int
		for _, it := range g.items {
			switch it.State() {
			case workitem.Ready:
				ready++
			case workitem.AtBarrier:
				atBarrier++
			case workitem.Faulted:
				faulted++
			}
		}

		if ready > 0 {
			for _, it := range g.items {
				if it.State() == workitem.Ready {
					it.Step()
				}
			}
			continue
		}

		// No item is Ready. Faulted items are out of the picture for
		// barrier convergence: only the still-active items (everything
		// but the faulted ones) need to agree on reaching the barrier.
		if atBarrier > 0 {
			nonFaulted := len(g.items) - faulted
			if atBarrier == nonFaulted {
				g.releaseBarrier()
				continue
			}
			return fmt.Errorf("workgroup %v: %d of %d active items reached a barrier, the rest did not: %w", g.ID, atBarrier, nonFaulted, ErrBarrierDivergence)
		}

		break
	}

	if err := g.firstFault(); err != nil {
		return err
	}

	if g.bus != nil {
		g.bus.NotifyWorkGroupComplete(plugin.GroupEvent{Group: plugin.ID(g.ID)})
	}
	return nil
}

// firstFault returns the first faulted item's wrapped error, or nil if no
// item faulted.
func (g *Group) firstFault() error {
	for _, it := range g.items {
		if it.State() == workitem.Faulted {
			return fmt.Errorf("workgroup %v: item %v: %w", g.ID, it.Global, it.Fault())
		}
	}
	return nil
}

func (g *Group) releaseBarrier() {
	flags := 0
	for _, it := range g.items {
		if it.State() == workitem.AtBarrier {
			flags = it.BarrierFlags()
			break
		}
	}
	if g.bus != nil {
		g.bus.NotifyWorkGroupBarrier(plugin.BarrierEvent{Group: plugin.ID(g.ID), Flags: flags})
	}
	for _, it := range g.items {
		it.Release()
	}
}
