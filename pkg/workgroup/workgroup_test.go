package workgroup

import (
	"errors"
	"testing"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/kernel"
	"github.com/oclgrind/oclgrind-go/pkg/memory"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/program"
	"github.com/oclgrind/oclgrind-go/pkg/value"
	"github.com/oclgrind/oclgrind-go/pkg/workitem"
)

// buildBarrierFn builds a kernel where every item stores its global id
// into out[0], then barriers, then returns -- every item must reach the
// barrier and be released together for the group to finish.
func buildBarrierFn() (*program.Module, *program.Function) {
	fn := &program.Function{
		Name: "pingpong",
		Params: []program.Param{
			{Name: "out", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
		},
	}
	b := program.NewBuilder(fn)
	b.GetGlobalID(0, 0)  // r0 = global_id(0)
	b.LoadParam(1, 0)    // r1 = out ptr
	b.Store(1, 0, 0, 4)  // out[0] = r0 (byte offset 0, all items race benignly: same value)
	b.Barrier(0)
	b.Return()

	mod := &program.Module{Name: "m", Functions: []*program.Function{fn}}
	return mod, fn
}

func TestRunExecutesAllItemsAndReleasesBarrier(t *testing.T) {
	mod, fn := buildBarrierFn()
	k := kernel.New(fn, mod)

	global := memory.New(addrspace.Global, 0)
	addr, err := global.Allocate(4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := k.SetArgument(0, value.FromUint64(8, addr)); err != nil {
		t.Fatalf("SetArgument: %v", err)
	}

	snap := k.Snapshot()
	bus := plugin.New()
	g := New(workitem.ID3{0, 0, 0}, workitem.ID3{0, 0, 0}, [3]int{4, 1, 1}, k, snap, global, bus)

	if len(g.Items()) != 4 {
		t.Fatalf("len(Items()) = %d, want 4", len(g.Items()))
	}

	if err := g.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, it := range g.Items() {
		if it.State() != workitem.Finished {
			t.Errorf("item %v state = %v, want Finished", it.Global, it.State())
		}
	}
}

func TestRunPropagatesItemFault(t *testing.T) {
	fn := &program.Function{Name: "faulting"}
	b := program.NewBuilder(fn)
	b.LoadConst(0, 1)
	b.LoadConst(1, 0)
	b.Bin(program.OpDiv, 2, 0, 1)
	b.Return()
	mod := &program.Module{Name: "m", Functions: []*program.Function{fn}}
	k := kernel.New(fn, mod)

	global := memory.New(addrspace.Global, 0)
	snap := k.Snapshot()
	g := New(workitem.ID3{0, 0, 0}, workitem.ID3{0, 0, 0}, [3]int{2, 1, 1}, k, snap, global, plugin.New())

	if err := g.Run(); err == nil {
		t.Fatal("Run() = nil, want a propagated division-by-zero fault")
	}
}

// buildDivergentFaultFn builds a kernel where global_id==0 faults
// (division by zero) after only a couple of instructions, while every
// other item takes a long filler loop before returning normally. This
// lets a test catch the group scheduler abandoning still-Ready siblings
// the moment the first item faults.
func buildDivergentFaultFn() (*program.Module, *program.Function) {
	fn := &program.Function{Name: "divergent_fault"}
	b := program.NewBuilder(fn)
	b.GetGlobalID(0, 0)          // r0 = global_id(0)
	b.LoadConst(1, 0)            // r1 = 0
	b.Bin(program.OpEq, 2, 0, 1) // r2 = (global_id == 0)
	longPath := b.JumpIfNot(2, 0)

	// global_id == 0: fault almost immediately.
	b.LoadConst(3, 1)
	b.LoadConst(4, 0)
	b.Bin(program.OpDiv, 5, 3, 4)
	b.Return()

	// every other item: a long filler loop before finishing normally.
	longPathTarget := b.Len()
	b.LoadConst(6, 0)
	for i := 0; i < 20; i++ {
		b.LoadConst(7, 1)
		b.Bin(program.OpAdd, 6, 6, 7)
	}
	b.Return()

	fn.Instructions[longPath].Target = longPathTarget
	mod := &program.Module{Name: "m", Functions: []*program.Function{fn}}
	return mod, fn
}

func TestRunKeepsSchedulingSiblingsAfterAFault(t *testing.T) {
	mod, fn := buildDivergentFaultFn()
	k := kernel.New(fn, mod)

	global := memory.New(addrspace.Global, 0)
	snap := k.Snapshot()
	g := New(workitem.ID3{0, 0, 0}, workitem.ID3{0, 0, 0}, [3]int{4, 1, 1}, k, snap, global, plugin.New())

	if err := g.Run(); err == nil {
		t.Fatal("Run() = nil, want the propagated division-by-zero fault")
	}

	for _, it := range g.Items() {
		if it.Global == (workitem.ID3{0, 0, 0}) {
			if it.State() != workitem.Faulted {
				t.Errorf("item 0 state = %v, want Faulted", it.State())
			}
			continue
		}
		if it.State() != workitem.Finished {
			t.Errorf("item %v state = %v, want Finished (siblings must not be abandoned when item 0 faults)", it.Global, it.State())
		}
	}
}

func TestLocalLayoutMatchesKernelReservations(t *testing.T) {
	fn := &program.Function{
		Name:   "withlocal",
		Params: []program.Param{{Name: "scratch", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Local}},
	}
	mod := &program.Module{
		Name:      "m",
		Functions: []*program.Function{fn},
		Globals:   []program.Global{{Name: "tile", Type: program.Type{ElemSize: 4, Count: 8}, Space: addrspace.Local}},
	}
	k := kernel.New(fn, mod)
	if err := k.SetArgument(0, value.New(1, 16)); err != nil {
		t.Fatalf("SetArgument: %v", err)
	}

	global := memory.New(addrspace.Global, 0)
	snap := k.Snapshot()
	g := New(workitem.ID3{}, workitem.ID3{}, [3]int{1, 1, 1}, k, snap, global, plugin.New())

	if g.local.Size() != k.LocalMemorySize() {
		t.Errorf("group local region size = %d, want %d", g.local.Size(), k.LocalMemorySize())
	}
}

func TestErrBarrierDivergenceIsSentinel(t *testing.T) {
	if !errors.Is(ErrBarrierDivergence, ErrBarrierDivergence) {
		t.Fatal("sentinel must be comparable via errors.Is")
	}
}
