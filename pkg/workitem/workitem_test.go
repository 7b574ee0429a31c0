package workitem

import (
	"testing"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/memory"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/program"
	"github.com/oclgrind/oclgrind-go/pkg/value"
)

func buildStoreConstFn() (*program.Function, uint64, *memory.Region) {
	fn := &program.Function{
		Name: "store42",
		Params: []program.Param{
			{Name: "out", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
		},
	}
	b := program.NewBuilder(fn)
	b.LoadConst(0, 42)
	b.LoadParam(1, 0)
	b.Store(1, 0, 0, 4)
	b.Return()

	global := memory.New(addrspace.Global, 0)
	addr, err := global.Allocate(4)
	if err != nil {
		panic(err)
	}
	return fn, addr, global
}

func TestRunStoresConstantThenFinishes(t *testing.T) {
	fn, addr, global := buildStoreConstFn()
	params := []value.TypedValue{value.FromUint64(8, addr)}

	it := New(ID3{0, 0, 0}, ID3{0, 0, 0}, ID3{0, 0, 0}, fn, params, nil, nil, global, nil)
	it.Run()

	if it.State() != Finished {
		t.Fatalf("State() = %v, want Finished (fault=%v)", it.State(), it.Fault())
	}
	data, err := global.Load(addr, 4, plugin.Origin{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := value.FromBytes(4, 1, data).Uint64()
	if got != 42 {
		t.Errorf("stored value = %d, want 42", got)
	}
}

func TestStepStopsAtBarrierThenResumesOnRelease(t *testing.T) {
	fn := &program.Function{Name: "barriered"}
	b := program.NewBuilder(fn)
	b.Barrier(1)
	b.Return()

	it := New(ID3{}, ID3{}, ID3{}, fn, nil, nil, nil, nil, nil)
	it.Step()
	if it.State() != AtBarrier {
		t.Fatalf("State() after barrier = %v, want AtBarrier", it.State())
	}
	if it.BarrierFlags() != 1 {
		t.Errorf("BarrierFlags() = %d, want 1", it.BarrierFlags())
	}

	it.Release()
	if it.State() != Ready {
		t.Fatalf("State() after Release = %v, want Ready", it.State())
	}
	it.Step()
	if it.State() != Finished {
		t.Fatalf("State() after resuming to return = %v, want Finished", it.State())
	}
}

func TestDivisionByZeroFaults(t *testing.T) {
	fn := &program.Function{Name: "divzero"}
	b := program.NewBuilder(fn)
	b.LoadConst(0, 10)
	b.LoadConst(1, 0)
	b.Bin(program.OpDiv, 2, 0, 1)
	b.Return()

	it := New(ID3{}, ID3{}, ID3{}, fn, nil, nil, nil, nil, nil)
	it.Run()

	if it.State() != Faulted {
		t.Fatalf("State() = %v, want Faulted", it.State())
	}
	if it.Fault() == nil {
		t.Error("Fault() = nil, want division-by-zero error")
	}
}

func TestLoadGlobalBindsConstantPointer(t *testing.T) {
	global := memory.New(addrspace.Global, 0)
	addr, err := global.Allocate(4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := global.Store(addr, []byte{7, 0, 0, 0}, plugin.Origin{}); err != nil {
		t.Fatalf("store: %v", err)
	}

	fn := &program.Function{Name: "readlut"}
	b := program.NewBuilder(fn)
	b.LoadGlobal(0, 0)
	b.Load(1, 0, 0, 4)
	b.Return()

	globals := map[int]value.TypedValue{0: value.FromUint64(8, addr)}
	it := New(ID3{}, ID3{}, ID3{}, fn, nil, globals, nil, global, nil)
	it.Run()

	if it.State() != Finished {
		t.Fatalf("State() = %v, want Finished (fault=%v)", it.State(), it.Fault())
	}
	if got := it.reg(1).Uint64(); got != 7 {
		t.Errorf("loaded value = %d, want 7", got)
	}
}

func TestGetGlobalIDReturnsIdentity(t *testing.T) {
	fn := &program.Function{Name: "ident"}
	b := program.NewBuilder(fn)
	b.GetGlobalID(0, 1)
	b.Return()

	it := New(ID3{3, 9, 1}, ID3{}, ID3{}, fn, nil, nil, nil, nil, nil)
	it.Run()

	if got := it.reg(0).Uint64(); got != 9 {
		t.Errorf("get_global_id(1) = %d, want 9", got)
	}
}
