// Package demo builds small, self-contained program.Module values used
// by the oclgrind-sim command and exercised by the engine's own test
// scenarios: a plain element-wise copy, a local-memory reduction that
// crosses a barrier, an atomic histogram, and a constant-lookup kernel.
package demo

import (
	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/program"
)

// Copy builds out[i] = in[i] for one int32 element per work-item.
func Copy() *program.Module {
	fn := &program.Function{
		Name: "copy",
		Params: []program.Param{
			{Name: "in", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
			{Name: "out", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
		},
	}
	b := program.NewBuilder(fn)
	b.GetGlobalID(0, 0)
	b.LoadConst(1, 4)
	b.Bin(program.OpMul, 2, 0, 1)
	b.LoadParam(3, 0)
	b.LoadParam(4, 1)
	b.Bin(program.OpAdd, 5, 3, 2)
	b.Bin(program.OpAdd, 6, 4, 2)
	b.Load(7, 5, 0, 4)
	b.Store(6, 7, 0, 4)
	b.Return()
	return &program.Module{Name: "copy_module", Functions: []*program.Function{fn}}
}

// GroupSum builds a kernel that stages in[local_id] into a local buffer,
// barriers so every item's store is visible, then has item 0 of each
// group write the sum of its group's local buffer to out[group_id].
func GroupSum(groupSize int) *program.Module {
	fn := &program.Function{
		Name: "group_sum",
		Params: []program.Param{
			{Name: "in", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
			{Name: "out", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
			{Name: "scratch", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Local},
		},
	}
	b := program.NewBuilder(fn)

	// scratch[local_id] = in[global_id]
	b.GetLocalID(0, 0)
	b.GetGlobalID(1, 0)
	b.LoadConst(2, 4)
	b.Bin(program.OpMul, 3, 0, 2) // local byte offset
	b.Bin(program.OpMul, 4, 1, 2) // global byte offset
	b.LoadParam(5, 0)             // in ptr
	b.LoadParam(6, 2)             // scratch ptr (local)
	b.Bin(program.OpAdd, 7, 5, 4) // &in[global_id]
	b.Bin(program.OpAdd, 8, 6, 3) // &scratch[local_id]
	b.Load(9, 7, 0, 4)
	st := b.Store(8, 9, 0, 4)
	fn.Instructions[st].Flags = int(addrspace.Local)
	b.Barrier(1) // fence local memory

	// Only local_id == 0 reduces and writes out[group_id]; every other
	// item jumps straight to the return.
	b.LoadConst(10, 0)
	b.Bin(program.OpEq, 11, 0, 10)
	skipJump := b.JumpIfNot(11, 0) // placeholder target, patched below

	b.LoadConst(12, 0) // accumulator
	for i := 0; i < groupSize; i++ {
		b.LoadConst(13, int64(i*4))
		b.Bin(program.OpAdd, 14, 6, 13)
		ld := b.Load(15, 14, 0, 4)
		fn.Instructions[ld].Flags = int(addrspace.Local)
		b.Bin(program.OpAdd, 12, 12, 15)
	}
	b.GetGroupID(16, 0)
	b.LoadConst(17, 4)
	b.Bin(program.OpMul, 18, 16, 17)
	b.LoadParam(19, 1)
	b.Bin(program.OpAdd, 20, 19, 18)
	b.Store(20, 12, 0, 4)

	end := b.Return()
	fn.Instructions[skipJump].Target = end
	return &program.Module{Name: "group_sum_module", Functions: []*program.Function{fn}}
}

// AtomicHistogram builds a kernel where every work-item increments
// bucket[in[global_id] % numBuckets] using an atomic add, exercising
// linearizable atomics across concurrently scheduled work-groups.
func AtomicHistogram(numBuckets int) *program.Module {
	fn := &program.Function{
		Name: "atomic_histogram",
		Params: []program.Param{
			{Name: "in", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
			{Name: "buckets", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
		},
	}
	b := program.NewBuilder(fn)
	b.GetGlobalID(0, 0)
	b.LoadConst(1, 4)
	b.Bin(program.OpMul, 2, 0, 1)
	b.LoadParam(3, 0)
	b.Bin(program.OpAdd, 4, 3, 2)
	b.Load(5, 4, 0, 4) // in[gid]
	b.LoadConst(6, int64(numBuckets))
	b.Bin(program.OpMod, 7, 5, 6) // bucket index
	b.LoadConst(8, 4)
	b.Bin(program.OpMul, 9, 7, 8) // bucket byte offset
	b.LoadParam(10, 1)
	b.Bin(program.OpAdd, 11, 10, 9)
	b.LoadConst(12, 1)
	b.Atomic(program.OpAtomicAdd, 13, 11, 12) // buckets[index]++
	b.Return()
	return &program.Module{Name: "atomic_histogram_module", Functions: []*program.Function{fn}}
}

// ConstantLookup builds a kernel that reads a module-scope constant
// lookup table and writes lut[in[global_id]] to out[global_id].
func ConstantLookup(lut []int64) *program.Module {
	fn := &program.Function{
		Name: "constant_lookup",
		Params: []program.Param{
			{Name: "in", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
			{Name: "out", Type: program.Type{ElemSize: 4, Count: 1}, Space: addrspace.Global},
		},
	}
	b := program.NewBuilder(fn)
	b.GetGlobalID(0, 0)
	b.LoadConst(1, 4)
	b.Bin(program.OpMul, 2, 0, 1)
	b.LoadParam(3, 0)
	b.Bin(program.OpAdd, 4, 3, 2)
	b.Load(5, 4, 0, 4) // index = in[gid]
	b.LoadGlobal(6, 0) // lut base pointer
	b.LoadConst(7, 4)
	b.Bin(program.OpMul, 8, 5, 7)
	b.Bin(program.OpAdd, 9, 6, 8)
	b.Load(10, 9, 0, 4)
	b.GetGlobalID(11, 0)
	b.Bin(program.OpMul, 12, 11, 7)
	b.LoadParam(13, 1)
	b.Bin(program.OpAdd, 14, 13, 12)
	b.Store(14, 10, 0, 4)
	b.Return()

	return &program.Module{
		Name:      "constant_lookup_module",
		Functions: []*program.Function{fn},
		Globals: []program.Global{
			{Name: "lut", Type: program.Type{ElemSize: 4, Count: len(lut)}, Space: addrspace.Constant, Const: true, Init: lut},
		},
	}
}
