// Package workitem implements the per-work-item interpreter: private
// memory, a register file, and a fetch-execute-retire loop that steps
// one instruction at a time so a work-group scheduler can interleave
// items at barriers.
package workitem

import (
	"fmt"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/memory"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/program"
	"github.com/oclgrind/oclgrind-go/pkg/value"
)

// State is the work-item's coarse lifecycle position.
type State uint8

const (
	Ready State = iota
	AtBarrier
	Finished
	Faulted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case AtBarrier:
		return "at_barrier"
	case Finished:
		return "finished"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Item is one work-item: its identity, private memory, register file,
// and program counter. It executes against a Snapshot of kernel argument
// bindings and a shared pointer to the enclosing work-group's local
// memory and the device's global memory.
type Item struct {
	Global ID3
	Local  ID3
	Group  ID3

	fn      *program.Function
	params  []value.TypedValue
	globals map[int]value.TypedValue

	private *memory.Region
	local   *memory.Region
	global  *memory.Region
	bus     *plugin.Bus

	registers map[program.Register]value.TypedValue
	pc        int
	state     State
	fault     error
	barrierFlags int
}

// ID3 is a 3-dimensional work-item or work-group identity.
type ID3 [3]int

// New constructs a work-item ready to execute fn from instruction 0.
// params/globals are the kernel's snapshot bindings (already cloned once
// per launch by kernel.Snapshot, and here cloned again per item so no
// two items alias a private copy of a by-value argument).
func New(global, local, group ID3, fn *program.Function, params []value.TypedValue, globals map[int]value.TypedValue, localMem *memory.Region, globalMem *memory.Region, bus *plugin.Bus) *Item {
	ownParams := make([]value.TypedValue, len(params))
	for i, p := range params {
		ownParams[i] = p.Clone()
	}
	it := &Item{
		Global:    global,
		Local:     local,
		Group:     group,
		fn:        fn,
		params:    ownParams,
		globals:   globals,
		private:   memory.New(addrspace.Private, 0),
		local:     localMem,
		global:    globalMem,
		bus:       bus,
		registers: make(map[program.Register]value.TypedValue),
		state:     Ready,
	}
	return it
}

// State reports the item's current lifecycle position.
func (it *Item) State() State { return it.state }

// Fault returns the error that moved the item to Faulted, or nil.
func (it *Item) Fault() error { return it.fault }

// BarrierFlags returns the fence flags of the barrier this item is
// currently waiting at. Meaningful only when State() == AtBarrier.
func (it *Item) BarrierFlags() int { return it.barrierFlags }

func (it *Item) origin() plugin.Origin {
	return plugin.Origin{Kind: plugin.OriginItem, Item: plugin.ID(it.Global), Group: plugin.ID(it.Group)}
}

// Run executes instructions until the item finishes, faults, or reaches
// a barrier.
func (it *Item) Run() {
	for it.state == Ready {
		it.Step()
	}
}

// Step retires exactly one instruction. Calling Step on an item that is
// not Ready is a no-op.
func (it *Item) Step() {
	if it.state != Ready {
		return
	}
	if it.pc < 0 || it.pc >= len(it.fn.Instructions) {
		it.state = Finished
		it.publishComplete()
		return
	}
	insn := it.fn.Instructions[it.pc]
	next := it.pc + 1

	switch insn.Op {
	case program.OpNop:
		// nothing

	case program.OpLoadConst:
		it.setReg(insn.Dest, value.FromUint64(8, uint64(insn.Imm)))

	case program.OpLoadParam:
		if insn.ParamIndex < 0 || insn.ParamIndex >= len(it.params) {
			it.fault_(fmt.Errorf("workitem: load_param index %d out of range", insn.ParamIndex))
			return
		}
		it.setReg(insn.Dest, it.params[insn.ParamIndex].Clone())

	case program.OpLoadGlobal:
		g, ok := it.globals[insn.GlobalIndex]
		if !ok {
			it.fault_(fmt.Errorf("workitem: load_global index %d has no binding", insn.GlobalIndex))
			return
		}
		it.setReg(insn.Dest, g.Clone())

	case program.OpMove:
		it.setReg(insn.Dest, it.reg(insn.Src1).Clone())

	case program.OpGetGlobalID:
		it.setReg(insn.Dest, value.FromUint64(8, uint64(it.dim(it.Global, insn.Dim))))
	case program.OpGetLocalID:
		it.setReg(insn.Dest, value.FromUint64(8, uint64(it.dim(it.Local, insn.Dim))))
	case program.OpGetGroupID:
		it.setReg(insn.Dest, value.FromUint64(8, uint64(it.dim(it.Group, insn.Dim))))

	case program.OpAdd, program.OpSub, program.OpMul, program.OpDiv, program.OpMod,
		program.OpAnd, program.OpOr, program.OpXor, program.OpShl, program.OpShr:
		if !it.binaryArith(insn) {
			return
		}

	case program.OpNot:
		it.setReg(insn.Dest, value.FromUint64(8, ^it.reg(insn.Src1).Uint64()))
	case program.OpNeg:
		it.setReg(insn.Dest, value.FromUint64(8, uint64(-int64(it.reg(insn.Src1).Uint64()))))

	case program.OpEq, program.OpNe, program.OpLt, program.OpGt, program.OpLe, program.OpGe:
		it.compare(insn)

	case program.OpJump:
		next = insn.Target
	case program.OpJumpIf:
		if it.reg(insn.Src1).Uint64() != 0 {
			next = insn.Target
		}
	case program.OpJumpIfNot:
		if it.reg(insn.Src1).Uint64() == 0 {
			next = insn.Target
		}
	case program.OpReturn:
		it.state = Finished
		it.publishComplete()
		return

	case program.OpLoad:
		if !it.load(insn) {
			return
		}
	case program.OpStore:
		if !it.store(insn) {
			return
		}

	case program.OpAtomicAdd, program.OpAtomicSub, program.OpAtomicInc, program.OpAtomicDec,
		program.OpAtomicMin, program.OpAtomicMax, program.OpAtomicAnd, program.OpAtomicOr,
		program.OpAtomicXor, program.OpAtomicXchg, program.OpAtomicCmpxchg,
		program.OpAtomicLoad, program.OpAtomicStore:
		if !it.atomic(insn) {
			return
		}

	case program.OpBarrier:
		it.barrierFlags = insn.Flags
		it.state = AtBarrier
		it.pc = next
		return

	default:
		it.fault_(fmt.Errorf("workitem: unknown opcode %v", insn.Op))
		return
	}

	it.publishInstruction(insn)
	it.pc = next
}

// Release transitions an item waiting AtBarrier back to Ready so the
// owning work-group can resume it after every item has reached the
// barrier.
func (it *Item) Release() {
	if it.state == AtBarrier {
		it.state = Ready
	}
}

func (it *Item) dim(id ID3, d int) int {
	if d < 0 || d > 2 {
		return 0
	}
	return id[d]
}

func (it *Item) reg(r program.Register) value.TypedValue {
	v, ok := it.registers[r]
	if !ok {
		return value.New(8, 1)
	}
	return v
}

func (it *Item) setReg(r program.Register, v value.TypedValue) {
	it.registers[r] = v
}

func (it *Item) fault_(err error) {
	it.state = Faulted
	it.fault = err
	it.publishComplete()
}

func (it *Item) binaryArith(insn program.Instruction) bool {
	a := it.reg(insn.Src1).Uint64()
	b := it.reg(insn.Src2).Uint64()
	var out uint64
	switch insn.Op {
	case program.OpAdd:
		out = a + b
	case program.OpSub:
		out = a - b
	case program.OpMul:
		out = a * b
	case program.OpDiv:
		if b == 0 {
			it.fault_(fmt.Errorf("workitem: division by zero"))
			return false
		}
		out = a / b
	case program.OpMod:
		if b == 0 {
			it.fault_(fmt.Errorf("workitem: modulo by zero"))
			return false
		}
		out = a % b
	case program.OpAnd:
		out = a & b
	case program.OpOr:
		out = a | b
	case program.OpXor:
		out = a ^ b
	case program.OpShl:
		out = a << (b & 63)
	case program.OpShr:
		out = a >> (b & 63)
	}
	it.setReg(insn.Dest, value.FromUint64(8, out))
	return true
}

func (it *Item) compare(insn program.Instruction) {
	a := it.reg(insn.Src1).Uint64()
	b := it.reg(insn.Src2).Uint64()
	var result bool
	switch insn.Op {
	case program.OpEq:
		result = a == b
	case program.OpNe:
		result = a != b
	case program.OpLt:
		result = a < b
	case program.OpGt:
		result = a > b
	case program.OpLe:
		result = a <= b
	case program.OpGe:
		result = a >= b
	}
	v := uint64(0)
	if result {
		v = 1
	}
	it.setReg(insn.Dest, value.FromUint64(8, v))
}

func (it *Item) load(insn program.Instruction) bool {
	base := it.reg(insn.Src1).Uint64()
	addr := base + uint64(insn.Imm)
	region := it.regionForInstruction(insn)
	data, err := region.Load(addr, insn.Size, it.origin())
	if err != nil {
		it.fault_(fmt.Errorf("workitem: load: %w", err))
		return false
	}
	it.setReg(insn.Dest, value.FromBytes(insn.Size, 1, data))
	return true
}

func (it *Item) store(insn program.Instruction) bool {
	base := it.reg(insn.Dest).Uint64()
	addr := base + uint64(insn.Imm)
	data := it.reg(insn.Src1).Bytes()
	if len(data) > insn.Size {
		data = data[:insn.Size]
	}
	region := it.regionForInstruction(insn)
	if err := region.Store(addr, data, it.origin()); err != nil {
		it.fault_(fmt.Errorf("workitem: store: %w", err))
		return false
	}
	return true
}

// regionForInstruction picks Global as the default region for Load/Store
// (the overwhelmingly common case) unless the instruction's Flags field
// tags it as addressing Local memory; Private-space loads/stores are
// never emitted by the reference builder (private values live only in
// registers), but the private region exists so a richer front end could
// target it.
func (it *Item) regionForInstruction(insn program.Instruction) *memory.Region {
	if insn.Flags == int(addrspace.Local) {
		return it.local
	}
	return it.global
}

func (it *Item) atomic(insn program.Instruction) bool {
	addr := it.reg(insn.Src1).Uint64()
	region := it.regionForInstruction(insn)
	origin := it.origin()

	var old uint32
	var err error
	switch insn.Op {
	case program.OpAtomicLoad:
		old, err = region.AtomicLoad(addr, origin)
	case program.OpAtomicStore:
		err = region.AtomicStore(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicAdd:
		old, err = region.AtomicAdd(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicSub:
		old, err = region.AtomicSub(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicInc:
		old, err = region.AtomicInc(addr, origin)
	case program.OpAtomicDec:
		old, err = region.AtomicDec(addr, origin)
	case program.OpAtomicMin:
		old, err = region.AtomicMin(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicMax:
		old, err = region.AtomicMax(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicAnd:
		old, err = region.AtomicAnd(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicOr:
		old, err = region.AtomicOr(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicXor:
		old, err = region.AtomicXor(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicXchg:
		old, err = region.AtomicXchg(addr, uint32(it.reg(insn.Src2).Uint64()), origin)
	case program.OpAtomicCmpxchg:
		// Src2 holds the compare value; the new value travels in Imm
		// since cmpxchg needs three operands and instructions carry two
		// register sources.
		old, _, err = region.AtomicCmpxchg(addr, uint32(it.reg(insn.Src2).Uint64()), uint32(insn.Imm), origin)
	}
	if err != nil {
		it.fault_(fmt.Errorf("workitem: atomic: %w", err))
		return false
	}
	if insn.Op != program.OpAtomicStore {
		it.setReg(insn.Dest, value.FromUint64(4, uint64(old)))
	}
	return true
}

func (it *Item) publishInstruction(insn program.Instruction) {
	if it.bus == nil {
		return
	}
	it.bus.NotifyInstructionExecuted(plugin.InstructionEvent{
		Item: plugin.ID(it.Global),
		PC:   it.pc,
		Text: insn.Op.String(),
	})
}

func (it *Item) publishComplete() {
	if it.bus == nil {
		return
	}
	it.bus.NotifyWorkItemComplete(plugin.ItemEvent{
		Item:  plugin.ID(it.Global),
		Group: plugin.ID(it.Group),
		State: it.state.String(),
	})
}
