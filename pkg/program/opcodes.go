package program

// Opcode is one instruction kind the work-item interpreter understands.
// This is the concrete reference instruction set; the engine itself is
// written against the abstract "execute one instruction" contract (see
// workitem.Step), so a front end could substitute its own richer set
// without touching the scheduler, memory model, or plugin bus.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Data movement
	OpLoadConst  // Dest = Imm
	OpLoadParam  // Dest = bound value of Params[ParamIndex]
	OpLoadGlobal // Dest = bound pointer value of Globals[GlobalIndex]
	OpMove       // Dest = Src1

	// Identity queries (per spec §3 Work-item identity)
	OpGetGlobalID // Dest = gid(Dim)
	OpGetLocalID  // Dest = lid(Dim)
	OpGetGroupID  // Dest = group_id(Dim)

	// Arithmetic / bitwise
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNot
	OpNeg

	// Comparison: Dest = (Src1 op Src2) ? 1 : 0
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe

	// Control flow
	OpJump
	OpJumpIf    // if Src1 != 0, pc = Target
	OpJumpIfNot // if Src1 == 0, pc = Target
	OpReturn

	// Memory: the address is a pointer register plus Imm. The region it
	// resolves against is chosen by Flags alone: int(addrspace.Local)
	// selects the work-group's local region, any other value the global
	// region. The address space of the Param/Global the pointer was bound
	// from is not consulted.
	OpLoad  // Dest = *(Src1 + Imm), Size bytes
	OpStore // *(Dest + Imm) = Src1, Size bytes

	// Atomics against a 32-bit word at address Src1
	OpAtomicAdd
	OpAtomicSub
	OpAtomicInc
	OpAtomicDec
	OpAtomicMin
	OpAtomicMax
	OpAtomicAnd
	OpAtomicOr
	OpAtomicXor
	OpAtomicXchg
	OpAtomicCmpxchg
	OpAtomicLoad
	OpAtomicStore

	// Synchronization
	OpBarrier // suspend at a barrier with fence Flags
)

func (op Opcode) String() string {
	names := [...]string{
		"nop", "load_const", "load_param", "load_global", "move",
		"get_global_id", "get_local_id", "get_group_id",
		"add", "sub", "mul", "div", "mod", "and", "or", "xor", "shl", "shr", "not", "neg",
		"eq", "ne", "lt", "gt", "le", "ge",
		"jump", "jump_if", "jump_if_not", "return",
		"load", "store",
		"atomic_add", "atomic_sub", "atomic_inc", "atomic_dec", "atomic_min", "atomic_max",
		"atomic_and", "atomic_or", "atomic_xor", "atomic_xchg", "atomic_cmpxchg",
		"atomic_load", "atomic_store",
		"barrier",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "unknown"
}

// Builder accumulates instructions for one Function, mirroring the
// teacher's Emit-style helpers on ir.Function.
type Builder struct {
	fn *Function
}

// NewBuilder starts building a function's instruction stream.
func NewBuilder(fn *Function) *Builder { return &Builder{fn: fn} }

func (b *Builder) emit(i Instruction) int {
	b.fn.Instructions = append(b.fn.Instructions, i)
	return len(b.fn.Instructions) - 1
}

func (b *Builder) LoadConst(dest Register, imm int64) int {
	return b.emit(Instruction{Op: OpLoadConst, Dest: dest, Imm: imm})
}

func (b *Builder) LoadParam(dest Register, paramIndex int) int {
	return b.emit(Instruction{Op: OpLoadParam, Dest: dest, ParamIndex: paramIndex})
}

func (b *Builder) LoadGlobal(dest Register, globalIndex int) int {
	return b.emit(Instruction{Op: OpLoadGlobal, Dest: dest, GlobalIndex: globalIndex})
}

func (b *Builder) GetGlobalID(dest Register, dim int) int {
	return b.emit(Instruction{Op: OpGetGlobalID, Dest: dest, Dim: dim})
}

func (b *Builder) GetLocalID(dest Register, dim int) int {
	return b.emit(Instruction{Op: OpGetLocalID, Dest: dest, Dim: dim})
}

func (b *Builder) GetGroupID(dest Register, dim int) int {
	return b.emit(Instruction{Op: OpGetGroupID, Dest: dest, Dim: dim})
}

func (b *Builder) Bin(op Opcode, dest, src1, src2 Register) int {
	return b.emit(Instruction{Op: op, Dest: dest, Src1: src1, Src2: src2})
}

func (b *Builder) Load(dest, ptr Register, offset int64, size int) int {
	return b.emit(Instruction{Op: OpLoad, Dest: dest, Src1: ptr, Imm: offset, Size: size})
}

func (b *Builder) Store(ptr, value Register, offset int64, size int) int {
	return b.emit(Instruction{Op: OpStore, Dest: ptr, Src1: value, Imm: offset, Size: size})
}

func (b *Builder) Atomic(op Opcode, dest, ptr, operand Register) int {
	return b.emit(Instruction{Op: op, Dest: dest, Src1: ptr, Src2: operand})
}

func (b *Builder) Barrier(flags int) int {
	return b.emit(Instruction{Op: OpBarrier, Flags: flags})
}

func (b *Builder) Jump(target int) int {
	return b.emit(Instruction{Op: OpJump, Target: target})
}

func (b *Builder) JumpIf(cond Register, target int) int {
	return b.emit(Instruction{Op: OpJumpIf, Src1: cond, Target: target})
}

func (b *Builder) JumpIfNot(cond Register, target int) int {
	return b.emit(Instruction{Op: OpJumpIfNot, Src1: cond, Target: target})
}

func (b *Builder) Return() int {
	return b.emit(Instruction{Op: OpReturn})
}

// Len reports the current instruction count, useful for computing jump
// targets before the jump's destination has been emitted.
func (b *Builder) Len() int { return len(b.fn.Instructions) }
