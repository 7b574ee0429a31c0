// Package program is the narrow inbound interface the kernel execution
// engine consumes from an IR-loading front end (parsing, linking, and
// verification are explicitly out of scope for this engine). It also
// ships a small concrete instruction set — grounded in the teacher's
// register-based MIR — as the reference implementation of that
// interface, so the engine is testable end to end without a real OpenCL
// C front end.
package program

import "github.com/oclgrind/oclgrind-go/pkg/addrspace"

// Type describes the shape of a parameter, local, or global: its element
// size in bytes and, for vector types, its lane count.
type Type struct {
	ElemSize int
	Count    int // 1 for scalars, >1 for vectors (e.g. float4 -> 4)
}

// Size is the total byte size of one value of this type.
func (t Type) Size() int { return t.ElemSize * t.Count }

// Param is one ordered formal parameter of a kernel function, carrying a
// type and an address-space tag (private/local/global/constant).
type Param struct {
	Name  string
	Type  Type
	Space addrspace.AddressSpace
}

// Global is a module-scope variable. Constant-tagged globals additionally
// carry an Init value (either a single element for primitives, or a
// []int64/[]float32-shaped slice for arrays; nested aggregates are an
// UnhandledConstant shape the kernel logs and skips).
type Global struct {
	Name  string
	Type  Type
	Space addrspace.AddressSpace
	Const bool
	Init  interface{}
}

// Register names a virtual register in a function's register file.
type Register int

// Instruction is one SSA-style operation. Not every field is meaningful
// for every Op; see the Op doc comments.
type Instruction struct {
	Op   Opcode
	Dest Register
	Src1 Register
	Src2 Register
	Imm  int64

	// Target is the instruction index a jump transfers control to.
	Target int

	// ParamIndex/GlobalIndex name the formal parameter or module-scope
	// global a LoadParam/LoadGlobal instruction reads.
	ParamIndex  int
	GlobalIndex int

	// Size is the width, in bytes, of a Load/Store access. Atomic*
	// accesses always cover one 32-bit word.
	Size int

	// Dim selects the 0/1/2 dimension for GetGlobalID/GetLocalID/
	// GetGroupID.
	Dim int

	// Flags carries barrier fence flags (bit 0 = local, bit 1 = global).
	// On Load/Store/Atomic* it selects the memory region instead:
	// int(addrspace.Local) for local memory, anything else for global.
	Flags int

	Comment string
}

// Function is one kernel or helper function's control-flow-flattened
// instruction stream.
type Function struct {
	Name         string
	Params       []Param
	Instructions []Instruction
}

// Metadata captures the module-level facts a Kernel needs at construction
// time beyond the function body itself.
type Metadata struct {
	// ReqdWorkGroupSize, if non-zero in a dimension, is the
	// reqd_work_group_size attribute for this kernel; (0,0,0) means
	// unconstrained.
	ReqdWorkGroupSize [3]int
}

// Module is the compiled program: its functions, its module-scope
// variables, and per-kernel metadata, exactly the shape the inbound
// interface in the engine's external-interfaces contract describes.
type Module struct {
	Name      string
	Functions []*Function
	Globals   []Global
	Metadata  map[string]Metadata // keyed by kernel function name
}

// FunctionByName looks up a function by name.
func (m *Module) FunctionByName(name string) (*Function, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// MetadataFor returns the kernel metadata for name, or the zero value
// (unconstrained work-group size) if none was recorded.
func (m *Module) MetadataFor(name string) Metadata {
	if m.Metadata == nil {
		return Metadata{}
	}
	return m.Metadata[name]
}
