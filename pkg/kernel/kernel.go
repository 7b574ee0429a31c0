// Package kernel implements the kernel object: argument binding, constant
// staging, and the address-space constraints derived from kernel
// metadata, per the engine's kernel-object contract.
package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/memory"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/program"
	"github.com/oclgrind/oclgrind-go/pkg/value"
)

// ErrInvalidArgument is returned by SetArgument for an out-of-range index
// or a value whose size does not match the formal parameter.
var ErrInvalidArgument = errors.New("kernel: invalid argument")

// ErrUnhandledConstant marks a constant initializer shape the engine
// cannot serialize (e.g. a nested aggregate); the constant is logged and
// skipped rather than failing the launch.
var ErrUnhandledConstant = errors.New("kernel: unhandled constant shape")

const pointerWidth = 8 // size_t modeled as a 64-bit address throughout

// Kernel is an immutable program (one Function plus the Module it was
// drawn from) paired with mutable argument bindings, constant staging,
// and a static local-memory layout. A Kernel is not safe to launch
// concurrently from two dispatchers: SetArgument and the local-memory
// cursor mutate shared state that is only safe to snapshot, not share,
// across launches.
type Kernel struct {
	fn     *program.Function
	module *program.Module

	reqdWorkGroupSize [3]int

	paramBindings  []value.TypedValue // indexed by parameter index
	paramBound     []bool
	globalBindings map[int]value.TypedValue // indexed by program.Module.Globals index

	// localLayout replays module-scope Local globals and dynamic Local
	// pointer arguments through a bump allocator so that Device can
	// reproduce identical offsets in every work-group's real local
	// Memory region (property: local-memory cursor monotonicity).
	localLayout      *memory.Region
	localReservations []int

	constantIndices []int // indices into module.Globals that are Const
}

// New constructs a Kernel from a function and the module it belongs to.
// Construction captures the name and required-work-group-size
// constraint, reserves local-memory offsets for module-scope Local
// globals, and enumerates (but does not yet allocate) the module's
// constant globals.
func New(fn *program.Function, module *program.Module) *Kernel {
	k := &Kernel{
		fn:             fn,
		module:         module,
		paramBindings:  make([]value.TypedValue, len(fn.Params)),
		paramBound:     make([]bool, len(fn.Params)),
		globalBindings: make(map[int]value.TypedValue),
		localLayout:    memory.New(addrspace.Local, 0),
	}
	k.reqdWorkGroupSize = module.MetadataFor(fn.Name).ReqdWorkGroupSize

	for idx, g := range module.Globals {
		if g.Space == addrspace.Local {
			offset := k.reserveLocal(g.Type.Size())
			k.globalBindings[idx] = value.FromUint64(pointerWidth, offset)
		}
		if g.Const {
			k.constantIndices = append(k.constantIndices, idx)
		}
	}

	return k
}

func (k *Kernel) reserveLocal(size int) uint64 {
	offset, err := k.localLayout.Allocate(size)
	if err != nil {
		// The template region is unbounded; Allocate only fails on a
		// non-positive size, which reserveLocal's callers never pass.
		panic(fmt.Sprintf("kernel: local layout allocate: %v", err))
	}
	k.localReservations = append(k.localReservations, size)
	return offset
}

// Name is the kernel function's name.
func (k *Kernel) Name() string { return k.fn.Name }

// RequiredWorkGroupSize is the reqd_work_group_size triple, or (0,0,0) if
// unconstrained.
func (k *Kernel) RequiredWorkGroupSize() [3]int { return k.reqdWorkGroupSize }

// NumArguments is the number of formal parameters.
func (k *Kernel) NumArguments() int { return len(k.fn.Params) }

// ArgumentSize returns the pointer width for pointer parameters and the
// value width otherwise.
func (k *Kernel) ArgumentSize(i int) int {
	p := k.fn.Params[i]
	if isPointerSpace(p.Space) {
		return pointerWidth
	}
	return p.Type.Size()
}

// ArgumentAddressSpace returns the address-space tag of parameter i,
// passed through verbatim from the OpenCL enumeration.
func (k *Kernel) ArgumentAddressSpace(i int) addrspace.AddressSpace {
	return k.fn.Params[i].Space
}

// LocalMemorySize is the kernel's static local-memory size: the sum of
// every module-scope Local global's size plus every dynamic Local
// pointer argument bound so far.
func (k *Kernel) LocalMemorySize() int { return k.localLayout.Size() }

// LocalReservations returns, in reservation order, the byte size of every
// local-memory allocation the kernel has made (module-scope Local
// globals at construction, Local pointer arguments at SetArgument time).
// Device replays this list against each work-group's real local Memory
// region so that offsets agree exactly with the pointer values bound
// here.
func (k *Kernel) LocalReservations() []int {
	out := make([]int, len(k.localReservations))
	copy(out, k.localReservations)
	return out
}

// GlobalSize is the total byte size of the module's constant globals
// (the buffers AllocateConstants will reserve in the global region).
func (k *Kernel) GlobalSize() int {
	total := 0
	for _, idx := range k.constantIndices {
		total += k.module.Globals[idx].Type.Size()
	}
	return total
}

func isPointerSpace(space addrspace.AddressSpace) bool {
	switch space {
	case addrspace.Global, addrspace.Local, addrspace.Constant:
		return true
	default:
		return false
	}
}

// SetArgument binds formal parameter index. If the parameter is a Local
// pointer, value.Size() is interpreted as the requested dynamic local
// bytes: the kernel reserves a fresh local offset and binds index to a
// pointer value holding that offset, growing LocalMemorySize(), and the
// caller's byte contents are discarded (only the size is meaningful).
// Otherwise v is cloned; for vector-typed parameters, the clone is
// reshaped to the parameter's declared element size/count so later
// instruction execution sees the correct lane layout.
func (k *Kernel) SetArgument(index int, v value.TypedValue) error {
	if index < 0 || index >= len(k.fn.Params) {
		return fmt.Errorf("kernel: argument index %d out of range [0,%d): %w", index, len(k.fn.Params), ErrInvalidArgument)
	}
	p := k.fn.Params[index]

	if p.Space == addrspace.Local {
		offset := k.reserveLocal(v.Size())
		k.paramBindings[index] = value.FromUint64(pointerWidth, offset)
		k.paramBound[index] = true
		return nil
	}

	bound := v.Clone()
	if p.Type.Count > 1 && !isPointerSpace(p.Space) {
		if bound.Size() != p.Type.Size() {
			return fmt.Errorf("kernel: argument %d: size %d does not match vector type (elem=%d,count=%d): %w", index, bound.Size(), p.Type.ElemSize, p.Type.Count, ErrInvalidArgument)
		}
		bound = bound.Reshape(p.Type.ElemSize, p.Type.Count)
	} else if !isPointerSpace(p.Space) && bound.Size() != p.Type.Size() {
		return fmt.Errorf("kernel: argument %d: size %d does not match type size %d: %w", index, bound.Size(), p.Type.Size(), ErrInvalidArgument)
	}

	k.paramBindings[index] = bound
	k.paramBound[index] = true
	return nil
}

// AllArgumentsBound reports whether every formal parameter has a binding,
// the invariant Device.Run checks before a launch begins.
func (k *Kernel) AllArgumentsBound() bool {
	for _, b := range k.paramBound {
		if !b {
			return false
		}
	}
	return true
}

// AllocateConstants allocates a buffer in global for each enumerated
// constant, writes its initializer, and binds it to a pointer value.
// Constant shapes the engine cannot serialize are logged via bus as
// ErrUnhandledConstant and skipped, not fatal to the launch.
func (k *Kernel) AllocateConstants(global *memory.Region, bus *plugin.Bus) error {
	for _, idx := range k.constantIndices {
		g := k.module.Globals[idx]
		raw, err := serializeInitializer(g.Type, g.Init)
		if err != nil {
			if bus != nil {
				bus.NotifyLog(plugin.Warning, fmt.Sprintf("kernel %s: constant %q: %v", k.fn.Name, g.Name, err))
			}
			continue
		}
		addr, err := global.Allocate(g.Type.Size())
		if err != nil {
			return fmt.Errorf("kernel %s: allocate constant %q: %w", k.fn.Name, g.Name, err)
		}
		if len(raw) > 0 {
			if err := global.Store(addr, raw, plugin.Origin{}); err != nil {
				return fmt.Errorf("kernel %s: initialize constant %q: %w", k.fn.Name, g.Name, err)
			}
		}
		k.globalBindings[idx] = value.FromUint64(pointerWidth, addr)
	}
	return nil
}

// DeallocateConstants releases the buffers AllocateConstants reserved.
func (k *Kernel) DeallocateConstants(global *memory.Region) error {
	for _, idx := range k.constantIndices {
		g := k.module.Globals[idx]
		bound, ok := k.globalBindings[idx]
		if !ok {
			continue // was skipped as an unhandled shape
		}
		if err := global.Deallocate(bound.Uint64()); err != nil {
			return fmt.Errorf("kernel %s: deallocate constant %q: %w", k.fn.Name, g.Name, err)
		}
		delete(k.globalBindings, idx)
	}
	return nil
}

// serializeInitializer renders a constant's Init value to little-endian
// bytes matching typ, or ErrUnhandledConstant if the shape isn't one of
// the primitive/array forms the engine understands.
func serializeInitializer(typ program.Type, init interface{}) ([]byte, error) {
	if init == nil {
		return nil, nil
	}
	out := make([]byte, typ.Size())
	switch v := init.(type) {
	case int64:
		putScalar(out, 0, typ.ElemSize, uint64(v))
	case []int64:
		if len(v) != typ.Count {
			return nil, fmt.Errorf("%w: array length %d does not match type count %d", ErrUnhandledConstant, len(v), typ.Count)
		}
		for i, elem := range v {
			putScalar(out, i*typ.ElemSize, typ.ElemSize, uint64(elem))
		}
	case float32:
		putScalar(out, 0, typ.ElemSize, uint64(math.Float32bits(v)))
	case []float32:
		if len(v) != typ.Count {
			return nil, fmt.Errorf("%w: array length %d does not match type count %d", ErrUnhandledConstant, len(v), typ.Count)
		}
		for i, elem := range v {
			putScalar(out, i*typ.ElemSize, typ.ElemSize, uint64(math.Float32bits(elem)))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported initializer type %T", ErrUnhandledConstant, init)
	}
	return out, nil
}

func putScalar(buf []byte, offset, size int, v uint64) {
	switch size {
	case 1:
		buf[offset] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf[offset:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf[offset:], v)
	default:
		for i := 0; i < size && i < 8; i++ {
			buf[offset+i] = byte(v >> (8 * uint(i)))
		}
	}
}

// Snapshot is a value-semantic copy of a Kernel's argument bindings,
// produced at launch time so that parallel work-groups each get their
// own bindings rather than sharing the Kernel's mutable map (the source
// engine shares bindings by reference across groups; this spec requires
// snapshot-on-launch so that parallel group execution is sound).
type Snapshot struct {
	Function *program.Function
	Params   []value.TypedValue
	Globals  map[int]value.TypedValue
}

// Snapshot clones the kernel's current argument and constant bindings.
func (k *Kernel) Snapshot() Snapshot {
	params := make([]value.TypedValue, len(k.paramBindings))
	for i, v := range k.paramBindings {
		params[i] = v.Clone()
	}
	globals := make(map[int]value.TypedValue, len(k.globalBindings))
	for idx, v := range k.globalBindings {
		globals[idx] = v.Clone()
	}
	return Snapshot{Function: k.fn, Params: params, Globals: globals}
}

// Module returns the module this kernel's function belongs to.
func (k *Kernel) Module() *program.Module { return k.module }
