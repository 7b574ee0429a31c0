package memory

import (
	"fmt"

	"github.com/oclgrind/oclgrind-go/pkg/plugin"
)

const atomicWordSize = 4

// atomicRMW performs a single indivisible read-modify-write of the 32-bit
// word at addr, applying f to the current value to obtain the new value.
// Concurrent atomics on the same word are linearizable because they all
// take the region's single mutex for the whole read-modify-write.
func (r *Region) atomicRMW(addr uint64, op string, origin plugin.Origin, f func(old uint32) uint32) (old, new uint32, err error) {
	if err := checkAlignment(addr, atomicWordSize); err != nil {
		return 0, 0, err
	}
	r.mu.Lock()
	a := r.findContaining(addr, atomicWordSize)
	if a == nil {
		r.mu.Unlock()
		return 0, 0, fmt.Errorf("memory: atomic %s %#x: %w", op, addr, ErrInvalidAddress)
	}
	word := r.bytes[addr : addr+atomicWordSize]
	old = le32(word)
	new = f(old)
	putLE32(word, new)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.NotifyMemoryAtomicStore(plugin.AtomicEvent{Space: r.space, Origin: origin, Address: addr, Op: op, Old: old, New: new})
	}
	return old, new, nil
}

// AtomicLoad reads the 32-bit word at addr as a single indivisible
// operation (relative to other atomics on the same word).
func (r *Region) AtomicLoad(addr uint64, origin plugin.Origin) (uint32, error) {
	if err := checkAlignment(addr, atomicWordSize); err != nil {
		return 0, err
	}
	r.mu.Lock()
	a := r.findContaining(addr, atomicWordSize)
	if a == nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("memory: atomic load %#x: %w", addr, ErrInvalidAddress)
	}
	v := le32(r.bytes[addr : addr+atomicWordSize])
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.NotifyMemoryAtomicLoad(plugin.AtomicEvent{Space: r.space, Origin: origin, Address: addr, Op: "load", Old: v, New: v})
	}
	return v, nil
}

// AtomicStore writes value to the 32-bit word at addr as a single
// indivisible operation.
func (r *Region) AtomicStore(addr uint64, value uint32, origin plugin.Origin) error {
	_, _, err := r.atomicRMW(addr, "store", origin, func(uint32) uint32 { return value })
	return err
}

func (r *Region) AtomicAdd(addr uint64, delta uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "add", origin, func(v uint32) uint32 { return v + delta })
	return
}

func (r *Region) AtomicSub(addr uint64, delta uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "sub", origin, func(v uint32) uint32 { return v - delta })
	return
}

func (r *Region) AtomicInc(addr uint64, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "inc", origin, func(v uint32) uint32 { return v + 1 })
	return
}

func (r *Region) AtomicDec(addr uint64, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "dec", origin, func(v uint32) uint32 { return v - 1 })
	return
}

func (r *Region) AtomicMin(addr uint64, operand uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "min", origin, func(v uint32) uint32 {
		if operand < v {
			return operand
		}
		return v
	})
	return
}

func (r *Region) AtomicMax(addr uint64, operand uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "max", origin, func(v uint32) uint32 {
		if operand > v {
			return operand
		}
		return v
	})
	return
}

func (r *Region) AtomicAnd(addr uint64, operand uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "and", origin, func(v uint32) uint32 { return v & operand })
	return
}

func (r *Region) AtomicOr(addr uint64, operand uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "or", origin, func(v uint32) uint32 { return v | operand })
	return
}

func (r *Region) AtomicXor(addr uint64, operand uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "xor", origin, func(v uint32) uint32 { return v ^ operand })
	return
}

func (r *Region) AtomicXchg(addr uint64, value uint32, origin plugin.Origin) (old uint32, err error) {
	old, _, err = r.atomicRMW(addr, "xchg", origin, func(uint32) uint32 { return value })
	return
}

// AtomicCmpxchg compares the word at addr to compare; if equal, stores
// new and reports swapped=true. Always returns the value observed before
// the operation.
func (r *Region) AtomicCmpxchg(addr uint64, compare, new uint32, origin plugin.Origin) (old uint32, swapped bool, err error) {
	old, _, err = r.atomicRMW(addr, "cmpxchg", origin, func(v uint32) uint32 {
		if v == compare {
			return new
		}
		return v
	})
	if err != nil {
		return 0, false, err
	}
	return old, old == compare, nil
}
