// Package memory implements the flat, byte-addressable, tagged-allocation
// region that backs each of the simulator's four address spaces.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
)

// Fault sentinels — the region never panics or produces undefined
// behaviour on a bad access; every failure mode is one of these.
var (
	ErrInvalidAddress = errors.New("memory: invalid address")
	ErrUnaligned      = errors.New("memory: unaligned access")
	ErrOutOfMemory    = errors.New("memory: out of memory")
)

type allocation struct {
	base uint64
	size uint64
	live bool
}

// Region is a logically contiguous byte space with a bump allocator that
// returns opaque addresses; allocations never alias across live ranges.
// One Region instance backs exactly one of the four OpenCL address
// spaces, named by Space, which is attached to every event the region
// publishes to Bus.
type Region struct {
	mu       sync.Mutex
	space    addrspace.AddressSpace
	bus      *plugin.Bus
	capacity uint64 // 0 means unbounded
	cursor   uint64
	bytes    []byte
	allocs   []*allocation // sorted by base
}

// New creates an empty region of the given address space. capacity, if
// non-zero, caps the total bytes the bump allocator may hand out before
// Allocate fails with ErrOutOfMemory. The region has no bus and publishes
// nothing (work-items use it for their private regions); NewObserved
// creates a region that publishes its events.
func New(space addrspace.AddressSpace, capacity int) *Region {
	return &Region{
		space:    space,
		capacity: uint64(capacity),
		bytes:    make([]byte, 0, capacity),
	}
}

// NewObserved creates a region that publishes memoryAllocated/
// memoryDeallocated events to bus.
func NewObserved(space addrspace.AddressSpace, capacity int, bus *plugin.Bus) *Region {
	r := New(space, capacity)
	r.bus = bus
	return r
}

// Space reports the address space this region backs.
func (r *Region) Space() addrspace.AddressSpace { return r.space }

// Allocate reserves a fresh byte range, returning its base address. The
// range never overlaps any other live allocation in this region.
func (r *Region) Allocate(size int) (uint64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("memory: allocate size must be positive, got %d", size)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	newCursor := r.cursor + uint64(size)
	if r.capacity != 0 && newCursor > r.capacity {
		return 0, fmt.Errorf("memory: allocate %d bytes at %d exceeds capacity %d: %w", size, r.cursor, r.capacity, ErrOutOfMemory)
	}

	base := r.cursor
	r.cursor = newCursor
	if int(newCursor) > cap(r.bytes) {
		grown := make([]byte, newCursor)
		copy(grown, r.bytes)
		r.bytes = grown
	} else {
		r.bytes = r.bytes[:newCursor]
	}

	a := &allocation{base: base, size: uint64(size), live: true}
	idx, _ := slices.BinarySearchFunc(r.allocs, base, func(a *allocation, base uint64) int {
		switch {
		case a.base < base:
			return -1
		case a.base > base:
			return 1
		default:
			return 0
		}
	})
	r.allocs = slices.Insert(r.allocs, idx, a)

	r.publishAllocated(base, size)
	return base, nil
}

// Deallocate frees the live allocation beginning at addr. Freeing an
// address that is not the base of a live allocation, or double-freeing,
// yields ErrInvalidAddress.
func (r *Region) Deallocate(addr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.findLiveBase(addr)
	if a == nil {
		return fmt.Errorf("memory: deallocate %#x: %w", addr, ErrInvalidAddress)
	}
	a.live = false
	r.publishDeallocated(a.base, int(a.size))
	return nil
}

func (r *Region) findLiveBase(addr uint64) *allocation {
	for _, a := range r.allocs {
		if a.base == addr {
			if !a.live {
				return nil
			}
			return a
		}
	}
	return nil
}

// findContaining returns the live allocation fully containing
// [addr, addr+size), or nil.
func (r *Region) findContaining(addr uint64, size uint64) *allocation {
	// allocs is sorted by base; find the last allocation whose base <= addr.
	idx, found := slices.BinarySearchFunc(r.allocs, addr, func(a *allocation, addr uint64) int {
		switch {
		case a.base < addr:
			return -1
		case a.base > addr:
			return 1
		default:
			return 0
		}
	})
	if !found {
		idx--
	}
	if idx < 0 || idx >= len(r.allocs) {
		return nil
	}
	a := r.allocs[idx]
	if !a.live {
		return nil
	}
	if addr < a.base || addr+size > a.base+a.size {
		return nil
	}
	return a
}

func checkAlignment(addr uint64, size int) error {
	if size > 1 && addr%uint64(size) != 0 {
		return fmt.Errorf("memory: access at %#x of size %d: %w", addr, size, ErrUnaligned)
	}
	return nil
}

// Load reads exactly size bytes starting at addr. origin attributes the
// access for the memoryLoad/hostMemoryLoad event.
func (r *Region) Load(addr uint64, size int, origin plugin.Origin) ([]byte, error) {
	if err := checkAlignment(addr, size); err != nil {
		return nil, err
	}
	r.mu.Lock()
	a := r.findContaining(addr, uint64(size))
	if a == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("memory: load %#x size %d: %w", addr, size, ErrInvalidAddress)
	}
	out := make([]byte, size)
	copy(out, r.bytes[addr:addr+uint64(size)])
	r.mu.Unlock()

	r.publishLoad(addr, size, origin)
	return out, nil
}

// Store writes exactly len(data) bytes starting at addr. origin
// attributes the access for the memoryStore/hostMemoryStore event.
func (r *Region) Store(addr uint64, data []byte, origin plugin.Origin) error {
	size := len(data)
	if err := checkAlignment(addr, size); err != nil {
		return err
	}
	r.mu.Lock()
	a := r.findContaining(addr, uint64(size))
	if a == nil {
		r.mu.Unlock()
		return fmt.Errorf("memory: store %#x size %d: %w", addr, size, ErrInvalidAddress)
	}
	copy(r.bytes[addr:addr+uint64(size)], data)
	r.mu.Unlock()

	r.publishStore(addr, size, origin)
	return nil
}

// Size reports the total number of bytes handed out by Allocate so far.
func (r *Region) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.cursor)
}

func (r *Region) publishAllocated(base uint64, size int) {
	if r.bus == nil {
		return
	}
	r.bus.NotifyMemoryAllocated(plugin.AllocationEvent{Space: r.space, Address: base, Size: size})
}

func (r *Region) publishDeallocated(base uint64, size int) {
	if r.bus == nil {
		return
	}
	r.bus.NotifyMemoryDeallocated(plugin.AllocationEvent{Space: r.space, Address: base, Size: size})
}

func (r *Region) publishLoad(addr uint64, size int, origin plugin.Origin) {
	if r.bus == nil {
		return
	}
	e := plugin.MemoryEvent{Space: r.space, Origin: origin, Address: addr, Size: size}
	if origin.Kind == plugin.OriginHost {
		r.bus.NotifyHostMemoryLoad(e)
	} else {
		r.bus.NotifyMemoryLoad(e)
	}
}

func (r *Region) publishStore(addr uint64, size int, origin plugin.Origin) {
	if r.bus == nil {
		return
	}
	e := plugin.MemoryEvent{Space: r.space, Origin: origin, Address: addr, Size: size}
	if origin.Kind == plugin.OriginHost {
		r.bus.NotifyHostMemoryStore(e)
	} else {
		r.bus.NotifyMemoryStore(e)
	}
}

// --- little-endian word helpers used by both plain and atomic access ---

func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func putLE32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
