package memory

import (
	"errors"
	"testing"

	"github.com/oclgrind/oclgrind-go/pkg/addrspace"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
)

func TestLoadStoreRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"single byte", []byte{0x42}},
		{"four bytes", []byte{1, 2, 3, 4}},
		{"eight bytes", []byte{0, 0, 0, 0, 0, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(addrspace.Global, 0)
			addr, err := r.Allocate(len(tt.data))
			if err != nil {
				t.Fatalf("allocate: %v", err)
			}
			if err := r.Store(addr, tt.data, plugin.Origin{}); err != nil {
				t.Fatalf("store: %v", err)
			}
			got, err := r.Load(addr, len(tt.data), plugin.Origin{})
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if string(got) != string(tt.data) {
				t.Errorf("round trip: got %v, want %v", got, tt.data)
			}
		})
	}
}

func TestAllocationIsolation(t *testing.T) {
	r := New(addrspace.Global, 0)
	a1, err := r.Allocate(16)
	if err != nil {
		t.Fatalf("allocate a1: %v", err)
	}
	a2, err := r.Allocate(32)
	if err != nil {
		t.Fatalf("allocate a2: %v", err)
	}

	if a1 < a2 {
		if a1+16 > a2 {
			t.Fatalf("allocations overlap: a1=[%d,%d) a2=[%d,%d)", a1, a1+16, a2, a2+32)
		}
	} else {
		if a2+32 > a1 {
			t.Fatalf("allocations overlap: a1=[%d,%d) a2=[%d,%d)", a1, a1+16, a2, a2+32)
		}
	}
}

func TestLoadOutOfBoundsFaults(t *testing.T) {
	r := New(addrspace.Global, 0)
	addr, err := r.Allocate(4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if _, err := r.Load(addr, 8, plugin.Origin{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("load past end: got %v, want ErrInvalidAddress", err)
	}
	if _, err := r.Load(addr+100, 4, plugin.Origin{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("load unallocated address: got %v, want ErrInvalidAddress", err)
	}
}

func TestDeallocateThenAccessFaults(t *testing.T) {
	r := New(addrspace.Global, 0)
	addr, err := r.Allocate(4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := r.Deallocate(addr); err != nil {
		t.Fatalf("deallocate: %v", err)
	}
	if _, err := r.Load(addr, 4, plugin.Origin{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("load after free: got %v, want ErrInvalidAddress", err)
	}
	if err := r.Deallocate(addr); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("double free: got %v, want ErrInvalidAddress", err)
	}
}

func TestUnalignedAccessFaults(t *testing.T) {
	r := New(addrspace.Global, 0)
	// Force an odd base so a 4-byte access at base+1 is misaligned.
	if _, err := r.Allocate(1); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	addr, err := r.Allocate(8)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := r.Load(addr+1, 4, plugin.Origin{}); !errors.Is(err, ErrUnaligned) {
		t.Errorf("misaligned load: got %v, want ErrUnaligned", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	r := New(addrspace.Global, 8)
	if _, err := r.Allocate(4); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := r.Allocate(8); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("allocate beyond capacity: got %v, want ErrOutOfMemory", err)
	}
}

func TestAtomicIncIsLinearizable(t *testing.T) {
	r := NewObserved(addrspace.Global, 0, plugin.New())
	addr, err := r.Allocate(4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := r.AtomicStore(addr, 0, plugin.Origin{}); err != nil {
		t.Fatalf("atomic store: %v", err)
	}

	const n = 16
	done := make(chan uint32, n)
	for i := 0; i < n; i++ {
		go func() {
			old, err := r.AtomicInc(addr, plugin.Origin{Kind: plugin.OriginItem})
			if err != nil {
				t.Error(err)
			}
			done <- old
		}()
	}

	seen := make(map[uint32]bool, n)
	for i := 0; i < n; i++ {
		seen[<-done] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct pre-increment values (permutation of 0..%d), got %d", n, n-1, len(seen))
	}
	for i := uint32(0); i < n; i++ {
		if !seen[i] {
			t.Errorf("missing observed value %d among atomic increments", i)
		}
	}

	final, err := r.AtomicLoad(addr, plugin.Origin{})
	if err != nil {
		t.Fatalf("atomic load: %v", err)
	}
	if final != n {
		t.Errorf("final counter = %d, want %d", final, n)
	}
}

func TestAtomicCmpxchg(t *testing.T) {
	r := New(addrspace.Global, 0)
	addr, err := r.Allocate(4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := r.AtomicStore(addr, 10, plugin.Origin{}); err != nil {
		t.Fatalf("atomic store: %v", err)
	}

	old, swapped, err := r.AtomicCmpxchg(addr, 5, 99, plugin.Origin{})
	if err != nil {
		t.Fatalf("cmpxchg: %v", err)
	}
	if swapped || old != 10 {
		t.Errorf("mismatched compare should not swap: old=%d swapped=%v", old, swapped)
	}

	old, swapped, err = r.AtomicCmpxchg(addr, 10, 99, plugin.Origin{})
	if err != nil {
		t.Fatalf("cmpxchg: %v", err)
	}
	if !swapped || old != 10 {
		t.Errorf("matched compare should swap: old=%d swapped=%v", old, swapped)
	}

	final, _ := r.AtomicLoad(addr, plugin.Origin{})
	if final != 99 {
		t.Errorf("final value = %d, want 99", final)
	}
}
