package demo

import (
	"testing"

	"github.com/oclgrind/oclgrind-go/pkg/device"
	"github.com/oclgrind/oclgrind-go/pkg/kernel"
	"github.com/oclgrind/oclgrind-go/pkg/plugin"
	"github.com/oclgrind/oclgrind-go/pkg/value"
)

func TestCopyEndToEnd(t *testing.T) {
	mod := Copy()
	fn, _ := mod.FunctionByName("copy")
	k := kernel.New(fn, mod)
	d := device.New()

	in, err := d.GlobalMemory().Allocate(4 * 4)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.GlobalMemory().Allocate(4 * 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := d.GlobalMemory().Store(in+uint64(i*4), value.FromUint64(4, uint64(10+i)).Bytes(), plugin.Origin{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
		t.Fatal(err)
	}
	if err := k.SetArgument(1, value.FromUint64(8, out)); err != nil {
		t.Fatal(err)
	}

	if err := d.Run(k, device.RunConfig{WorkDim: 1, GlobalSize: [3]int{4, 0, 0}, LocalSize: [3]int{4, 0, 0}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 4; i++ {
		data, err := d.GlobalMemory().Load(out+uint64(i*4), 4, plugin.Origin{})
		if err != nil {
			t.Fatalf("load out[%d]: %v", i, err)
		}
		if got := value.FromBytes(4, 1, data).Uint64(); got != uint64(10+i) {
			t.Errorf("out[%d] = %d, want %d", i, got, 10+i)
		}
	}
}

func TestGroupSumCrossesBarrierCorrectly(t *testing.T) {
	const groupSize = 4
	mod := GroupSum(groupSize)
	fn, _ := mod.FunctionByName("group_sum")
	k := kernel.New(fn, mod)
	d := device.New()

	in, err := d.GlobalMemory().Allocate(4 * groupSize)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.GlobalMemory().Allocate(4)
	if err != nil {
		t.Fatal(err)
	}
	want := uint64(0)
	for i := 0; i < groupSize; i++ {
		if err := d.GlobalMemory().Store(in+uint64(i*4), value.FromUint64(4, uint64(i+1)).Bytes(), plugin.Origin{}); err != nil {
			t.Fatal(err)
		}
		want += uint64(i + 1)
	}

	if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
		t.Fatal(err)
	}
	if err := k.SetArgument(1, value.FromUint64(8, out)); err != nil {
		t.Fatal(err)
	}
	if err := k.SetArgument(2, value.New(1, groupSize*4)); err != nil {
		t.Fatal(err)
	}

	if err := d.Run(k, device.RunConfig{WorkDim: 1, GlobalSize: [3]int{groupSize, 0, 0}, LocalSize: [3]int{groupSize, 0, 0}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := d.GlobalMemory().Load(out, 4, plugin.Origin{})
	if err != nil {
		t.Fatalf("load out: %v", err)
	}
	if got := value.FromBytes(4, 1, data).Uint64(); got != want {
		t.Errorf("group sum = %d, want %d", got, want)
	}
}

func TestAtomicHistogramTotalsMatchInputCount(t *testing.T) {
	const numBuckets = 4
	const n = 32
	mod := AtomicHistogram(numBuckets)
	fn, _ := mod.FunctionByName("atomic_histogram")
	k := kernel.New(fn, mod)
	d := device.New()

	in, err := d.GlobalMemory().Allocate(4 * n)
	if err != nil {
		t.Fatal(err)
	}
	buckets, err := d.GlobalMemory().Allocate(4 * numBuckets)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if err := d.GlobalMemory().Store(in+uint64(i*4), value.FromUint64(4, uint64(i)).Bytes(), plugin.Origin{}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < numBuckets; i++ {
		if err := d.GlobalMemory().AtomicStore(buckets+uint64(i*4), 0, plugin.Origin{}); err != nil {
			t.Fatal(err)
		}
	}

	if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
		t.Fatal(err)
	}
	if err := k.SetArgument(1, value.FromUint64(8, buckets)); err != nil {
		t.Fatal(err)
	}

	if err := d.Run(k, device.RunConfig{
		WorkDim:     1,
		GlobalSize:  [3]int{n, 0, 0},
		LocalSize:   [3]int{4, 0, 0},
		Concurrency: device.Parallel,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var total uint64
	for i := 0; i < numBuckets; i++ {
		v, err := d.GlobalMemory().AtomicLoad(buckets+uint64(i*4), plugin.Origin{})
		if err != nil {
			t.Fatalf("load bucket %d: %v", i, err)
		}
		total += uint64(v)
	}
	if total != n {
		t.Errorf("histogram total = %d, want %d", total, n)
	}
}

func TestConstantLookupReadsModuleConstant(t *testing.T) {
	lut := []int64{100, 200, 300, 400}
	mod := ConstantLookup(lut)
	fn, _ := mod.FunctionByName("constant_lookup")
	k := kernel.New(fn, mod)
	d := device.New()

	in, err := d.GlobalMemory().Allocate(4)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.GlobalMemory().Allocate(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.GlobalMemory().Store(in, value.FromUint64(4, 2).Bytes(), plugin.Origin{}); err != nil {
		t.Fatal(err)
	}

	if err := k.SetArgument(0, value.FromUint64(8, in)); err != nil {
		t.Fatal(err)
	}
	if err := k.SetArgument(1, value.FromUint64(8, out)); err != nil {
		t.Fatal(err)
	}

	if err := d.Run(k, device.RunConfig{WorkDim: 1, GlobalSize: [3]int{1, 0, 0}, LocalSize: [3]int{1, 0, 0}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := d.GlobalMemory().Load(out, 4, plugin.Origin{})
	if err != nil {
		t.Fatal(err)
	}
	if got := value.FromBytes(4, 1, data).Uint64(); got != 300 {
		t.Errorf("constant_lookup(2) = %d, want 300", got)
	}
}
