package plugin

import "github.com/oclgrind/oclgrind-go/pkg/addrspace"

// OriginKind identifies who performed a memory access.
type OriginKind uint8

const (
	// OriginHost marks an access made outside any kernel launch, via
	// Device.global_memory() (clCreateBuffer-equivalent host I/O).
	OriginHost OriginKind = iota
	// OriginItem marks an access attributed to a single work-item.
	OriginItem
	// OriginGroup marks an access attributed to a whole work-group
	// (e.g. a group-wide barrier fence flush), rather than one item.
	OriginGroup
)

// ID is a 3-dimensional identity: either a global/local/group work-item
// triple or a group triple, depending on context.
type ID [3]int

// Origin names who triggered a memory event.
type Origin struct {
	Kind    OriginKind
	Item    ID // global id, meaningful when Kind == OriginItem
	Group   ID // group id, meaningful when Kind != OriginHost
}

// MessageType classifies a log event, mirroring the severities a
// conforming OpenCL runtime's debug output would use.
type MessageType uint8

const (
	Debug MessageType = iota
	Info
	Warning
	Error
)

func (m MessageType) String() string {
	switch m {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MemoryEvent describes a single load or store against a Memory region.
type MemoryEvent struct {
	Space   addrspace.AddressSpace
	Origin  Origin
	Address uint64
	Size    int
}

// AllocationEvent describes an allocate/deallocate against a Memory region.
type AllocationEvent struct {
	Space   addrspace.AddressSpace
	Address uint64
	Size    int
}

// AtomicEvent describes an atomic read-modify-write against a 32-bit word.
type AtomicEvent struct {
	Space   addrspace.AddressSpace
	Origin  Origin
	Address uint64
	Op      string
	Old     uint32
	New     uint32
}

// InstructionEvent describes the retirement of a single instruction by a
// work-item.
type InstructionEvent struct {
	Item ID
	PC   int
	Text string
}

// KernelEvent marks the start or end of a kernel launch.
type KernelEvent struct {
	KernelName string
	GlobalSize [3]int
	LocalSize  [3]int
}

// BarrierEvent marks all items of a work-group reaching a barrier.
type BarrierEvent struct {
	Group ID
	Flags int
}

// GroupEvent marks a work-group lifecycle transition (complete).
type GroupEvent struct {
	Group ID
}

// ItemEvent marks a work-item lifecycle transition (complete), carrying
// its final state so plugins can distinguish a normal finish from a fault.
type ItemEvent struct {
	Item  ID
	Group ID
	State string
}
