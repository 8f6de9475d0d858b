// Package vmtypes consolidates shared types and constants for the AVM.
package vmtypes

import "fmt"

// ============================================================================
// Machine States
// ============================================================================

type State uint8

const (
	Ready State = iota
	Running
	Halted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ============================================================================
// Halt Reasons
// ============================================================================

type HaltReason uint8

const (
	HaltNone     HaltReason = iota
	HaltReturned            // jump to address 0, EBREAK, RETURN/REVERT
	HaltSyscall             // ECALL waiting for the orchestrator
	HaltFault               // classified fault, see avmerrors
)

func (h HaltReason) String() string {
	switch h {
	case HaltNone:
		return "none"
	case HaltReturned:
		return "returned"
	case HaltSyscall:
		return "syscall"
	case HaltFault:
		return "fault"
	}
	return fmt.Sprintf("halt(%d)", uint8(h))
}

// ============================================================================
// Syscall Result Codes
// ============================================================================

const (
	OK       uint32 = 0
	FAIL     uint32 = 1
	NULL_PTR uint32 = 0
	VALID    uint32 = 1
	INVALID  uint32 = 0
)

// ============================================================================
// Syscall Ids
// ============================================================================

const (
	SYSCALL_STORAGE_GET  = 1
	SYSCALL_STORAGE_SET  = 2
	SYSCALL_PANIC        = 3
	SYSCALL_CALL_PROGRAM = 5
	SYSCALL_FIRE_EVENT   = 6
	SYSCALL_ALLOC        = 7
	SYSCALL_DEALLOC      = 8
	SYSCALL_TRANSFER     = 9
	SYSCALL_BALANCE      = 10
	SYSCALL_KECCAK256    = 11
	SYSCALL_BLAKE2B      = 12
	SYSCALL_ECRECOVER    = 13
	SYSCALL_VERIFY_SIG   = 14
	SYSCALL_CALLER       = 15
	SYSCALL_ADDRESS      = 16
	SYSCALL_RETURN       = 17
	SYSCALL_REVERT       = 18
	SYSCALL_LOG          = 100
	SYSCALL_BRK          = 214
)

var syscallNames = map[uint32]string{
	SYSCALL_STORAGE_GET:  "STORAGE_GET",
	SYSCALL_STORAGE_SET:  "STORAGE_SET",
	SYSCALL_PANIC:        "PANIC",
	SYSCALL_CALL_PROGRAM: "CALL_PROGRAM",
	SYSCALL_FIRE_EVENT:   "FIRE_EVENT",
	SYSCALL_ALLOC:        "ALLOC",
	SYSCALL_DEALLOC:      "DEALLOC",
	SYSCALL_TRANSFER:     "TRANSFER",
	SYSCALL_BALANCE:      "BALANCE",
	SYSCALL_KECCAK256:    "KECCAK256",
	SYSCALL_BLAKE2B:      "BLAKE2B",
	SYSCALL_ECRECOVER:    "ECRECOVER",
	SYSCALL_VERIFY_SIG:   "VERIFY_SIG",
	SYSCALL_CALLER:       "CALLER",
	SYSCALL_ADDRESS:      "ADDRESS",
	SYSCALL_RETURN:       "RETURN",
	SYSCALL_REVERT:       "REVERT",
	SYSCALL_LOG:          "LOG",
	SYSCALL_BRK:          "BRK",
}

// SyscallName returns the table name of id, or "UNKNOWN".
func SyscallName(id uint32) string {
	if n, ok := syscallNames[id]; ok {
		return n
	}
	return "UNKNOWN"
}

// ============================================================================
// ABI Register Indices
// ============================================================================

const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17

	// syscall id register and result register
	SyscallIDReg     = RegA7
	SyscallResultReg = RegA0
	SyscallArgCount  = 6
)

// SyscallArgRegs are the positional argument registers a1..a6.
var SyscallArgRegs = [SyscallArgCount]int{RegA1, RegA2, RegA3, RegA4, RegA5, RegA6}

// ============================================================================
// Layout Constants
// ============================================================================

const (
	DefaultPageSize         = 0x40000
	DefaultProgramStartAddr = 0x400
	DefaultResultAddr       = 0x100
	DefaultCodeSizeLimit    = 0x30000
	DefaultRODataSizeLimit  = 0x2000
	DefaultMaxCallDepth     = 64
	DefaultMaxInputLen      = 1024

	HeapGap      = 0x100 // between end of image and first heap byte
	DefaultAlign = 8
	AddressSize  = 20

	ResultDataCap    = 256
	ResultRecordSize = 1 + 4 + 4 + ResultDataCap
)

func CeilingDivide(a, b uint64) uint64 {
	return (a + b - 1) / b
}
