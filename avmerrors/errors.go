// Package avmerrors holds the classified termination reasons of the AVM.
// Every error carries the "Code|Name: description." text so that the code
// and name can be recovered for result records, metrics and logs.
package avmerrors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine (F) faults
var (
	ErrDecodeError             = errors.New("F1|DecodeError: Instruction bits are malformed.")
	ErrIllegalInstruction      = errors.New("F2|IllegalInstruction: Well-formed instruction with an unsupported or reserved opcode.")
	ErrMisalignedAccess        = errors.New("F3|MisalignedAccess: Memory access or jump target violates the required alignment.")
	ErrOutOfBoundsAccess       = errors.New("F4|OutOfBoundsAccess: Memory access resolves outside the writable page.")
	ErrOutOfGas                = errors.New("F5|OutOfGas: Gas counter cannot cover the next charge.")
	ErrCallStackOverflow       = errors.New("F6|CallStackOverflow: Nested call exceeds the maximum call depth.")
	ErrUnknownSyscall          = errors.New("F7|UnknownSyscall: Syscall id is not in the syscall table.")
	ErrHostCollaboratorFailure = errors.New("F8|HostCollaboratorFailure: Host environment returned an error.")
	ErrGuestPanic              = errors.New("F9|GuestPanic: Program raised a panic syscall.")
)

// Orchestrator (F) errors
var (
	ErrInvalidInput    = errors.New("F10|InvalidInput: Input exceeds the configured maximum length.")
	ErrAccountNotFound = errors.New("F11|AccountNotFound: Target account does not exist.")
	ErrNotAContract    = errors.New("F12|NotAContract: Target account has no code.")
	ErrAccountExists   = errors.New("F13|AccountExists: Account already exists at the address.")
	ErrCodeTooLarge    = errors.New("F14|CodeTooLarge: Program image exceeds the code size limit.")
	ErrCancelled       = errors.New("F15|Cancelled: Caller cancelled the invocation before it halted.")
)

var all = []error{
	ErrDecodeError, ErrIllegalInstruction, ErrMisalignedAccess, ErrOutOfBoundsAccess,
	ErrOutOfGas, ErrCallStackOverflow, ErrUnknownSyscall, ErrHostCollaboratorFailure,
	ErrGuestPanic, ErrInvalidInput, ErrAccountNotFound, ErrNotAContract,
	ErrAccountExists, ErrCodeTooLarge, ErrCancelled,
}

// Fault is a fault attached to a context at the point of failure.
type Fault struct {
	Kind  error
	PC    uint32
	Addr  uint32
	cause error
}

func NewFault(kind error, pc uint32) *Fault {
	return &Fault{Kind: kind, PC: pc}
}

func NewMemoryFault(kind error, pc uint32, addr uint32) *Fault {
	return &Fault{Kind: kind, PC: pc, Addr: addr}
}

// WrapFault builds a HostCollaboratorFailure fault around cause.
func WrapFault(cause error, pc uint32) *Fault {
	return &Fault{Kind: ErrHostCollaboratorFailure, PC: pc, cause: cause}
}

// CancelFault records why the caller's context ended the run.
func CancelFault(cause error, pc uint32) *Fault {
	return &Fault{Kind: ErrCancelled, PC: pc, cause: cause}
}

func (f *Fault) Error() string {
	s := fmt.Sprintf("%s at pc=0x%x", GetErrorCodeWithName(f.Kind), f.PC)
	if f.Addr != 0 {
		s += fmt.Sprintf(" addr=0x%x", f.Addr)
	}
	if f.cause != nil {
		s += ": " + f.cause.Error()
	}
	return s
}

func (f *Fault) Unwrap() error { return f.Kind }

// Cause returns the wrapped collaborator or context error, if any.
func (f *Fault) Cause() error { return f.cause }

// Code returns the numeric part of the fault code, e.g. 5 for OutOfGas.
func (f *Fault) Code() uint32 { return NumericCode(f.Kind) }

// NumericCode returns the number after "F" in the error code, or 0.
func NumericCode(err error) uint32 {
	code := GetErrorCode(err)
	if len(code) < 2 {
		return 0
	}
	n, perr := strconv.ParseUint(code[1:], 10, 32)
	if perr != nil {
		return 0
	}
	return uint32(n)
}

// FromCode maps a numeric fault code back to its sentinel.
func FromCode(code uint32) (error, bool) {
	for _, e := range all {
		if NumericCode(e) == code {
			return e, true
		}
	}
	return nil, false
}

// KindOf returns the sentinel behind err, walking wrapped errors.
func KindOf(err error) error {
	for _, e := range all {
		if errors.Is(err, e) {
			return e
		}
	}
	return nil
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	nameDesc := strings.SplitN(errStr, "|", 2)[1]
	return strings.TrimSpace(strings.SplitN(nameDesc, ":", 2)[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(errStr, "|", 2)[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
