package avm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/exp/slices"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/log"
	"github.com/colorfulnotion/avm/types"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

type syscallArgs = [vmtypes.SyscallArgCount]uint32

// syscallHandler returns the value for a0. A handler may also halt the CPU
// (RETURN, REVERT) or fail the context by returning a fault.
type syscallHandler func(s *session, ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault)

var syscallTable map[uint32]syscallHandler

func init() {
	syscallTable = map[uint32]syscallHandler{
		vmtypes.SYSCALL_STORAGE_GET:  (*session).storageGet,
		vmtypes.SYSCALL_STORAGE_SET:  (*session).storageSet,
		vmtypes.SYSCALL_PANIC:        (*session).panicCall,
		vmtypes.SYSCALL_CALL_PROGRAM: (*session).callProgram,
		vmtypes.SYSCALL_FIRE_EVENT:   (*session).fireEvent,
		vmtypes.SYSCALL_ALLOC:        (*session).alloc,
		vmtypes.SYSCALL_DEALLOC:      (*session).dealloc,
		vmtypes.SYSCALL_TRANSFER:     (*session).transfer,
		vmtypes.SYSCALL_BALANCE:      (*session).balance,
		vmtypes.SYSCALL_KECCAK256:    (*session).keccak256,
		vmtypes.SYSCALL_BLAKE2B:      (*session).blake2b,
		vmtypes.SYSCALL_ECRECOVER:    (*session).ecrecover,
		vmtypes.SYSCALL_VERIFY_SIG:   (*session).verifySig,
		vmtypes.SYSCALL_CALLER:       (*session).caller,
		vmtypes.SYSCALL_ADDRESS:      (*session).address,
		vmtypes.SYSCALL_RETURN:       (*session).returnCall,
		vmtypes.SYSCALL_REVERT:       (*session).revert,
		vmtypes.SYSCALL_LOG:          (*session).logCall,
		vmtypes.SYSCALL_BRK:          (*session).brk,
	}
}

// syscall serves the request the CPU halted on and either resumes the CPU or
// leaves it halted.
func (s *session) syscall(ctx context.Context, ec *ExecutionContext) {
	req := ec.CPU.Syscall
	name := vmtypes.SyscallName(req.ID)
	log.Trace(log.SyscallMonitoring, "syscall", "depth", ec.Depth, "id", req.ID, "name", name, "pc", fmt.Sprintf("0x%x", req.PC))

	handler, known := syscallTable[req.ID]
	cost, priced := s.avm.cfg.Gas.SyscallCost(req.ID)
	if !known || !priced {
		ec.CPU.Terminate(avmerrors.NewFault(avmerrors.ErrUnknownSyscall, req.PC))
		return
	}
	metricSyscalls().AddWithLabel(1, map[string]string{"syscall": name})
	if f := s.charge(ec, cost); f != nil {
		ec.CPU.Terminate(f)
		return
	}
	ret, f := handler(s, ctx, ec, req.Args)
	if f != nil {
		ec.CPU.Terminate(f)
		return
	}
	if ec.CPU.Halt == vmtypes.HaltSyscall {
		// only fails if the CPU is not halted on a syscall
		_ = ec.CPU.Resume(ret)
	}
}

func (s *session) charge(ec *ExecutionContext, amount uint64) *avmerrors.Fault {
	if err := ec.Gas.Charge(amount); err != nil {
		return avmerrors.NewFault(err, ec.CPU.Syscall.PC)
	}
	return nil
}

// chargeData charges the size-dependent fee of the current syscall.
func (s *session) chargeData(ec *ExecutionContext, n uint64) *avmerrors.Fault {
	return s.charge(ec, s.avm.cfg.Gas.SyscallDataCost(ec.CPU.Syscall.ID, n))
}

// read copies guest memory; ok is false when the range leaves the page.
func read(ec *ExecutionContext, ptr, n uint32) ([]byte, bool) {
	b, err := ec.Memory.ReadBytes(ptr, n)
	return b, err == nil
}

func readAddress(ec *ExecutionContext, ptr uint32) (common.Address, bool) {
	b, ok := read(ec, ptr, common.AddressLength)
	if !ok {
		return common.Address{}, false
	}
	return common.BytesToAddress(b), true
}

// write copies b into guest memory and returns OK or FAIL.
func write(ec *ExecutionContext, ptr uint32, b []byte) uint32 {
	if err := ec.Memory.WriteBytes(ptr, b); err != nil {
		return vmtypes.FAIL
	}
	return vmtypes.OK
}

// ====================== storage ======================

func (s *session) storageGet(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	keyPtr, keyLen := args[0], args[1]
	if f := s.chargeData(ec, uint64(keyLen)); f != nil {
		return 0, f
	}
	key, ok := read(ec, keyPtr, keyLen)
	if !ok {
		return vmtypes.NULL_PTR, nil
	}
	val, found, err := ec.Storage.getStorage(ec.To, key)
	if err != nil {
		return 0, avmerrors.WrapFault(err, ec.CPU.Syscall.PC)
	}
	if !found {
		return vmtypes.NULL_PTR, nil
	}
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(val)))
	ptr, err := ec.Memory.AllocOnHeap(append(buf, val...), 0)
	if err != nil {
		return vmtypes.NULL_PTR, nil
	}
	return ptr, nil
}

func (s *session) storageSet(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	keyPtr, keyLen, valPtr, valLen := args[0], args[1], args[2], args[3]
	if f := s.chargeData(ec, uint64(keyLen)+uint64(valLen)); f != nil {
		return 0, f
	}
	key, ok := read(ec, keyPtr, keyLen)
	if !ok {
		return vmtypes.FAIL, nil
	}
	val, ok := read(ec, valPtr, valLen)
	if !ok {
		return vmtypes.FAIL, nil
	}
	ec.Storage.setStorage(ec.To, key, val)
	return vmtypes.OK, nil
}

// ====================== control ======================

func (s *session) panicCall(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	msg, ok := read(ec, args[0], args[1])
	if ok {
		ec.PanicMessage = string(msg)
	} else {
		ec.PanicMessage = "<invalid memory access>"
	}
	log.Debug(log.GuestMonitoring, "guest panic", "depth", ec.Depth, "msg", ec.PanicMessage)
	return 0, avmerrors.NewFault(avmerrors.ErrGuestPanic, ec.CPU.Syscall.PC)
}

func (s *session) returnCall(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	return s.setResult(ec, args[0], args[1], func(data []byte) types.CallResult {
		return types.SuccessResult(data)
	})
}

func (s *session) revert(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	code := args[0]
	return s.setResult(ec, args[1], args[2], func(data []byte) types.CallResult {
		return types.FailureResult(code, data)
	})
}

// setResult writes the result record built from [ptr, ptr+n) at the result
// address and halts the CPU as returned. Data beyond the record capacity is
// neither charged nor copied.
func (s *session) setResult(ec *ExecutionContext, ptr, n uint32, build func([]byte) types.CallResult) (uint32, *avmerrors.Fault) {
	n = min(n, vmtypes.ResultDataCap)
	if f := s.chargeData(ec, uint64(n)); f != nil {
		return 0, f
	}
	data, ok := read(ec, ptr, n)
	if !ok {
		return vmtypes.FAIL, nil
	}
	rec := build(data)
	if err := ec.Memory.WriteBytes(s.avm.cfg.ResultAddr, rec.Encode()); err != nil {
		return 0, avmerrors.NewMemoryFault(avmerrors.ErrOutOfBoundsAccess, ec.CPU.Syscall.PC, s.avm.cfg.ResultAddr)
	}
	ec.Result = rec
	ec.resultSet = true
	ec.CPU.Finish()
	return vmtypes.OK, nil
}

func (s *session) logCall(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	if f := s.chargeData(ec, uint64(args[1])); f != nil {
		return 0, f
	}
	msg, ok := read(ec, args[0], args[1])
	if !ok {
		return vmtypes.FAIL, nil
	}
	log.Debug(log.GuestMonitoring, string(msg), "depth", ec.Depth, "contract", ec.To.Hex())
	return vmtypes.OK, nil
}

func (s *session) fireEvent(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	if f := s.chargeData(ec, uint64(args[1])); f != nil {
		return 0, f
	}
	data, ok := read(ec, args[0], args[1])
	if !ok {
		return vmtypes.FAIL, nil
	}
	ec.Events = append(ec.Events, types.Event{Address: ec.To, Depth: ec.Depth, Data: data})
	return vmtypes.OK, nil
}

// ====================== heap ======================

func (s *session) alloc(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	size, align := args[0], args[1]
	if f := s.charge(ec, s.avm.cfg.Gas.AllocCost(uint64(size))); f != nil {
		return 0, f
	}
	if size == 0 {
		return vmtypes.NULL_PTR, nil
	}
	ptr, err := ec.Memory.Alloc(size, align)
	if err != nil {
		return vmtypes.NULL_PTR, nil
	}
	return ptr, nil
}

// dealloc is charged only; the heap is a bump allocator.
func (s *session) dealloc(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	return vmtypes.OK, nil
}

func (s *session) brk(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	return ec.Memory.Brk(args[0]), nil
}

// ====================== accounts ======================

func (s *session) transfer(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	if f := s.chargeData(ec, common.AddressLength); f != nil {
		return 0, f
	}
	to, ok := readAddress(ec, args[0])
	if !ok {
		return vmtypes.FAIL, nil
	}
	amount := uint256.NewInt(uint64(args[2])<<32 | uint64(args[1]))
	if err := transfer(ec.Storage, ec.To, to, amount); err != nil {
		if errors.Is(err, errInsufficientBalance) || errors.Is(err, errBalanceOverflow) {
			return vmtypes.FAIL, nil
		}
		return 0, avmerrors.WrapFault(err, ec.CPU.Syscall.PC)
	}
	return vmtypes.OK, nil
}

func (s *session) balance(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	if f := s.chargeData(ec, common.AddressLength); f != nil {
		return 0, f
	}
	addr, ok := readAddress(ec, args[0])
	if !ok {
		return vmtypes.NULL_PTR, nil
	}
	acct, found, err := ec.Storage.getAccount(addr)
	if err != nil {
		return 0, avmerrors.WrapFault(err, ec.CPU.Syscall.PC)
	}
	bal := new(uint256.Int)
	if found {
		bal = acct.GetBalance()
	}
	b32 := bal.Bytes32()
	le := b32[:]
	slices.Reverse(le)
	ptr, err := ec.Memory.AllocOnHeap(le, 0)
	if err != nil {
		return vmtypes.NULL_PTR, nil
	}
	return ptr, nil
}

// ====================== crypto ======================

func (s *session) hashCall(ec *ExecutionContext, args syscallArgs, sum func([]byte) common.Hash) (uint32, *avmerrors.Fault) {
	dataPtr, n, outPtr := args[0], args[1], args[2]
	if f := s.chargeData(ec, uint64(n)); f != nil {
		return 0, f
	}
	data, ok := read(ec, dataPtr, n)
	if !ok {
		return vmtypes.FAIL, nil
	}
	return write(ec, outPtr, sum(data).Bytes()), nil
}

func (s *session) keccak256(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	return s.hashCall(ec, args, common.Keccak256)
}

func (s *session) blake2b(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	return s.hashCall(ec, args, common.Blake2Hash)
}

// Signature operands have fixed sizes, charged as data like any other read.
const (
	ecrecoverOperands = 32 + 65
	verifySigOperands = 32 + 64 + 33
)

func (s *session) ecrecover(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	if f := s.chargeData(ec, ecrecoverOperands); f != nil {
		return 0, f
	}
	digest, ok := read(ec, args[0], 32)
	if !ok {
		return vmtypes.FAIL, nil
	}
	sig, ok := read(ec, args[1], 65)
	if !ok {
		return vmtypes.FAIL, nil
	}
	addr, err := common.RecoverAddress(digest, sig)
	if err != nil {
		return vmtypes.FAIL, nil
	}
	return write(ec, args[2], addr.Bytes()), nil
}

func (s *session) verifySig(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	if f := s.chargeData(ec, verifySigOperands); f != nil {
		return 0, f
	}
	digest, ok1 := read(ec, args[0], 32)
	sig, ok2 := read(ec, args[1], 64)
	pub, ok3 := read(ec, args[2], 33)
	if !ok1 || !ok2 || !ok3 {
		return vmtypes.INVALID, nil
	}
	if common.VerifyCompressed(pub, digest, sig) {
		return vmtypes.VALID, nil
	}
	return vmtypes.INVALID, nil
}

// ====================== environment ======================

func (s *session) caller(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	return s.writeAddress(ec, args[0], ec.From)
}

func (s *session) address(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	return s.writeAddress(ec, args[0], ec.To)
}

func (s *session) writeAddress(ec *ExecutionContext, ptr uint32, addr common.Address) (uint32, *avmerrors.Fault) {
	if f := s.chargeData(ec, common.AddressLength); f != nil {
		return 0, f
	}
	return write(ec, ptr, addr.Bytes()), nil
}
