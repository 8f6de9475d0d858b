package avm

import (
	"context"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/log"
	"github.com/colorfulnotion/avm/types"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

// callProgram runs a nested contract call. Every outcome the caller can
// handle (missing account, depth limit, child failure or fault) is reported
// as a result record on the caller's heap; a0 receives its address.
func (s *session) callProgram(ctx context.Context, ec *ExecutionContext, args syscallArgs) (uint32, *avmerrors.Fault) {
	toPtr, inputPtr, inputLen, reqGas := args[0], args[1], args[2], uint64(args[3])
	pc := ec.CPU.Syscall.PC
	if f := s.charge(ec, s.avm.cfg.Gas.CallCost(uint64(inputLen))); f != nil {
		return 0, f
	}
	to, ok := readAddress(ec, toPtr)
	if !ok {
		return vmtypes.NULL_PTR, nil
	}
	if inputLen > s.avm.cfg.MaxInputLen {
		return s.writeResult(ec, failedCall(avmerrors.ErrInvalidInput)), nil
	}
	input, ok := read(ec, inputPtr, inputLen)
	if !ok {
		return vmtypes.NULL_PTR, nil
	}
	if s.stack.Full() {
		log.Debug(log.OrchestratorMonitoring, "call depth exceeded", "depth", ec.Depth, "to", to.Hex())
		return s.writeResult(ec, failedCall(avmerrors.ErrCallStackOverflow)), nil
	}

	acct, found, err := ec.Storage.getAccount(to)
	if err != nil {
		return 0, avmerrors.WrapFault(err, pc)
	}
	if !found {
		return s.writeResult(ec, failedCall(avmerrors.ErrAccountNotFound)), nil
	}
	if !acct.IsContract {
		return s.writeResult(ec, failedCall(avmerrors.ErrNotAContract)), nil
	}
	img, err := LoadImage(acct.Code, s.avm.cfg)
	if err != nil {
		return s.writeResult(ec, failedCall(err)), nil
	}

	childGas := ec.Gas.Remaining()
	if reqGas != 0 && reqGas < childGas {
		childGas = reqGas
	}
	child, err := s.newContext(ec.Storage, ec.To, to, img, input, childGas)
	if err != nil {
		return s.writeResult(ec, failedCall(err)), nil
	}
	if err := s.stack.Push(child); err != nil {
		return s.writeResult(ec, failedCall(err)), nil
	}
	s.run(ctx, child)
	s.stack.Pop()
	metricCallDepth().Set(int64(ec.Depth))

	// child gas is bounded by the caller's remaining gas
	if f := s.charge(ec, child.Gas.Used()); f != nil {
		return 0, f
	}

	switch child.Status {
	case types.StatusSuccess:
		if err := child.Storage.commit(); err != nil {
			return 0, avmerrors.WrapFault(err, pc)
		}
		ec.Events = append(ec.Events, child.Events...)
	case types.StatusFault:
		if s.avm.propagate {
			return 0, avmerrors.NewFault(child.Fault.Kind, pc)
		}
	}
	return s.writeResult(ec, child.Result), nil
}

// failedCall maps err to the failure record of a call that never ran.
func failedCall(err error) types.CallResult {
	return types.FailureResult(avmerrors.NumericCode(avmerrors.KindOf(err)), nil)
}

// writeResult copies rec to the caller's heap. A full heap yields 0.
func (s *session) writeResult(ec *ExecutionContext, rec types.CallResult) uint32 {
	ptr, err := ec.Memory.AllocOnHeap(rec.Encode(), 0)
	if err != nil {
		return vmtypes.NULL_PTR
	}
	return ptr
}
