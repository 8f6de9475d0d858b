// Package avm runs contracts: it owns the call stack, dispatches syscalls and
// commits the state changes of successful calls to a HostEnv.
package avm

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/config"
	"github.com/colorfulnotion/avm/log"
	"github.com/colorfulnotion/avm/types"
	"github.com/colorfulnotion/avm/vm"
	"github.com/colorfulnotion/avm/vm/trace"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

// DefaultTxGas is the gas limit of a program call transaction that sets none.
const DefaultTxGas = 10_000_000

var (
	errInsufficientBalance = errors.New("insufficient balance")
	errBalanceOverflow     = errors.New("balance overflow")
)

// AVM executes programs against a HostEnv. It holds no per-call state, so
// one AVM can serve concurrent invocations as long as env allows it.
type AVM struct {
	cfg   *config.Config
	env   HostEnv
	cache *vm.DecodeCache

	trace       bool
	traceWriter *trace.JSONLTraceWriter
	propagate   bool
	tracer      oteltrace.Tracer
}

type Option func(*AVM)

// WithTrace keeps every executed step in Invocation.Trace.
func WithTrace(on bool) Option {
	return func(a *AVM) { a.trace = on }
}

// WithTraceWriter streams every executed step to w.
func WithTraceWriter(w *trace.JSONLTraceWriter) Option {
	return func(a *AVM) { a.traceWriter = w }
}

// WithPropagateChildFaults makes a faulting child halt its caller with the
// same fault instead of returning a failed call result.
func WithPropagateChildFaults(on bool) Option {
	return func(a *AVM) { a.propagate = on }
}

// New returns an AVM using cfg (nil selects config.Default()) and env (nil
// selects an empty MockHostEnv).
func New(cfg *config.Config, env HostEnv, opts ...Option) (*AVM, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if env == nil {
		env = NewMockHostEnv()
	}
	cache, err := vm.NewDecodeCache(cfg.DecodeCacheSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "decode cache")
	}
	a := &AVM{
		cfg:       cfg,
		env:       env,
		cache:     cache,
		propagate: cfg.PropagateChildFaults,
		tracer:    otel.Tracer("avm"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *AVM) Config() *config.Config { return a.cfg }
func (a *AVM) Env() HostEnv           { return a.env }

// DecodeCache returns the shared decode cache, nil when disabled.
func (a *AVM) DecodeCache() *vm.DecodeCache { return a.cache }

// session is the state of one top-level invocation.
type session struct {
	avm      *AVM
	stack    *ContextStack
	recorder *trace.Recorder
	nextID   int
}

func (a *AVM) newSession() *session {
	s := &session{avm: a, stack: NewContextStack(a.cfg.MaxCallDepth)}
	if a.trace || a.traceWriter != nil {
		s.recorder = trace.NewRecorder(a.trace, a.traceWriter)
	}
	return s
}

// newContext builds a context at the next depth. The callee address, caller
// address and input are copied to the heap and passed in a0, a1 and a2/a3.
func (s *session) newContext(parent *overlay, from, to common.Address, img *Image, input []byte, gasLimit uint64) (*ExecutionContext, error) {
	cfg := s.avm.cfg
	mem, err := vm.NewMemoryPage(cfg.PageSize, cfg.BaseAddress)
	if err != nil {
		return nil, err
	}
	if err := mem.LoadImage(cfg.ProgramStartAddr, img.Code, img.ROData); err != nil {
		return nil, err
	}
	depth := s.stack.Len()
	opts := []vm.Option{vm.WithDepth(depth)}
	if s.avm.cache != nil {
		opts = append(opts, vm.WithDecodeCache(s.avm.cache, img.Hash))
	}
	if s.recorder != nil {
		opts = append(opts, vm.WithTraceSink(s.recorder))
	}
	gas := vm.NewGasMeter(gasLimit)
	cpu := vm.NewCPU(mem, gas, &cfg.Gas, opts...)

	var ptrs [3]uint32
	for i, b := range [][]byte{to.Bytes(), from.Bytes(), input} {
		if ptrs[i], err = mem.AllocOnHeap(b, 0); err != nil {
			return nil, fmt.Errorf("context arguments: %w", err)
		}
	}
	cpu.Regs.Write(vmtypes.RegA0, ptrs[0])
	cpu.Regs.Write(vmtypes.RegA1, ptrs[1])
	cpu.Regs.Write(vmtypes.RegA2, ptrs[2])
	cpu.Regs.Write(vmtypes.RegA3, uint32(len(input)))
	cpu.Regs.Write(vmtypes.RegSP, mem.StackTop)
	cpu.Regs.Write(vmtypes.RegRA, 0)
	cpu.Regs.PC = cfg.ProgramStartAddr + img.Entry

	s.nextID++
	return &ExecutionContext{
		ID:      s.nextID,
		Depth:   depth,
		From:    from,
		To:      to,
		Input:   append([]byte(nil), input...),
		CPU:     cpu,
		Memory:  mem,
		Gas:     gas,
		Storage: newOverlay(s.avm.env, parent),
	}, nil
}

// run drives ec until it halts for good, serving syscalls in between.
func (s *session) run(ctx context.Context, ec *ExecutionContext) {
	ctx, span := s.avm.tracer.Start(ctx, "avm.context", oteltrace.WithAttributes(
		attribute.Int("avm.depth", ec.Depth),
		attribute.String("avm.to", ec.To.Hex()),
		attribute.String("avm.from", ec.From.Hex()),
	))
	defer span.End()
	metricCallDepth().Set(int64(ec.Depth))
	log.Debug(log.OrchestratorMonitoring, "context start", "ctx", ec.String())

	for ec.CPU.Run(ctx) == vmtypes.HaltSyscall {
		s.syscall(ctx, ec)
	}
	s.finish(ec)

	span.SetAttributes(
		attribute.String("avm.status", ec.Status.String()),
		attribute.Int64("avm.gas_used", int64(ec.Gas.Used())),
		attribute.Int64("avm.steps", int64(ec.CPU.Steps())),
	)
	if ec.Fault != nil {
		span.SetStatus(codes.Error, avmerrors.GetErrorCodeWithName(ec.Fault.Kind))
	}
	log.Debug(log.OrchestratorMonitoring, "context end", "ctx", ec.String(), "status", ec.Status)
}

// finish classifies a halted context. A context that returned without the
// RETURN/REVERT syscalls is judged by the record at the result address.
func (s *session) finish(ec *ExecutionContext) {
	if ec.CPU.Halt == vmtypes.HaltFault {
		s.fail(ec, ec.CPU.Fault)
		return
	}
	if !ec.resultSet {
		raw, err := ec.Memory.ReadBytes(s.avm.cfg.ResultAddr, vmtypes.ResultRecordSize)
		if err == nil {
			ec.Result, err = types.DecodeCallResult(raw)
		}
		if err != nil {
			s.fail(ec, avmerrors.NewMemoryFault(avmerrors.ErrOutOfBoundsAccess, ec.CPU.Regs.PC, s.avm.cfg.ResultAddr))
			return
		}
	}
	if ec.Result.IsFailure() {
		ec.Status = types.StatusFailure
		return
	}
	ec.Status = types.StatusSuccess
}

func (s *session) fail(ec *ExecutionContext, f *avmerrors.Fault) {
	ec.Status = types.StatusFault
	ec.Fault = f
	ec.Result = types.FailureResult(f.Code(), nil)
	metricFaults().AddWithLabel(1, map[string]string{"fault": avmerrors.GetErrorName(f.Kind)})
}

// execute runs img as the outermost context. root stages anything the caller
// did before the call; it is committed only if the call succeeds.
func (a *AVM) execute(ctx context.Context, root *overlay, from, to common.Address, img *Image, input []byte, gasLimit, entryCost uint64) (*types.Invocation, error) {
	s, ec, err := a.start(root, from, to, img, input, gasLimit, entryCost)
	if err != nil {
		return nil, err
	}
	s.run(ctx, ec)
	return s.conclude(root, ec), nil
}

// start opens a session and pushes the outermost context. A failed entry
// charge leaves the context faulted before its first instruction.
func (a *AVM) start(root *overlay, from, to common.Address, img *Image, input []byte, gasLimit, entryCost uint64) (*session, *ExecutionContext, error) {
	s := a.newSession()
	ec, err := s.newContext(root, from, to, img, input, gasLimit)
	if err != nil {
		return nil, nil, err
	}
	if err := ec.Gas.Charge(entryCost); err != nil {
		ec.CPU.Terminate(avmerrors.NewFault(err, ec.CPU.Regs.PC))
	}
	if err := s.stack.Push(ec); err != nil {
		return nil, nil, err
	}
	return s, ec, nil
}

// conclude pops the finished outermost context, commits its state when it
// succeeded and builds the Invocation.
func (s *session) conclude(root *overlay, ec *ExecutionContext) *types.Invocation {
	a := s.avm
	s.stack.Pop()
	if ec.Status == types.StatusSuccess {
		err := ec.Storage.commit()
		if err == nil {
			err = root.commit()
		}
		if err != nil {
			s.fail(ec, avmerrors.WrapFault(err, ec.CPU.Regs.PC))
		}
	}

	inv := &types.Invocation{
		Status:  ec.Status,
		Result:  ec.Result,
		Output:  ec.Result.Data,
		GasUsed: ec.Gas.Used(),
		Events:  []types.Event{},
	}
	switch {
	case ec.Fault != nil:
		inv.SetFault(ec.Fault)
	case ec.Status == types.StatusSuccess:
		inv.Events = append(inv.Events, ec.Events...)
	}
	if s.recorder != nil {
		if a.trace {
			inv.Trace = s.recorder.Steps
		}
		if a.traceWriter != nil {
			if err := s.recorder.Err(); err != nil {
				log.Warn(log.OrchestratorMonitoring, "trace stream failed", "err", err)
			} else if err := a.traceWriter.Flush(); err != nil {
				log.Warn(log.OrchestratorMonitoring, "trace flush failed", "err", err)
			}
		}
	}

	metricInvocations().AddWithLabel(1, map[string]string{"status": inv.Status.String()})
	metricGasUsed().Observe(int64(inv.GasUsed))
	log.Debug(log.OrchestratorMonitoring, "invocation done", "to", ec.To.Hex(), "status", inv.Status, "gas", inv.GasUsed, "fault", inv.Error)
	return inv
}

// Invoke runs code as an anonymous contract at the zero address. The error is
// non-nil only when the call cannot start: oversized input or an invalid image.
// Every execution outcome, faults included, is reported in the Invocation.
func (a *AVM) Invoke(ctx context.Context, code, input []byte, gasLimit uint64) (*types.Invocation, error) {
	if err := a.checkInput(input); err != nil {
		return nil, err
	}
	img, err := LoadImage(code, a.cfg)
	if err != nil {
		return nil, err
	}
	return a.execute(ctx, newOverlay(a.env, nil), common.ZeroAddress, common.ZeroAddress, img, input, gasLimit, 0)
}

// Call runs the contract stored at to on behalf of from. value is moved to
// the contract first and returned to from if the call does not succeed. The
// entry call cost is charged against gasLimit.
func (a *AVM) Call(ctx context.Context, from, to common.Address, input []byte, value uint64, gasLimit uint64) (*types.Invocation, error) {
	if err := a.checkInput(input); err != nil {
		return nil, err
	}
	root := newOverlay(a.env, nil)
	acct, ok, err := root.getAccount(to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", to.Hex(), avmerrors.ErrAccountNotFound)
	}
	if !acct.IsContract {
		return nil, fmt.Errorf("%s: %w", to.Hex(), avmerrors.ErrNotAContract)
	}
	img, err := LoadImage(acct.Code, a.cfg)
	if err != nil {
		return nil, err
	}
	if value > 0 {
		if err := transfer(root, from, to, uint256.NewInt(value)); err != nil {
			return nil, err
		}
	}
	return a.execute(ctx, root, from, to, img, input, gasLimit, a.cfg.Gas.CallCost(uint64(len(input))))
}

func (a *AVM) checkInput(input []byte) error {
	if uint64(len(input)) > uint64(a.cfg.MaxInputLen) {
		return fmt.Errorf("input is %d bytes, limit %d: %w", len(input), a.cfg.MaxInputLen, avmerrors.ErrInvalidInput)
	}
	return nil
}

// CreateAccount stores a new account at addr. Non-empty code makes it a
// contract; the image is validated before anything is written.
func (a *AVM) CreateAccount(addr common.Address, code []byte, balance uint64) error {
	root := newOverlay(a.env, nil)
	_, exists, err := root.getAccount(addr)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", addr.Hex(), avmerrors.ErrAccountExists)
	}
	acct := types.NewAccount(addr, balance)
	if len(code) > 0 {
		if _, err := LoadImage(code, a.cfg); err != nil {
			return err
		}
		acct = types.NewContract(addr, code)
		acct.Balance = uint256.NewInt(balance)
	}
	root.putAccount(acct)
	if err := root.commit(); err != nil {
		return err
	}
	log.Debug(log.OrchestratorMonitoring, "account created", "account", acct.String())
	return nil
}

// Transfer moves amount from one account to another. A missing recipient is
// created.
func (a *AVM) Transfer(from, to common.Address, amount *uint256.Int) error {
	root := newOverlay(a.env, nil)
	if err := transfer(root, from, to, amount); err != nil {
		return err
	}
	return root.commit()
}

func transfer(o *overlay, from, to common.Address, amount *uint256.Int) error {
	src, ok, err := o.getAccount(from)
	if err != nil {
		return err
	}
	if !ok || src.GetBalance().Lt(amount) {
		return fmt.Errorf("%s: %w", from.Hex(), errInsufficientBalance)
	}
	if from == to {
		return nil
	}
	dst, ok, err := o.getAccount(to)
	if err != nil {
		return err
	}
	if !ok {
		dst = types.NewAccount(to, 0)
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst.GetBalance(), amount)
	if overflow {
		return fmt.Errorf("%s: %w", to.Hex(), errBalanceOverflow)
	}
	src.Balance = new(uint256.Int).Sub(src.GetBalance(), amount)
	dst.Balance = sum
	o.putAccount(src)
	o.putAccount(dst)
	return nil
}

// RunTx applies one transaction and reports the outcome in a receipt.
// Rejected transactions leave the state untouched.
func (a *AVM) RunTx(ctx context.Context, tx types.Transaction) *types.Receipt {
	rcpt := &types.Receipt{Tx: tx, Events: []types.Event{}}
	var err error
	switch tx.Type {
	case types.TxTransfer:
		err = a.Transfer(tx.From, tx.To, uint256.NewInt(tx.Value))
	case types.TxCreateAccount:
		err = a.CreateAccount(tx.To, tx.Data, tx.Value)
	case types.TxProgramCall:
		gas := tx.Gas
		if gas == 0 {
			gas = DefaultTxGas
		}
		var inv *types.Invocation
		if inv, err = a.Call(ctx, tx.From, tx.To, tx.Data, tx.Value, gas); err == nil {
			rcpt.Status = inv.Status
			rcpt.Result = inv.Result
			rcpt.Events = inv.Events
			rcpt.GasUsed = inv.GasUsed
			rcpt.Error = inv.Error
		}
	default:
		err = fmt.Errorf("unknown transaction type %d", tx.Type)
	}
	switch {
	case err != nil:
		rcpt.Status = types.StatusFailure
		rcpt.Result = types.FailureResult(avmerrors.NumericCode(avmerrors.KindOf(err)), nil)
		rcpt.Error = err.Error()
	case tx.Type != types.TxProgramCall:
		rcpt.Status = types.StatusSuccess
		rcpt.Result = types.SuccessResult(nil)
	}
	metricTxs().AddWithLabel(1, map[string]string{"type": tx.Type.String(), "status": rcpt.Status.String()})
	log.Debug(log.OrchestratorMonitoring, "transaction applied", "type", tx.Type, "to", tx.To.Hex(), "status", rcpt.Status, "err", rcpt.Error)
	return rcpt
}
