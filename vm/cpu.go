package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/log"
	"github.com/colorfulnotion/avm/vm/program"
	"github.com/colorfulnotion/avm/vm/trace"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

var errNotRunning = errors.New("cpu is halted")

// ctxCheckInterval is how many steps Run executes between context checks.
const ctxCheckInterval = 1024

// SyscallRequest is captured when an ECALL halts the CPU.
type SyscallRequest struct {
	ID   uint32
	Args [vmtypes.SyscallArgCount]uint32
	PC   uint32
}

// StepResult describes the instruction executed by Step.
type StepResult struct {
	PC   uint32
	Inst program.Instruction
	Gas  uint64
}

// CPU runs the fetch/decode/charge/execute loop of one context.
type CPU struct {
	Regs    Registers
	Mem     *MemoryPage
	Gas     *GasMeter
	State   vmtypes.State
	Halt    vmtypes.HaltReason
	Fault   *avmerrors.Fault
	Syscall SyscallRequest

	// Depth is the call depth of the owning context, copied into trace steps.
	Depth int

	schedule *GasSchedule
	cache    *DecodeCache
	image    common.Hash
	sink     trace.Sink
	steps    uint64

	nextPC uint32
	cur    *trace.TraceStep
}

type Option func(*CPU)

// WithDecodeCache shares cache between contexts; image identifies the code.
func WithDecodeCache(cache *DecodeCache, image common.Hash) Option {
	return func(c *CPU) {
		c.cache = cache
		c.image = image
	}
}

func WithTraceSink(sink trace.Sink) Option {
	return func(c *CPU) { c.sink = sink }
}

func WithDepth(depth int) Option {
	return func(c *CPU) { c.Depth = depth }
}

func NewCPU(mem *MemoryPage, gas *GasMeter, schedule *GasSchedule, opts ...Option) *CPU {
	c := &CPU{
		Mem:      mem,
		Gas:      gas,
		schedule: schedule,
		State:    vmtypes.Ready,
	}
	c.Regs.PC = mem.CodeStart
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Steps returns the number of instructions executed so far.
func (c *CPU) Steps() uint64 { return c.steps }

// Schedule returns the gas schedule the CPU charges against.
func (c *CPU) Schedule() *GasSchedule { return c.schedule }

func (c *CPU) Running() bool { return c.State == vmtypes.Running }

func (c *CPU) fault(kind error, addr uint32) *avmerrors.Fault {
	return avmerrors.NewMemoryFault(kind, c.Regs.PC, addr)
}

// Terminate halts the CPU with f.
func (c *CPU) Terminate(f *avmerrors.Fault) {
	c.State = vmtypes.Halted
	c.Halt = vmtypes.HaltFault
	c.Fault = f
	log.Debug(log.CPUMonitoring, "cpu fault", "depth", c.Depth, "pc", fmt.Sprintf("0x%x", f.PC), "err", f)
}

// Finish halts the CPU as returned.
func (c *CPU) Finish() {
	c.State = vmtypes.Halted
	c.Halt = vmtypes.HaltReturned
}

// Resume writes the syscall result to a0 and continues after the ECALL.
func (c *CPU) Resume(result uint32) error {
	if c.State != vmtypes.Halted || c.Halt != vmtypes.HaltSyscall {
		return fmt.Errorf("resume in state %s/%s", c.State, c.Halt)
	}
	c.Regs.Write(vmtypes.SyscallResultReg, result)
	c.State = vmtypes.Running
	c.Halt = vmtypes.HaltNone
	return nil
}

func (c *CPU) fetch(pc uint32) (program.Instruction, *avmerrors.Fault) {
	cacheable := c.cache != nil && c.Mem.IsCode(pc)
	if cacheable {
		if inst, ok := c.cache.get(c.image, pc); ok {
			return inst, nil
		}
	}
	lo, err := c.Mem.Load16(pc)
	if err != nil {
		return program.Instruction{}, c.fault(err, pc)
	}
	var hi uint32
	if !program.IsCompressed(uint16(lo)) {
		if pc > ^uint32(0)-2 {
			return program.Instruction{}, c.fault(avmerrors.ErrOutOfBoundsAccess, pc)
		}
		if hi, err = c.Mem.Load16(pc + 2); err != nil {
			return program.Instruction{}, c.fault(err, pc+2)
		}
	}
	inst, err := program.DecodeAt(uint16(lo), uint16(hi))
	if err != nil {
		return program.Instruction{}, c.fault(err, 0)
	}
	if cacheable {
		c.cache.add(c.image, pc, inst)
	}
	return inst, nil
}

// Step executes exactly one instruction. A Ready CPU becomes Running.
func (c *CPU) Step() (StepResult, error) {
	switch c.State {
	case vmtypes.Ready:
		c.State = vmtypes.Running
	case vmtypes.Halted:
		return StepResult{}, errNotRunning
	}
	pc := c.Regs.PC
	gasBefore := c.Gas.Remaining()

	inst, f := c.fetch(pc)
	if f != nil {
		c.Terminate(f)
		c.record(pc, 0, "", gasBefore)
		return StepResult{PC: pc}, f
	}
	res := StepResult{PC: pc, Inst: inst}

	cost := c.schedule.InstructionCost(inst)
	if err := c.Gas.Charge(cost); err != nil {
		f := c.fault(err, 0)
		c.Terminate(f)
		c.record(pc, inst.Raw, inst.String(), gasBefore)
		return res, f
	}
	res.Gas = cost

	c.steps++
	c.nextPC = pc + uint32(inst.Size)
	if c.sink != nil {
		c.cur = &trace.TraceStep{}
	}
	if f := dispatchTable[inst.Op](c, inst); f != nil {
		c.Terminate(f)
		c.record(pc, inst.Raw, inst.String(), gasBefore)
		return res, f
	}
	if c.State == vmtypes.Running {
		c.Regs.PC = c.nextPC
	}
	c.record(pc, inst.Raw, inst.String(), gasBefore)
	return res, nil
}

func (c *CPU) record(pc, raw uint32, mnemonic string, gasBefore uint64) {
	if c.sink == nil {
		return
	}
	st := c.cur
	if st == nil {
		st = &trace.TraceStep{}
	}
	c.cur = nil
	st.Depth = c.Depth
	st.Step = c.steps
	st.PC = pc
	st.Raw = raw
	st.Mnemonic = mnemonic
	st.GasBefore = gasBefore
	st.GasAfter = c.Gas.Remaining()
	if c.State == vmtypes.Halted {
		st.SetPostMachineState(c.Halt.String())
		if c.Fault != nil {
			st.SetPostMachineState(avmerrors.GetErrorName(c.Fault.Kind))
			st.SetPostFaultAddress(c.Fault.Addr)
		}
	}
	c.sink.Record(st)
}

// Run steps until the CPU halts and returns the halt reason. ctx is only
// consulted between instructions; cancellation halts with ErrCancelled.
func (c *CPU) Run(ctx context.Context) vmtypes.HaltReason {
	if c.State == vmtypes.Ready {
		c.State = vmtypes.Running
	}
	for c.State == vmtypes.Running {
		if c.steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				c.Terminate(avmerrors.CancelFault(err, c.Regs.PC))
				break
			}
		}
		c.Step()
	}
	return c.Halt
}

// ====================== helpers used by handlers ======================

func (c *CPU) writeReg(rd uint8, v uint32) {
	c.Regs.Write(rd, v)
	if c.cur != nil && rd != 0 {
		c.cur.SetChangedRegister(rd, v)
	}
}

func (c *CPU) noteStore(addr uint32, width uint32, v uint32) {
	if c.cur == nil {
		return
	}
	b := common.Uint32ToBytes(v)
	c.cur.SetChangedMemory(addr, b[:width])
}

// jump validates target and either halts (target 0) or schedules it.
func (c *CPU) jump(target uint32) *avmerrors.Fault {
	if target%2 != 0 {
		return c.fault(avmerrors.ErrMisalignedAccess, target)
	}
	if target == 0 {
		c.Regs.PC = 0
		c.Finish()
		return nil
	}
	c.nextPC = target
	return nil
}
