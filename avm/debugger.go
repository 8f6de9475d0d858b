package avm

import (
	"context"

	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/types"
	"github.com/colorfulnotion/avm/vm"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

// Debugger single-steps the outermost context of an Invoke. A syscall is
// served in one step, nested calls included.
type Debugger struct {
	s    *session
	root *overlay
	ec   *ExecutionContext
	inv  *types.Invocation
}

func (a *AVM) NewDebugger(code, input []byte, gasLimit uint64) (*Debugger, error) {
	if err := a.checkInput(input); err != nil {
		return nil, err
	}
	img, err := LoadImage(code, a.cfg)
	if err != nil {
		return nil, err
	}
	root := newOverlay(a.env, nil)
	s, ec, err := a.start(root, common.ZeroAddress, common.ZeroAddress, img, input, gasLimit, 0)
	if err != nil {
		return nil, err
	}
	return &Debugger{s: s, root: root, ec: ec}, nil
}

func (d *Debugger) CPU() *vm.CPU                { return d.ec.CPU }
func (d *Debugger) Context() *ExecutionContext { return d.ec }

// Invocation is nil until the context has halted for good.
func (d *Debugger) Invocation() *types.Invocation { return d.inv }

// Step executes one instruction or serves the pending syscall. It reports
// whether the context is done.
func (d *Debugger) Step(ctx context.Context) bool {
	if d.inv != nil {
		return true
	}
	c := d.ec.CPU
	switch {
	case c.State == vmtypes.Halted && c.Halt == vmtypes.HaltSyscall:
		d.s.syscall(ctx, d.ec)
	case c.State != vmtypes.Halted:
		c.Step()
	}
	if c.State == vmtypes.Halted && c.Halt != vmtypes.HaltSyscall {
		d.s.finish(d.ec)
		d.inv = d.s.conclude(d.root, d.ec)
		return true
	}
	return false
}

// Continue steps until the context is done, ctx is cancelled or the pc hits
// one of breakpoints after at least one step.
func (d *Debugger) Continue(ctx context.Context, breakpoints map[uint32]bool) bool {
	for {
		if d.Step(ctx) {
			return true
		}
		if ctx.Err() != nil || breakpoints[d.ec.CPU.Regs.PC] {
			return false
		}
	}
}
