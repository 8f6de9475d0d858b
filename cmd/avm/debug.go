package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/colorfulnotion/avm/avm"
	"github.com/colorfulnotion/avm/vm"
	"github.com/colorfulnotion/avm/vm/program"
)

const debugHelp = `commands:
  step [n]        execute n instructions (default 1); a syscall is one step
  cont            run until a breakpoint or the end
  break <pc>      toggle a breakpoint
  regs            print the registers
  mem <addr> <n>  hex dump n bytes
  dump            dump the context state
  quit`

func newDebugCmd() *cobra.Command {
	var (
		inputHex string
		gas      uint64
	)
	cmd := &cobra.Command{
		Use:   "debug <image>",
		Short: "Step through an image interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readImage(args[0])
			if err != nil {
				return err
			}
			input, err := parseHex(inputHex)
			if err != nil {
				return err
			}
			a, err := newAVM()
			if err != nil {
				return err
			}
			d, err := a.NewDebugger(code, input, gas)
			if err != nil {
				return err
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "(avm) ",
				HistoryFile:     "/tmp/avm_debug_history.txt",
				InterruptPrompt: "^C",
			})
			if err != nil {
				return fmt.Errorf("readline: %w", err)
			}
			defer rl.Close()
			fmt.Fprintln(rl.Stdout(), debugHelp)
			return (&debugSession{d: d, out: rl.Stdout(), breaks: map[uint32]bool{}}).loop(rl)
		},
	}
	cmd.Flags().StringVar(&inputHex, "input", "", "call input as hex")
	cmd.Flags().Uint64Var(&gas, "gas", avm.DefaultTxGas, "gas limit")
	return cmd
}

type debugSession struct {
	d      *avm.Debugger
	out    io.Writer
	breaks map[uint32]bool
}

func (s *debugSession) loop(rl *readline.Instance) error {
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "q" {
			return nil
		}
		if err := s.exec(fields[0], fields[1:]); err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
	}
}

func (s *debugSession) exec(cmd string, args []string) error {
	ctx := context.Background()
	cpu := s.d.CPU()
	switch cmd {
	case "step", "s":
		n := 1
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			n = v
		}
		for i := 0; i < n; i++ {
			if s.d.Step(ctx) {
				break
			}
		}
		s.where()
	case "cont", "c":
		s.d.Continue(ctx, s.breaks)
		s.where()
	case "break", "b":
		if len(args) != 1 {
			return errors.New("usage: break <pc>")
		}
		pc, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return err
		}
		s.breaks[uint32(pc)] = !s.breaks[uint32(pc)]
		if !s.breaks[uint32(pc)] {
			delete(s.breaks, uint32(pc))
		}
	case "regs", "r":
		fmt.Fprintln(s.out, cpu.Regs.String())
	case "mem", "m":
		if len(args) != 2 {
			return errors.New("usage: mem <addr> <n>")
		}
		addr, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return err
		}
		b, err := cpu.Mem.ReadBytes(uint32(addr), uint32(n))
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, spew.Sdump(b))
	case "dump", "d":
		ec := s.d.Context()
		spew.Fdump(s.out, struct {
			State   string
			PC      uint32
			Gas     *vm.GasMeter
			Syscall vm.SyscallRequest
			Fault   error
			Events  any
			Result  any
		}{
			State:   fmt.Sprintf("%s/%s", cpu.State, cpu.Halt),
			PC:      cpu.Regs.PC,
			Gas:     cpu.Gas,
			Syscall: cpu.Syscall,
			Fault:   ec.Fault,
			Events:  ec.Events,
			Result:  ec.Result,
		})
	case "help", "h":
		fmt.Fprintln(s.out, debugHelp)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// where prints the next instruction, or the outcome once the run is over.
func (s *debugSession) where() {
	if inv := s.d.Invocation(); inv != nil {
		fmt.Fprintf(s.out, "finished: %s gas=%d output=%x %s\n", inv.Status, inv.GasUsed, []byte(inv.Output), inv.Error)
		return
	}
	cpu := s.d.CPU()
	pc := cpu.Regs.PC
	text := "?"
	if b, err := cpu.Mem.ReadBytes(pc, 4); err == nil {
		if lines := program.Disassemble(b, pc); len(lines) > 0 && lines[0].Err == nil {
			text = lines[0].Inst.String()
		}
	}
	fmt.Fprintf(s.out, "pc=0x%08x  %-32s gas=%d steps=%d state=%s/%s\n", pc, text, cpu.Gas.Remaining(), cpu.Steps(), cpu.State, cpu.Halt)
}
