package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/arch/riscv64/riscv64asm"
	"golang.org/x/exp/slices"

	"github.com/colorfulnotion/avm/avm"
	"github.com/colorfulnotion/avm/vm/program"
)

func newDisasmCmd() *cobra.Command {
	var gnu, stats bool
	cmd := &cobra.Command{
		Use:   "disasm <image>",
		Short: "Linear disassembly of an image's code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readImage(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			img, err := avm.LoadImage(raw, cfg)
			if err != nil {
				return err
			}
			disassemble(os.Stdout, img.Code, cfg.ProgramStartAddr, img.Entry, gnu)
			if stats {
				printStats(os.Stdout, program.Analyze(img.Code))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&gnu, "gnu", false, "add a GNU-syntax column from the x/arch decoder")
	cmd.Flags().BoolVar(&stats, "stats", false, "print instruction statistics")
	return cmd
}

// disassemble writes one line per instruction. The reference column decodes
// with the RV64 decoder and may differ for RV32-only compressed forms.
func disassemble(w io.Writer, code []byte, base, entry uint32, gnu bool) {
	for _, l := range program.Disassemble(code, base) {
		mark := "  "
		if l.PC == base+entry {
			mark = "> "
		}
		text := "<invalid>"
		if l.Err == nil {
			text = l.Inst.String()
		}
		enc := fmt.Sprintf("%08x", l.Raw)
		if l.Size == 2 {
			enc = fmt.Sprintf("    %04x", l.Raw)
		}
		line := fmt.Sprintf("%s%08x: %s  %-32s", mark, l.PC, enc, text)
		if gnu {
			off := l.PC - base
			if inst, err := riscv64asm.Decode(code[off:]); err == nil {
				line += "  | " + riscv64asm.GNUSyntax(inst)
			} else {
				line += "  | ?"
			}
		}
		fmt.Fprintln(w, line)
	}
}

func printStats(w io.Writer, s *program.ProgramStats) {
	fmt.Fprintf(w, "\ninstructions %d (compressed %d), invalid %d, basic blocks %d\n",
		s.InstructionCount, s.CompressedCount, s.InvalidCount, s.BasicBlockCount)
	classes := make([]program.Class, 0, len(s.ClassDistribution))
	for c := range s.ClassDistribution {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	for _, c := range classes {
		fmt.Fprintf(w, "  %-10v %d\n", c, s.ClassDistribution[c])
	}
}
