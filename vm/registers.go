package vm

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/avm/vm/program"
)

// Registers is the register file of one context. x0 reads as zero and
// ignores writes.
type Registers struct {
	X  [32]uint32
	PC uint32
}

func (r *Registers) Read(i uint8) uint32 {
	if i == 0 {
		return 0
	}
	return r.X[i&31]
}

func (r *Registers) Write(i uint8, v uint32) {
	if i == 0 {
		return
	}
	r.X[i&31] = v
}

// ABIName returns the ABI name of register i ("a0", "sp", ...).
func ABIName(i uint8) string {
	return program.RegName(i)
}

// ParseRegister resolves an ABI name or xN form to a register number.
func ParseRegister(name string) (uint8, bool) {
	return program.ParseRegister(name)
}

func (r *Registers) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pc=0x%08x\n", r.PC)
	for i := 0; i < 32; i++ {
		fmt.Fprintf(&sb, "%-4s=0x%08x", ABIName(uint8(i)), r.Read(uint8(i)))
		if i%4 == 3 {
			sb.WriteByte('\n')
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
