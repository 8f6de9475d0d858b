package program

import (
	"fmt"
	"strings"
)

// RegisterNames are the ABI names of x0..x31.
var RegisterNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of register r.
func RegName(r uint8) string {
	if int(r) < len(RegisterNames) {
		return RegisterNames[r]
	}
	return fmt.Sprintf("x%d", r)
}

// ParseRegister accepts an ABI name ("a0"), "fp", or an xN form.
func ParseRegister(name string) (uint8, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "fp" {
		return 8, true
	}
	for i, n := range RegisterNames {
		if n == name {
			return uint8(i), true
		}
	}
	var n int
	if _, err := fmt.Sscanf(name, "x%d", &n); err == nil && n >= 0 && n < 32 && fmt.Sprintf("x%d", n) == name {
		return uint8(n), true
	}
	return 0, false
}

// String renders the instruction in assembler syntax, e.g. "addi t0, zero, 42".
func (i Instruction) String() string {
	m := i.Op.String()
	if i.Compressed {
		m = "c." + m
	}
	rd, rs1, rs2 := RegName(i.Rd), RegName(i.Rs1), RegName(i.Rs2)
	switch i.Class() {
	case ClassLoad:
		return fmt.Sprintf("%s %s, %d(%s)", m, rd, i.Imm, rs1)
	case ClassStore:
		return fmt.Sprintf("%s %s, %d(%s)", m, rs2, i.Imm, rs1)
	case ClassBranch:
		return fmt.Sprintf("%s %s, %s, %d", m, rs1, rs2, i.Imm)
	case ClassAtomic:
		if i.Op == LR_W {
			return fmt.Sprintf("%s %s, (%s)", m, rd, rs1)
		}
		return fmt.Sprintf("%s %s, %s, (%s)", m, rd, rs2, rs1)
	case ClassSystem:
		return m
	}
	switch i.Op {
	case LUI, AUIPC:
		return fmt.Sprintf("%s %s, 0x%x", m, rd, uint32(i.Imm)>>12)
	case JAL:
		return fmt.Sprintf("%s %s, %d", m, rd, i.Imm)
	case JALR:
		return fmt.Sprintf("%s %s, %d(%s)", m, rd, i.Imm, rs1)
	case ADDI, SLTI, SLTIU, XORI, ORI, ANDI, SLLI, SRLI, SRAI:
		return fmt.Sprintf("%s %s, %s, %d", m, rd, rs1, i.Imm)
	case INVALID:
		return "invalid"
	}
	return fmt.Sprintf("%s %s, %s, %s", m, rd, rs1, rs2)
}
