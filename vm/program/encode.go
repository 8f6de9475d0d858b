package program

import (
	"fmt"
)

func EncodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | (rs2&0x1f)<<20 | (rs1&0x1f)<<15 | (funct3&7)<<12 | (rd&0x1f)<<7 | opcode&0x7f
}

func EncodeI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xfff)<<20 | (rs1&0x1f)<<15 | (funct3&7)<<12 | (rd&0x1f)<<7 | opcode&0x7f
}

func EncodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm) & 0xfff
	return (u>>5)<<25 | (rs2&0x1f)<<20 | (rs1&0x1f)<<15 | (funct3&7)<<12 | (u&0x1f)<<7 | opcode&0x7f
}

func EncodeB(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return ((u>>12)&1)<<31 | ((u>>5)&0x3f)<<25 | (rs2&0x1f)<<20 | (rs1&0x1f)<<15 |
		(funct3&7)<<12 | ((u>>1)&0xf)<<8 | ((u>>11)&1)<<7 | opcode&0x7f
}

func EncodeU(opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xfffff000 | (rd&0x1f)<<7 | opcode&0x7f
}

func EncodeJ(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return ((u>>20)&1)<<31 | ((u>>1)&0x3ff)<<21 | ((u>>11)&1)<<20 | ((u>>12)&0xff)<<12 | (rd&0x1f)<<7 | opcode&0x7f
}

var (
	rFunct = map[Opcode][2]uint32{ // funct3, funct7
		ADD: {0, 0}, SUB: {0, 0x20}, SLL: {1, 0}, SLT: {2, 0}, SLTU: {3, 0},
		XOR: {4, 0}, SRL: {5, 0}, SRA: {5, 0x20}, OR: {6, 0}, AND: {7, 0},
		MUL: {0, 1}, MULH: {1, 1}, MULHSU: {2, 1}, MULHU: {3, 1},
		DIV: {4, 1}, DIVU: {5, 1}, REM: {6, 1}, REMU: {7, 1},
	}
	iFunct = map[Opcode]uint32{
		ADDI: 0, SLTI: 2, SLTIU: 3, XORI: 4, ORI: 6, ANDI: 7,
	}
	shiftFunct = map[Opcode][2]uint32{
		SLLI: {1, 0}, SRLI: {5, 0}, SRAI: {5, 0x20},
	}
	loadFunct   = map[Opcode]uint32{LB: 0, LH: 1, LW: 2, LBU: 4, LHU: 5}
	storeFunct  = map[Opcode]uint32{SB: 0, SH: 1, SW: 2}
	branchFunct = map[Opcode]uint32{BEQ: 0, BNE: 1, BLT: 4, BGE: 5, BLTU: 6, BGEU: 7}
	amoFunct5   = map[Opcode]uint32{
		AMOADD_W: 0x00, AMOSWAP_W: 0x01, LR_W: 0x02, SC_W: 0x03, AMOXOR_W: 0x04,
		AMOOR_W: 0x08, AMOAND_W: 0x0c, AMOMIN_W: 0x10, AMOMAX_W: 0x14,
		AMOMINU_W: 0x18, AMOMAXU_W: 0x1c,
	}
)

// Encode produces the canonical 32-bit word for a decoded instruction.
// Compressed instructions encode as their 32-bit expansion.
func Encode(i Instruction) (uint32, error) {
	rd, rs1, rs2 := uint32(i.Rd), uint32(i.Rs1), uint32(i.Rs2)
	if f, ok := rFunct[i.Op]; ok {
		return EncodeR(opOP, rd, f[0], rs1, rs2, f[1]), nil
	}
	if f, ok := iFunct[i.Op]; ok {
		return EncodeI(opOPIMM, rd, f, rs1, i.Imm), nil
	}
	if f, ok := shiftFunct[i.Op]; ok {
		return EncodeI(opOPIMM, rd, f[0], rs1, int32(f[1]<<5|uint32(i.Imm)&0x1f)), nil
	}
	if f, ok := loadFunct[i.Op]; ok {
		return EncodeI(opLOAD, rd, f, rs1, i.Imm), nil
	}
	if f, ok := storeFunct[i.Op]; ok {
		return EncodeS(opSTORE, f, rs1, rs2, i.Imm), nil
	}
	if f, ok := branchFunct[i.Op]; ok {
		return EncodeB(opBRANCH, f, rs1, rs2, i.Imm), nil
	}
	if f5, ok := amoFunct5[i.Op]; ok {
		var aqrl uint32
		if i.Aq {
			aqrl |= 2
		}
		if i.Rl {
			aqrl |= 1
		}
		return EncodeR(opAMO, rd, 2, rs1, rs2, f5<<2|aqrl), nil
	}
	switch i.Op {
	case LUI:
		return EncodeU(opLUI, rd, i.Imm), nil
	case AUIPC:
		return EncodeU(opAUIPC, rd, i.Imm), nil
	case JAL:
		return EncodeJ(opJAL, rd, i.Imm), nil
	case JALR:
		return EncodeI(opJALR, rd, 0, rs1, i.Imm), nil
	case FENCE:
		return 0x0ff0000f, nil
	case ECALL:
		return 0x00000073, nil
	case EBREAK:
		return 0x00100073, nil
	}
	return 0, fmt.Errorf("cannot encode opcode %d", i.Op)
}
