package program

import (
	"github.com/colorfulnotion/avm/avmerrors"
)

// IsCompressed reports whether the halfword starts a 16-bit instruction.
func IsCompressed(lo16 uint16) bool {
	return lo16&0b11 != 0b11
}

// DecodeAt decodes the instruction whose first halfword is lo16. hi16 is
// ignored for compressed instructions.
func DecodeAt(lo16, hi16 uint16) (Instruction, error) {
	if IsCompressed(lo16) {
		return DecodeCompressed(lo16)
	}
	return Decode(uint32(lo16) | uint32(hi16)<<16)
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func immI(w uint32) int32 { return int32(w) >> 20 }

func immS(w uint32) int32 {
	return signExtend((w>>25)<<5|(w>>7)&0x1f, 12)
}

func immB(w uint32) int32 {
	v := (w>>31)<<12 | ((w>>7)&1)<<11 | ((w>>25)&0x3f)<<5 | ((w>>8)&0xf)<<1
	return signExtend(v, 13)
}

func immU(w uint32) int32 { return int32(w & 0xfffff000) }

func immJ(w uint32) int32 {
	v := (w>>31)<<20 | ((w>>12)&0xff)<<12 | ((w>>20)&1)<<11 | ((w>>21)&0x3ff)<<1
	return signExtend(v, 21)
}

// Decode decodes a 32-bit instruction word. A word whose low two bits are
// not 0b11 is decoded as the 16-bit instruction in its low halfword.
func Decode(w uint32) (Instruction, error) {
	if w == 0 || w == 0xffffffff {
		return Instruction{}, avmerrors.ErrDecodeError
	}
	if IsCompressed(uint16(w)) {
		return DecodeCompressed(uint16(w))
	}
	if (w>>2)&0b111 == 0b111 {
		// 48-bit and longer encodings
		return Instruction{}, avmerrors.ErrDecodeError
	}

	inst := Instruction{
		Rd:   uint8((w >> 7) & 0x1f),
		Rs1:  uint8((w >> 15) & 0x1f),
		Rs2:  uint8((w >> 20) & 0x1f),
		Size: 4,
		Raw:  w,
	}
	funct3 := (w >> 12) & 0b111
	funct7 := w >> 25

	illegal := func() (Instruction, error) {
		return Instruction{}, avmerrors.ErrIllegalInstruction
	}

	switch w & 0x7f {
	case opLUI:
		inst.Op, inst.Imm = LUI, immU(w)
		inst.Rs1, inst.Rs2 = 0, 0
	case opAUIPC:
		inst.Op, inst.Imm = AUIPC, immU(w)
		inst.Rs1, inst.Rs2 = 0, 0
	case opJAL:
		inst.Op, inst.Imm = JAL, immJ(w)
		inst.Rs1, inst.Rs2 = 0, 0
	case opJALR:
		if funct3 != 0 {
			return illegal()
		}
		inst.Op, inst.Imm = JALR, immI(w)
		inst.Rs2 = 0
	case opBRANCH:
		ops := [8]Opcode{BEQ, BNE, INVALID, INVALID, BLT, BGE, BLTU, BGEU}
		if ops[funct3] == INVALID {
			return illegal()
		}
		inst.Op, inst.Imm = ops[funct3], immB(w)
		inst.Rd = 0
	case opLOAD:
		ops := [8]Opcode{LB, LH, LW, INVALID, LBU, LHU, INVALID, INVALID}
		if ops[funct3] == INVALID {
			return illegal()
		}
		inst.Op, inst.Imm = ops[funct3], immI(w)
		inst.Rs2 = 0
	case opSTORE:
		ops := [8]Opcode{SB, SH, SW, INVALID, INVALID, INVALID, INVALID, INVALID}
		if ops[funct3] == INVALID {
			return illegal()
		}
		inst.Op, inst.Imm = ops[funct3], immS(w)
		inst.Rd = 0
	case opOPIMM:
		inst.Imm = immI(w)
		inst.Rs2 = 0
		switch funct3 {
		case 0b000:
			inst.Op = ADDI
		case 0b010:
			inst.Op = SLTI
		case 0b011:
			inst.Op = SLTIU
		case 0b100:
			inst.Op = XORI
		case 0b110:
			inst.Op = ORI
		case 0b111:
			inst.Op = ANDI
		case 0b001:
			if funct7 != 0x00 {
				return illegal()
			}
			inst.Op, inst.Imm = SLLI, int32((w>>20)&0x1f)
		case 0b101:
			switch funct7 {
			case 0x00:
				inst.Op = SRLI
			case 0x20:
				inst.Op = SRAI
			default:
				return illegal()
			}
			inst.Imm = int32((w >> 20) & 0x1f)
		}
	case opOP:
		var ops [8]Opcode
		switch funct7 {
		case 0x00:
			ops = [8]Opcode{ADD, SLL, SLT, SLTU, XOR, SRL, OR, AND}
		case 0x20:
			ops = [8]Opcode{SUB, INVALID, INVALID, INVALID, INVALID, SRA, INVALID, INVALID}
		case 0x01:
			ops = [8]Opcode{MUL, MULH, MULHSU, MULHU, DIV, DIVU, REM, REMU}
		default:
			return illegal()
		}
		if ops[funct3] == INVALID {
			return illegal()
		}
		inst.Op = ops[funct3]
	case opAMO:
		if funct3 != 0b010 {
			return illegal()
		}
		inst.Aq = (w>>26)&1 == 1
		inst.Rl = (w>>25)&1 == 1
		switch w >> 27 {
		case 0x02:
			if inst.Rs2 != 0 {
				return illegal()
			}
			inst.Op = LR_W
		case 0x03:
			inst.Op = SC_W
		case 0x01:
			inst.Op = AMOSWAP_W
		case 0x00:
			inst.Op = AMOADD_W
		case 0x04:
			inst.Op = AMOXOR_W
		case 0x0c:
			inst.Op = AMOAND_W
		case 0x08:
			inst.Op = AMOOR_W
		case 0x10:
			inst.Op = AMOMIN_W
		case 0x14:
			inst.Op = AMOMAX_W
		case 0x18:
			inst.Op = AMOMINU_W
		case 0x1c:
			inst.Op = AMOMAXU_W
		default:
			return illegal()
		}
	case opMISCMEM:
		if funct3 != 0 {
			return illegal()
		}
		inst = Instruction{Op: FENCE, Size: 4, Raw: w}
	case opSYSTEM:
		// CSR access, MRET and WFI touch privileged state the sandbox does not have.
		if funct3 != 0 || inst.Rd != 0 || inst.Rs1 != 0 {
			return illegal()
		}
		switch w >> 20 {
		case 0:
			inst = Instruction{Op: ECALL, Size: 4, Raw: w}
		case 1:
			inst = Instruction{Op: EBREAK, Size: 4, Raw: w}
		default:
			return illegal()
		}
	default:
		return illegal()
	}
	return inst, nil
}
