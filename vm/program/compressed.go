package program

import (
	"github.com/colorfulnotion/avm/avmerrors"
)

// Compressed quadrant/funct3 pairs, keyed as funct3<<2 | op.
const (
	cAddi4spn      = 0b000<<2 | 0b00
	cLw            = 0b010<<2 | 0b00
	cSw            = 0b110<<2 | 0b00
	cAddi          = 0b000<<2 | 0b01
	cJal           = 0b001<<2 | 0b01
	cLi            = 0b010<<2 | 0b01
	cLuiOrAddi16sp = 0b011<<2 | 0b01
	cMiscAlu       = 0b100<<2 | 0b01
	cJ             = 0b101<<2 | 0b01
	cBeqz          = 0b110<<2 | 0b01
	cBnez          = 0b111<<2 | 0b01
	cSlli          = 0b000<<2 | 0b10
	cLwsp          = 0b010<<2 | 0b10
	cRegOrJump     = 0b100<<2 | 0b10
	cSwsp          = 0b110<<2 | 0b10
)

func cjImm(h uint32) int32 {
	v := ((h>>12)&1)<<11 | ((h>>11)&1)<<4 | ((h>>9)&3)<<8 | ((h>>8)&1)<<10 |
		((h>>7)&1)<<6 | ((h>>6)&1)<<7 | ((h>>3)&7)<<1 | ((h>>2)&1)<<5
	return signExtend(v, 12)
}

func ciImm(h uint32) int32 {
	return signExtend(((h>>7)&0x20)|((h>>2)&0x1f), 6)
}

// clImm is the word offset shared by C.LW and C.SW.
func clImm(h uint32) int32 {
	return int32(((h >> 7) & 0x38) | ((h >> 4) & 0x4) | ((h << 1) & 0x40))
}

// DecodeCompressed decodes the supported 16-bit subset by expanding it to
// the equivalent 32-bit instruction. Unsupported forms are illegal.
func DecodeCompressed(half uint16) (Instruction, error) {
	if half == 0 {
		return Instruction{}, avmerrors.ErrDecodeError
	}
	if !IsCompressed(half) {
		return Instruction{}, avmerrors.ErrDecodeError
	}
	h := uint32(half)
	inst := Instruction{Size: 2, Compressed: true, Raw: h}
	rdFull := uint8((h >> 7) & 0x1f)
	rs2Full := uint8((h >> 2) & 0x1f)
	rdPrime := uint8((h>>2)&0x7) + 8
	rs1Prime := uint8((h>>7)&0x7) + 8

	illegal := func() (Instruction, error) {
		return Instruction{}, avmerrors.ErrIllegalInstruction
	}

	switch (h>>13)<<2 | h&0b11 {
	case cAddi4spn:
		imm := ((h >> 7) & 0x30) | ((h >> 1) & 0x3c0) | ((h >> 4) & 0x4) | ((h >> 2) & 0x8)
		if imm == 0 {
			return illegal()
		}
		inst.Op, inst.Rd, inst.Rs1, inst.Imm = ADDI, rdPrime, 2, int32(imm)
	case cLw:
		inst.Op, inst.Rd, inst.Rs1, inst.Imm = LW, rdPrime, rs1Prime, clImm(h)
	case cSw:
		inst.Op, inst.Rs1, inst.Rs2, inst.Imm = SW, rs1Prime, rdPrime, clImm(h)
	case cAddi:
		inst.Op, inst.Rd, inst.Rs1, inst.Imm = ADDI, rdFull, rdFull, ciImm(h)
	case cJal:
		inst.Op, inst.Rd, inst.Imm = JAL, 1, cjImm(h)
	case cLi:
		inst.Op, inst.Rd, inst.Imm = ADDI, rdFull, ciImm(h)
	case cLuiOrAddi16sp:
		if rdFull == 2 {
			v := ((h >> 3) & 0x200) | ((h >> 2) & 0x10) | ((h << 1) & 0x40) | ((h << 4) & 0x180) | ((h << 3) & 0x20)
			if v == 0 {
				return illegal()
			}
			inst.Op, inst.Rd, inst.Rs1, inst.Imm = ADDI, 2, 2, signExtend(v, 10)
			break
		}
		v := ((h << 5) & 0x20000) | ((h << 10) & 0x1f000)
		if v == 0 || rdFull == 0 {
			return illegal()
		}
		inst.Op, inst.Rd, inst.Imm = LUI, rdFull, signExtend(v, 18)
	case cJ:
		inst.Op, inst.Rd, inst.Imm = JAL, 0, cjImm(h)
	case cSlli:
		shamt := ((h >> 7) & 0x20) | ((h >> 2) & 0x1f)
		if shamt&0x20 != 0 {
			return illegal()
		}
		inst.Op, inst.Rd, inst.Rs1, inst.Imm = SLLI, rdFull, rdFull, int32(shamt)
	case cRegOrJump:
		bit12 := (h >> 12) & 1
		switch {
		case bit12 == 0 && rs2Full == 0:
			if rdFull == 0 {
				return illegal()
			}
			inst.Op, inst.Rd, inst.Rs1 = JALR, 0, rdFull
		case bit12 == 0:
			inst.Op, inst.Rd, inst.Rs1, inst.Rs2 = ADD, rdFull, 0, rs2Full
		case rdFull == 0 && rs2Full == 0:
			inst.Op = EBREAK
		case rs2Full == 0:
			inst.Op, inst.Rd, inst.Rs1 = JALR, 1, rdFull
		default:
			inst.Op, inst.Rd, inst.Rs1, inst.Rs2 = ADD, rdFull, rdFull, rs2Full
		}
	case cSwsp:
		imm := ((h >> 7) & 0x3c) | ((h >> 1) & 0xc0)
		inst.Op, inst.Rs1, inst.Rs2, inst.Imm = SW, 2, rs2Full, int32(imm)
	case cMiscAlu, cBeqz, cBnez, cLwsp:
		return illegal()
	default:
		return illegal()
	}
	return inst, nil
}
