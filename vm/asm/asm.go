// Package asm assembles RV32IMAC programs for tests, fixtures and the CLI.
// Helpers return raw instruction words; Builder lays them out little-endian.
package asm

import (
	"encoding/binary"

	"github.com/colorfulnotion/avm/vm/program"
)

// Register numbers by ABI name.
const (
	Zero uint8 = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

func r(x uint8) uint32 { return uint32(x) }

// ====================== base integer ======================

func LUI(rd uint8, imm int32) uint32 { return program.EncodeU(0x37, r(rd), imm) }
func AUIPC(rd uint8, imm int32) uint32 { return program.EncodeU(0x17, r(rd), imm) }
func JAL(rd uint8, off int32) uint32 { return program.EncodeJ(0x6f, r(rd), off) }
func JALR(rd, rs1 uint8, imm int32) uint32 {
	return program.EncodeI(0x67, r(rd), 0, r(rs1), imm)
}

func BEQ(rs1, rs2 uint8, off int32) uint32 { return program.EncodeB(0x63, 0, r(rs1), r(rs2), off) }
func BNE(rs1, rs2 uint8, off int32) uint32 { return program.EncodeB(0x63, 1, r(rs1), r(rs2), off) }
func BLT(rs1, rs2 uint8, off int32) uint32 { return program.EncodeB(0x63, 4, r(rs1), r(rs2), off) }
func BGE(rs1, rs2 uint8, off int32) uint32 { return program.EncodeB(0x63, 5, r(rs1), r(rs2), off) }
func BLTU(rs1, rs2 uint8, off int32) uint32 { return program.EncodeB(0x63, 6, r(rs1), r(rs2), off) }
func BGEU(rs1, rs2 uint8, off int32) uint32 { return program.EncodeB(0x63, 7, r(rs1), r(rs2), off) }

func LB(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x03, r(rd), 0, r(rs1), imm) }
func LH(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x03, r(rd), 1, r(rs1), imm) }
func LW(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x03, r(rd), 2, r(rs1), imm) }
func LBU(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x03, r(rd), 4, r(rs1), imm) }
func LHU(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x03, r(rd), 5, r(rs1), imm) }

func SB(rs2, rs1 uint8, imm int32) uint32 { return program.EncodeS(0x23, 0, r(rs1), r(rs2), imm) }
func SH(rs2, rs1 uint8, imm int32) uint32 { return program.EncodeS(0x23, 1, r(rs1), r(rs2), imm) }
func SW(rs2, rs1 uint8, imm int32) uint32 { return program.EncodeS(0x23, 2, r(rs1), r(rs2), imm) }

func ADDI(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x13, r(rd), 0, r(rs1), imm) }
func SLTI(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x13, r(rd), 2, r(rs1), imm) }
func SLTIU(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x13, r(rd), 3, r(rs1), imm) }
func XORI(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x13, r(rd), 4, r(rs1), imm) }
func ORI(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x13, r(rd), 6, r(rs1), imm) }
func ANDI(rd, rs1 uint8, imm int32) uint32 { return program.EncodeI(0x13, r(rd), 7, r(rs1), imm) }
func SLLI(rd, rs1 uint8, sh uint8) uint32 {
	return program.EncodeI(0x13, r(rd), 1, r(rs1), int32(sh&0x1f))
}
func SRLI(rd, rs1 uint8, sh uint8) uint32 {
	return program.EncodeI(0x13, r(rd), 5, r(rs1), int32(sh&0x1f))
}
func SRAI(rd, rs1 uint8, sh uint8) uint32 {
	return program.EncodeI(0x13, r(rd), 5, r(rs1), int32(0x400|uint32(sh&0x1f)))
}

func rtype(f3, f7 uint32) func(rd, rs1, rs2 uint8) uint32 {
	return func(rd, rs1, rs2 uint8) uint32 {
		return program.EncodeR(0x33, r(rd), f3, r(rs1), r(rs2), f7)
	}
}

var (
	ADD    = rtype(0, 0)
	SUB    = rtype(0, 0x20)
	SLL    = rtype(1, 0)
	SLT    = rtype(2, 0)
	SLTU   = rtype(3, 0)
	XOR    = rtype(4, 0)
	SRL    = rtype(5, 0)
	SRA    = rtype(5, 0x20)
	OR     = rtype(6, 0)
	AND    = rtype(7, 0)
	MUL    = rtype(0, 1)
	MULH   = rtype(1, 1)
	MULHSU = rtype(2, 1)
	MULHU  = rtype(3, 1)
	DIV    = rtype(4, 1)
	DIVU   = rtype(5, 1)
	REM    = rtype(6, 1)
	REMU   = rtype(7, 1)
)

const (
	FENCE  uint32 = 0x0ff0000f
	ECALL  uint32 = 0x00000073
	EBREAK uint32 = 0x00100073
	// RET is jalr zero, 0(ra).
	RET uint32 = 0x00008067
	NOP uint32 = 0x00000013
)

// ====================== atomics ======================

func amo(funct5 uint32) func(rd, rs1, rs2 uint8) uint32 {
	return func(rd, rs1, rs2 uint8) uint32 {
		return program.EncodeR(0x2f, r(rd), 2, r(rs1), r(rs2), funct5<<2)
	}
}

func LRW(rd, rs1 uint8) uint32 { return program.EncodeR(0x2f, r(rd), 2, r(rs1), 0, 0x02<<2) }

// SCW stores rs2 at (rs1) if the reservation holds; rd receives 0 on success.
func SCW(rd, rs1, rs2 uint8) uint32 { return program.EncodeR(0x2f, r(rd), 2, r(rs1), r(rs2), 0x03<<2) }

var (
	AMOSWAPW = amo(0x01)
	AMOADDW  = amo(0x00)
	AMOXORW  = amo(0x04)
	AMOANDW  = amo(0x0c)
	AMOORW   = amo(0x08)
	AMOMINW  = amo(0x10)
	AMOMAXW  = amo(0x14)
	AMOMINUW = amo(0x18)
	AMOMAXUW = amo(0x1c)
)

// ====================== compressed ======================

func c(funct3, op uint32, body uint32) uint16 {
	return uint16(funct3<<13 | body | op)
}

func CLI(rd uint8, imm int32) uint16 {
	u := uint32(imm)
	return c(0b010, 0b01, ((u>>5)&1)<<12|r(rd)<<7|(u&0x1f)<<2)
}

func CADDI(rd uint8, imm int32) uint16 {
	u := uint32(imm)
	return c(0b000, 0b01, ((u>>5)&1)<<12|r(rd)<<7|(u&0x1f)<<2)
}

func cjBody(off int32) uint32 {
	o := uint32(off)
	return ((o>>11)&1)<<12 | ((o>>4)&1)<<11 | ((o>>8)&3)<<9 | ((o>>10)&1)<<8 |
		((o>>6)&1)<<7 | ((o>>7)&1)<<6 | ((o>>1)&7)<<3 | ((o>>5)&1)<<2
}

func CJ(off int32) uint16 { return c(0b101, 0b01, cjBody(off)) }
func CJAL(off int32) uint16 { return c(0b001, 0b01, cjBody(off)) }

func CLUI(rd uint8, imm int32) uint16 {
	u := uint32(imm)
	return c(0b011, 0b01, ((u>>17)&1)<<12|r(rd)<<7|((u>>12)&0x1f)<<2)
}

func CADDI16SP(imm int32) uint16 {
	u := uint32(imm)
	return c(0b011, 0b01, ((u>>9)&1)<<12|2<<7|((u>>4)&1)<<6|((u>>6)&1)<<5|((u>>7)&3)<<3|((u>>5)&1)<<2)
}

// CADDI4SPN computes rd = sp + uimm; rd must be one of x8..x15.
func CADDI4SPN(rd uint8, uimm uint32) uint16 {
	return c(0b000, 0b00, ((uimm>>4)&3)<<11|((uimm>>6)&0xf)<<7|((uimm>>2)&1)<<6|((uimm>>3)&1)<<5|(r(rd)-8)<<2)
}

func clBody(rdOrRs2, rs1 uint8, uimm uint32) uint32 {
	return ((uimm>>3)&7)<<10 | (r(rs1)-8)<<7 | ((uimm>>2)&1)<<6 | ((uimm>>6)&1)<<5 | (r(rdOrRs2)-8)<<2
}

func CLW(rd, rs1 uint8, uimm uint32) uint16 { return c(0b010, 0b00, clBody(rd, rs1, uimm)) }
func CSW(rs2, rs1 uint8, uimm uint32) uint16 { return c(0b110, 0b00, clBody(rs2, rs1, uimm)) }

func CSLLI(rd uint8, sh uint8) uint16 {
	return c(0b000, 0b10, r(rd)<<7|uint32(sh&0x1f)<<2)
}

func CJR(rs1 uint8) uint16 { return c(0b100, 0b10, r(rs1)<<7) }
func CJALR(rs1 uint8) uint16 { return c(0b100, 0b10, 1<<12|r(rs1)<<7) }
func CMV(rd, rs2 uint8) uint16 { return c(0b100, 0b10, r(rd)<<7|r(rs2)<<2) }
func CADD(rd, rs2 uint8) uint16 { return c(0b100, 0b10, 1<<12|r(rd)<<7|r(rs2)<<2) }
func CSWSP(rs2 uint8, uimm uint32) uint16 {
	return c(0b110, 0b10, ((uimm>>2)&0xf)<<9|((uimm>>6)&3)<<7|r(rs2)<<2)
}

const CEBREAK uint16 = 0x9002

// ====================== program builder ======================

// Builder lays out a program image.
type Builder struct {
	buf []byte
}

func NewBuilder() *Builder { return &Builder{} }

// Emit appends 32-bit instruction words.
func (b *Builder) Emit(words ...uint32) *Builder {
	for _, w := range words {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, w)
	}
	return b
}

// Emit16 appends 16-bit compressed instructions.
func (b *Builder) Emit16(halves ...uint16) *Builder {
	for _, h := range halves {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, h)
	}
	return b
}

// Li loads a 32-bit constant with at most two instructions.
func (b *Builder) Li(rd uint8, v uint32) *Builder {
	return b.Emit(Li(rd, v)...)
}

// Syscall loads id into a7 and issues ECALL.
func (b *Builder) Syscall(id uint32) *Builder {
	return b.Li(A7, id).Emit(ECALL)
}

// Data appends raw bytes, padded to a 4-byte boundary.
func (b *Builder) Data(d []byte) *Builder {
	b.buf = append(b.buf, d...)
	for len(b.buf)%4 != 0 {
		b.buf = append(b.buf, 0)
	}
	return b
}

// Offset is the current length of the image in bytes.
func (b *Builder) Offset() uint32 { return uint32(len(b.buf)) }

func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Li returns the LUI/ADDI sequence that loads v into rd.
func Li(rd uint8, v uint32) []uint32 {
	hi := (v + 0x800) & 0xfffff000
	lo := int32(v - hi)
	if hi == 0 {
		return []uint32{ADDI(rd, Zero, lo)}
	}
	if lo == 0 {
		return []uint32{LUI(rd, int32(hi))}
	}
	return []uint32{LUI(rd, int32(hi)), ADDI(rd, rd, lo)}
}
