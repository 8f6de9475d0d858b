package program

// Instruction tags. Compressed encodings expand to one of these at decode time,
// so the executor never sees a compressed form.
type Opcode uint8

// RV32I base: upper immediates and jumps.
const (
	INVALID Opcode = iota
	LUI
	AUIPC
	JAL
	JALR
)

// RV32I base: branches.
const (
	BEQ Opcode = iota + 10
	BNE
	BLT
	BGE
	BLTU
	BGEU
)

// RV32I base: loads and stores.
const (
	LB Opcode = iota + 20
	LH
	LW
	LBU
	LHU
	SB
	SH
	SW
)

// RV32I base: register-immediate arithmetic.
const (
	ADDI Opcode = iota + 30
	SLTI
	SLTIU
	XORI
	ORI
	ANDI
	SLLI
	SRLI
	SRAI
)

// RV32I base: register-register arithmetic.
const (
	ADD Opcode = iota + 40
	SUB
	SLL
	SLT
	SLTU
	XOR
	SRL
	SRA
	OR
	AND
)

// RV32I base: fence and environment.
const (
	FENCE Opcode = iota + 50
	ECALL
	EBREAK
)

// RV32M.
const (
	MUL Opcode = iota + 60
	MULH
	MULHSU
	MULHU
	DIV
	DIVU
	REM
	REMU
)

// RV32A.
const (
	LR_W Opcode = iota + 70
	SC_W
	AMOSWAP_W
	AMOADD_W
	AMOXOR_W
	AMOAND_W
	AMOOR_W
	AMOMIN_W
	AMOMAX_W
	AMOMINU_W
	AMOMAXU_W
)

// Major opcodes (bits 6:0 of a 32-bit word).
const (
	opLOAD    = 0x03
	opMISCMEM = 0x0f
	opOPIMM   = 0x13
	opAUIPC   = 0x17
	opSTORE   = 0x23
	opAMO     = 0x2f
	opOP      = 0x33
	opLUI     = 0x37
	opBRANCH  = 0x63
	opJALR    = 0x67
	opJAL     = 0x6f
	opSYSTEM  = 0x73
)

func (op Opcode) String() string {
	name, exists := opcodeNames[op]
	if !exists {
		return "unknown"
	}
	return name
}

// OpcodeToString returns the assembler mnemonic of an opcode.
func OpcodeToString(op Opcode) string {
	return op.String()
}

var opcodeNames = map[Opcode]string{
	LUI: "lui", AUIPC: "auipc", JAL: "jal", JALR: "jalr",
	BEQ: "beq", BNE: "bne", BLT: "blt", BGE: "bge", BLTU: "bltu", BGEU: "bgeu",
	LB: "lb", LH: "lh", LW: "lw", LBU: "lbu", LHU: "lhu",
	SB: "sb", SH: "sh", SW: "sw",
	ADDI: "addi", SLTI: "slti", SLTIU: "sltiu", XORI: "xori", ORI: "ori", ANDI: "andi",
	SLLI: "slli", SRLI: "srli", SRAI: "srai",
	ADD: "add", SUB: "sub", SLL: "sll", SLT: "slt", SLTU: "sltu",
	XOR: "xor", SRL: "srl", SRA: "sra", OR: "or", AND: "and",
	FENCE: "fence", ECALL: "ecall", EBREAK: "ebreak",
	MUL: "mul", MULH: "mulh", MULHSU: "mulhsu", MULHU: "mulhu",
	DIV: "div", DIVU: "divu", REM: "rem", REMU: "remu",
	LR_W: "lr.w", SC_W: "sc.w", AMOSWAP_W: "amoswap.w", AMOADD_W: "amoadd.w",
	AMOXOR_W: "amoxor.w", AMOAND_W: "amoand.w", AMOOR_W: "amoor.w",
	AMOMIN_W: "amomin.w", AMOMAX_W: "amomax.w", AMOMINU_W: "amominu.w", AMOMAXU_W: "amomaxu.w",
}

// Class groups opcodes by how they are charged and executed.
type Class uint8

const (
	ClassInvalid Class = iota
	ClassArith
	ClassLoad
	ClassStore
	ClassBranch
	ClassJump
	ClassMulDiv
	ClassAtomic
	ClassSystem
)

var classNames = [...]string{"invalid", "arith", "load", "store", "branch", "jump", "muldiv", "atomic", "system"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "unknown"
}

// ClassOf returns the instruction class of op.
func ClassOf(op Opcode) Class {
	switch {
	case op == LUI || op == AUIPC:
		return ClassArith
	case op == JAL || op == JALR:
		return ClassJump
	case op >= BEQ && op <= BGEU:
		return ClassBranch
	case op >= LB && op <= LHU:
		return ClassLoad
	case op >= SB && op <= SW:
		return ClassStore
	case op >= ADDI && op <= AND:
		return ClassArith
	case op >= FENCE && op <= EBREAK:
		return ClassSystem
	case op >= MUL && op <= REMU:
		return ClassMulDiv
	case op >= LR_W && op <= AMOMAXU_W:
		return ClassAtomic
	}
	return ClassInvalid
}

// IsBasicBlockTerminator reports whether op ends a basic block.
func IsBasicBlockTerminator(op Opcode) bool {
	switch ClassOf(op) {
	case ClassBranch, ClassJump:
		return true
	}
	return op == ECALL || op == EBREAK
}

// MemoryWidth returns the access width in bytes of a load, store or atomic, or 0.
func MemoryWidth(op Opcode) uint32 {
	switch op {
	case LB, LBU, SB:
		return 1
	case LH, LHU, SH:
		return 2
	case LW, SW:
		return 4
	}
	if ClassOf(op) == ClassAtomic {
		return 4
	}
	return 0
}

// Instruction is a decoded instruction with all operands extracted.
type Instruction struct {
	Op         Opcode
	Rd         uint8
	Rs1        uint8
	Rs2        uint8
	Imm        int32
	Size       uint8 // encoded length, 2 or 4
	Compressed bool
	Aq         bool
	Rl         bool
	Raw        uint32
}

func (i Instruction) Class() Class { return ClassOf(i.Op) }

func (i Instruction) Width() uint32 { return MemoryWidth(i.Op) }

// Signed reports whether a load sign-extends its result.
func (i Instruction) Signed() bool { return i.Op == LB || i.Op == LH || i.Op == LW }
