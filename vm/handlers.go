package vm

import (
	"math"
	"math/bits"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/vm/program"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

func init() {
	initDispatchTable()
}

// OpcodeHandler executes one decoded instruction. A non-nil fault halts the
// CPU; registers, memory and pc are left as they were before the instruction.
type OpcodeHandler func(c *CPU, inst program.Instruction) *avmerrors.Fault

var dispatchTable [256]OpcodeHandler

type aluOp func(a, b uint32) uint32

var aluOps = map[program.Opcode]aluOp{
	program.ADD:  func(a, b uint32) uint32 { return a + b },
	program.SUB:  func(a, b uint32) uint32 { return a - b },
	program.SLL:  func(a, b uint32) uint32 { return a << (b & 31) },
	program.SLT:  func(a, b uint32) uint32 { return boolToU32(int32(a) < int32(b)) },
	program.SLTU: func(a, b uint32) uint32 { return boolToU32(a < b) },
	program.XOR:  func(a, b uint32) uint32 { return a ^ b },
	program.SRL:  func(a, b uint32) uint32 { return a >> (b & 31) },
	program.SRA:  func(a, b uint32) uint32 { return uint32(int32(a) >> (b & 31)) },
	program.OR:   func(a, b uint32) uint32 { return a | b },
	program.AND:  func(a, b uint32) uint32 { return a & b },

	program.MUL: func(a, b uint32) uint32 { return a * b },
	program.MULH: func(a, b uint32) uint32 {
		return uint32(uint64(int64(int32(a))*int64(int32(b))) >> 32)
	},
	program.MULHSU: func(a, b uint32) uint32 {
		return uint32(uint64(int64(int32(a))*int64(b)) >> 32)
	},
	program.MULHU: func(a, b uint32) uint32 {
		hi, _ := bits.Mul32(a, b)
		return hi
	},
	program.DIV:  div,
	program.DIVU: divu,
	program.REM:  rem,
	program.REMU: remu,
}

// register-immediate forms share the register-register semantics.
var immOps = map[program.Opcode]program.Opcode{
	program.ADDI:  program.ADD,
	program.SLTI:  program.SLT,
	program.SLTIU: program.SLTU,
	program.XORI:  program.XOR,
	program.ORI:   program.OR,
	program.ANDI:  program.AND,
	program.SLLI:  program.SLL,
	program.SRLI:  program.SRL,
	program.SRAI:  program.SRA,
}

var amoOps = map[program.Opcode]aluOp{
	program.AMOSWAP_W: func(_, b uint32) uint32 { return b },
	program.AMOADD_W:  func(a, b uint32) uint32 { return a + b },
	program.AMOXOR_W:  func(a, b uint32) uint32 { return a ^ b },
	program.AMOAND_W:  func(a, b uint32) uint32 { return a & b },
	program.AMOOR_W:   func(a, b uint32) uint32 { return a | b },
	program.AMOMIN_W: func(a, b uint32) uint32 {
		if int32(a) < int32(b) {
			return a
		}
		return b
	},
	program.AMOMAX_W: func(a, b uint32) uint32 {
		if int32(a) > int32(b) {
			return a
		}
		return b
	},
	program.AMOMINU_W: func(a, b uint32) uint32 { return min(a, b) },
	program.AMOMAXU_W: func(a, b uint32) uint32 { return max(a, b) },
}

type branchCond func(a, b uint32) bool

var branchConds = map[program.Opcode]branchCond{
	program.BEQ:  func(a, b uint32) bool { return a == b },
	program.BNE:  func(a, b uint32) bool { return a != b },
	program.BLT:  func(a, b uint32) bool { return int32(a) < int32(b) },
	program.BGE:  func(a, b uint32) bool { return int32(a) >= int32(b) },
	program.BLTU: func(a, b uint32) bool { return a < b },
	program.BGEU: func(a, b uint32) bool { return a >= b },
}

func initDispatchTable() {
	for i := range dispatchTable {
		dispatchTable[i] = handleINVALID
	}

	dispatchTable[program.LUI] = handleLUI
	dispatchTable[program.AUIPC] = handleAUIPC
	dispatchTable[program.JAL] = handleJAL
	dispatchTable[program.JALR] = handleJALR

	for op, cond := range branchConds {
		dispatchTable[op] = branchHandler(cond)
	}

	for _, op := range []program.Opcode{program.LB, program.LH, program.LW, program.LBU, program.LHU} {
		dispatchTable[op] = handleLoad
	}
	for _, op := range []program.Opcode{program.SB, program.SH, program.SW} {
		dispatchTable[op] = handleStore
	}

	for op, fn := range aluOps {
		dispatchTable[op] = regHandler(fn)
	}
	for op, base := range immOps {
		dispatchTable[op] = immHandler(aluOps[base])
	}

	dispatchTable[program.FENCE] = handleFENCE
	dispatchTable[program.ECALL] = handleECALL
	dispatchTable[program.EBREAK] = handleEBREAK

	dispatchTable[program.LR_W] = handleLR_W
	dispatchTable[program.SC_W] = handleSC_W
	for op, fn := range amoOps {
		dispatchTable[op] = amoHandler(fn)
	}
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func div(a, b uint32) uint32 {
	switch {
	case b == 0:
		return math.MaxUint32
	case int32(a) == math.MinInt32 && int32(b) == -1:
		return a
	}
	return uint32(int32(a) / int32(b))
}

func divu(a, b uint32) uint32 {
	if b == 0 {
		return math.MaxUint32
	}
	return a / b
}

func rem(a, b uint32) uint32 {
	switch {
	case b == 0:
		return a
	case int32(a) == math.MinInt32 && int32(b) == -1:
		return 0
	}
	return uint32(int32(a) % int32(b))
}

func remu(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

// ====================== Control flow ======================

func handleINVALID(c *CPU, inst program.Instruction) *avmerrors.Fault {
	return c.fault(avmerrors.ErrIllegalInstruction, 0)
}

func handleLUI(c *CPU, inst program.Instruction) *avmerrors.Fault {
	c.writeReg(inst.Rd, uint32(inst.Imm))
	return nil
}

func handleAUIPC(c *CPU, inst program.Instruction) *avmerrors.Fault {
	c.writeReg(inst.Rd, c.Regs.PC+uint32(inst.Imm))
	return nil
}

func handleJAL(c *CPU, inst program.Instruction) *avmerrors.Fault {
	target := c.Regs.PC + uint32(inst.Imm)
	if target%2 != 0 {
		return c.fault(avmerrors.ErrMisalignedAccess, target)
	}
	c.writeReg(inst.Rd, c.nextPC)
	return c.jump(target)
}

func handleJALR(c *CPU, inst program.Instruction) *avmerrors.Fault {
	target := (c.Regs.Read(inst.Rs1) + uint32(inst.Imm)) &^ 1
	if target%2 != 0 {
		return c.fault(avmerrors.ErrMisalignedAccess, target)
	}
	c.writeReg(inst.Rd, c.nextPC)
	return c.jump(target)
}

func branchHandler(cond branchCond) OpcodeHandler {
	return func(c *CPU, inst program.Instruction) *avmerrors.Fault {
		if !cond(c.Regs.Read(inst.Rs1), c.Regs.Read(inst.Rs2)) {
			return nil
		}
		return c.jump(c.Regs.PC + uint32(inst.Imm))
	}
}

func handleFENCE(c *CPU, inst program.Instruction) *avmerrors.Fault {
	return nil
}

// handleECALL halts with the syscall request; pc already points past the
// ECALL so Resume continues with the next instruction.
func handleECALL(c *CPU, inst program.Instruction) *avmerrors.Fault {
	req := SyscallRequest{ID: c.Regs.Read(vmtypes.SyscallIDReg), PC: c.Regs.PC}
	for i, r := range vmtypes.SyscallArgRegs {
		req.Args[i] = c.Regs.Read(uint8(r))
	}
	c.Syscall = req
	c.Regs.PC = c.nextPC
	c.State = vmtypes.Halted
	c.Halt = vmtypes.HaltSyscall
	if c.cur != nil {
		c.cur.SetSyscall(req.ID)
	}
	return nil
}

func handleEBREAK(c *CPU, inst program.Instruction) *avmerrors.Fault {
	c.Finish()
	return nil
}

// ====================== Memory ======================

func handleLoad(c *CPU, inst program.Instruction) *avmerrors.Fault {
	addr := c.Regs.Read(inst.Rs1) + uint32(inst.Imm)
	var v uint32
	var err error
	switch inst.Width() {
	case 1:
		v, err = c.Mem.Load8(addr)
		if err == nil && inst.Signed() {
			v = uint32(int32(int8(v)))
		}
	case 2:
		v, err = c.Mem.Load16(addr)
		if err == nil && inst.Signed() {
			v = uint32(int32(int16(v)))
		}
	default:
		v, err = c.Mem.Load32(addr)
	}
	if err != nil {
		return c.fault(err, addr)
	}
	c.writeReg(inst.Rd, v)
	return nil
}

func handleStore(c *CPU, inst program.Instruction) *avmerrors.Fault {
	addr := c.Regs.Read(inst.Rs1) + uint32(inst.Imm)
	v := c.Regs.Read(inst.Rs2)
	var err error
	switch inst.Width() {
	case 1:
		err = c.Mem.Store8(addr, v)
	case 2:
		err = c.Mem.Store16(addr, v)
	default:
		err = c.Mem.Store32(addr, v)
	}
	if err != nil {
		return c.fault(err, addr)
	}
	c.noteStore(addr, inst.Width(), v)
	return nil
}

func regHandler(fn aluOp) OpcodeHandler {
	return func(c *CPU, inst program.Instruction) *avmerrors.Fault {
		c.writeReg(inst.Rd, fn(c.Regs.Read(inst.Rs1), c.Regs.Read(inst.Rs2)))
		return nil
	}
}

func immHandler(fn aluOp) OpcodeHandler {
	return func(c *CPU, inst program.Instruction) *avmerrors.Fault {
		c.writeReg(inst.Rd, fn(c.Regs.Read(inst.Rs1), uint32(inst.Imm)))
		return nil
	}
}

// ====================== Atomics ======================

func handleLR_W(c *CPU, inst program.Instruction) *avmerrors.Fault {
	addr := c.Regs.Read(inst.Rs1)
	v, err := c.Mem.Load32(addr)
	if err != nil {
		return c.fault(err, addr)
	}
	c.Mem.Reserve(addr)
	c.writeReg(inst.Rd, v)
	return nil
}

func handleSC_W(c *CPU, inst program.Instruction) *avmerrors.Fault {
	addr := c.Regs.Read(inst.Rs1)
	v := c.Regs.Read(inst.Rs2)
	if err := c.Mem.checkStore(addr, 4); err != nil {
		return c.fault(err, addr)
	}
	if !c.Mem.TakeReservation(addr) {
		c.writeReg(inst.Rd, 1)
		return nil
	}
	if err := c.Mem.Store32(addr, v); err != nil {
		return c.fault(err, addr)
	}
	c.noteStore(addr, 4, v)
	c.writeReg(inst.Rd, 0)
	return nil
}

func amoHandler(fn aluOp) OpcodeHandler {
	return func(c *CPU, inst program.Instruction) *avmerrors.Fault {
		addr := c.Regs.Read(inst.Rs1)
		src := c.Regs.Read(inst.Rs2)
		if err := c.Mem.checkStore(addr, 4); err != nil {
			return c.fault(err, addr)
		}
		old, err := c.Mem.Load32(addr)
		if err != nil {
			return c.fault(err, addr)
		}
		v := fn(old, src)
		if err := c.Mem.Store32(addr, v); err != nil {
			return c.fault(err, addr)
		}
		c.noteStore(addr, 4, v)
		c.writeReg(inst.Rd, old)
		return nil
	}
}
