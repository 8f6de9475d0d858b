package vm

import (
	"math"
	"math/bits"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/vm/program"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

// GasSchedule is the fixed cost table. Every field can be overridden from the
// config file.
type GasSchedule struct {
	Instruction        uint64 `yaml:"instruction" json:"instruction"`
	MemoryLoadBase     uint64 `yaml:"memory_load_base" json:"memory_load_base"`
	MemoryStoreBase    uint64 `yaml:"memory_store_base" json:"memory_store_base"`
	MemoryAtomicBase   uint64 `yaml:"memory_atomic_base" json:"memory_atomic_base"`
	MemoryResLoadBase  uint64 `yaml:"memory_res_load_base" json:"memory_res_load_base"`
	MemoryResStoreBase uint64 `yaml:"memory_res_store_base" json:"memory_res_store_base"`
	MemoryByteCost     uint64 `yaml:"memory_byte_cost" json:"memory_byte_cost"`

	CallBase         uint64 `yaml:"call_base" json:"call_base"`
	CallDataByte     uint64 `yaml:"call_data_byte" json:"call_data_byte"`
	LogDataByte      uint64 `yaml:"log_data_byte" json:"log_data_byte"`
	StorageKeyByte   uint64 `yaml:"storage_key_byte" json:"storage_key_byte"`
	StorageValueByte uint64 `yaml:"storage_value_byte" json:"storage_value_byte"`
	AllocBase        uint64 `yaml:"alloc_base" json:"alloc_base"`
	AllocWord        uint64 `yaml:"alloc_word" json:"alloc_word"`

	SyscallBase uint64 `yaml:"syscall_base" json:"syscall_base"`
	StorageGet  uint64 `yaml:"storage_get" json:"storage_get"`
	StorageSet  uint64 `yaml:"storage_set" json:"storage_set"`
	Log         uint64 `yaml:"log" json:"log"`
	CallProgram uint64 `yaml:"call_program" json:"call_program"`
	FireEvent   uint64 `yaml:"fire_event" json:"fire_event"`
	Alloc       uint64 `yaml:"alloc" json:"alloc"`
	Dealloc     uint64 `yaml:"dealloc" json:"dealloc"`
	Transfer    uint64 `yaml:"transfer" json:"transfer"`
	Balance     uint64 `yaml:"balance" json:"balance"`
	Hash        uint64 `yaml:"hash" json:"hash"`
	HashWord    uint64 `yaml:"hash_word" json:"hash_word"`
	Ecrecover   uint64 `yaml:"ecrecover" json:"ecrecover"`
	VerifySig   uint64 `yaml:"verify_sig" json:"verify_sig"`
	EnvRead     uint64 `yaml:"env_read" json:"env_read"`
}

func DefaultGasSchedule() GasSchedule {
	return GasSchedule{
		Instruction:        1,
		MemoryLoadBase:     3,
		MemoryStoreBase:    5,
		MemoryAtomicBase:   25,
		MemoryResLoadBase:  12,
		MemoryResStoreBase: 18,
		MemoryByteCost:     1,

		CallBase:         700,
		CallDataByte:     4,
		LogDataByte:      8,
		StorageKeyByte:   4,
		StorageValueByte: 16,
		AllocBase:        15,
		AllocWord:        3,

		SyscallBase: 30,
		StorageGet:  2100,
		StorageSet:  20000,
		Log:         375,
		CallProgram: 40,
		FireEvent:   375,
		Alloc:       15,
		Dealloc:     4,
		Transfer:    9000,
		Balance:     2600,
		Hash:        30,
		HashWord:    6,
		Ecrecover:   3000,
		VerifySig:   3000,
		EnvRead:     2,
	}
}

func satAdd(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return s
}

func satMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// InstructionCost is the fixed fee of one instruction plus its memory fee.
func (g *GasSchedule) InstructionCost(inst program.Instruction) uint64 {
	var base uint64
	switch inst.Class() {
	case program.ClassLoad:
		base = g.MemoryLoadBase
	case program.ClassStore:
		base = g.MemoryStoreBase
	case program.ClassAtomic:
		switch inst.Op {
		case program.LR_W:
			base = g.MemoryResLoadBase
		case program.SC_W:
			base = g.MemoryResStoreBase
		default:
			base = g.MemoryAtomicBase
		}
	default:
		return g.Instruction
	}
	return satAdd(g.Instruction, satAdd(base, satMul(uint64(inst.Width()), g.MemoryByteCost)))
}

// SyscallCost is syscall_base plus the syscall's own fee. ok is false for
// ids outside the syscall table.
func (g *GasSchedule) SyscallCost(id uint32) (cost uint64, ok bool) {
	var specific uint64
	switch id {
	case vmtypes.SYSCALL_STORAGE_GET:
		specific = g.StorageGet
	case vmtypes.SYSCALL_STORAGE_SET:
		specific = g.StorageSet
	case vmtypes.SYSCALL_LOG:
		specific = g.Log
	case vmtypes.SYSCALL_CALL_PROGRAM:
		specific = g.CallProgram
	case vmtypes.SYSCALL_FIRE_EVENT:
		specific = g.FireEvent
	case vmtypes.SYSCALL_ALLOC:
		specific = g.Alloc
	case vmtypes.SYSCALL_DEALLOC:
		specific = g.Dealloc
	case vmtypes.SYSCALL_TRANSFER:
		specific = g.Transfer
	case vmtypes.SYSCALL_BALANCE:
		specific = g.Balance
	case vmtypes.SYSCALL_KECCAK256, vmtypes.SYSCALL_BLAKE2B:
		specific = g.Hash
	case vmtypes.SYSCALL_ECRECOVER:
		specific = g.Ecrecover
	case vmtypes.SYSCALL_VERIFY_SIG:
		specific = g.VerifySig
	case vmtypes.SYSCALL_CALLER, vmtypes.SYSCALL_ADDRESS:
		specific = g.EnvRead
	case vmtypes.SYSCALL_RETURN, vmtypes.SYSCALL_REVERT, vmtypes.SYSCALL_PANIC, vmtypes.SYSCALL_BRK:
		specific = 0
	default:
		return 0, false
	}
	return satAdd(g.SyscallBase, specific), true
}

// SyscallDataCost is the size-dependent part of a syscall's fee for n bytes.
func (g *GasSchedule) SyscallDataCost(id uint32, n uint64) uint64 {
	switch id {
	case vmtypes.SYSCALL_STORAGE_GET, vmtypes.SYSCALL_TRANSFER, vmtypes.SYSCALL_BALANCE:
		return satMul(n, g.StorageKeyByte)
	case vmtypes.SYSCALL_STORAGE_SET:
		return satMul(n, g.StorageValueByte)
	case vmtypes.SYSCALL_LOG, vmtypes.SYSCALL_FIRE_EVENT:
		return satMul(n, g.LogDataByte)
	case vmtypes.SYSCALL_KECCAK256, vmtypes.SYSCALL_BLAKE2B:
		return satMul(vmtypes.CeilingDivide(n, 32), g.HashWord)
	}
	return satMul(n, g.CallDataByte)
}

// AllocCost charges per started 32-byte word, with a minimum of one word.
func (g *GasSchedule) AllocCost(n uint64) uint64 {
	words := max(1, vmtypes.CeilingDivide(n, 32))
	return satAdd(g.AllocBase, satMul(g.AllocWord, words))
}

// CallCost is the entry fee of a cross-contract call carrying n input bytes.
func (g *GasSchedule) CallCost(n uint64) uint64 {
	return satAdd(g.CallBase, satMul(g.CallDataByte, n))
}

// GasMeter is the gas counter of one context.
type GasMeter struct {
	limit     uint64
	remaining uint64
}

func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit, remaining: limit}
}

// Charge subtracts amount, or fails with OutOfGas and leaves the counter unchanged.
func (g *GasMeter) Charge(amount uint64) error {
	if amount > g.remaining {
		return avmerrors.ErrOutOfGas
	}
	g.remaining -= amount
	return nil
}

func (g *GasMeter) Remaining() uint64 { return g.remaining }
func (g *GasMeter) Limit() uint64     { return g.limit }
func (g *GasMeter) Used() uint64      { return g.limit - g.remaining }
