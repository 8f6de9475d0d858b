package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/vm/program"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

func TestInstructionCost(t *testing.T) {
	g := DefaultGasSchedule()
	tests := []struct {
		op   program.Opcode
		want uint64
	}{
		{program.ADDI, 1},
		{program.DIV, 1},
		{program.JAL, 1},
		{program.ECALL, 1},
		{program.LB, 5},
		{program.LHU, 6},
		{program.LW, 8},
		{program.SB, 7},
		{program.SH, 8},
		{program.SW, 10},
		{program.LR_W, 17},
		{program.SC_W, 23},
		{program.AMOADD_W, 30},
		{program.AMOMAXU_W, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.InstructionCost(program.Instruction{Op: tt.op}), tt.op.String())
	}
}

func TestSyscallCosts(t *testing.T) {
	g := DefaultGasSchedule()

	c, ok := g.SyscallCost(vmtypes.SYSCALL_STORAGE_SET)
	require.True(t, ok)
	assert.Equal(t, uint64(20030), c)
	c, ok = g.SyscallCost(vmtypes.SYSCALL_RETURN)
	require.True(t, ok)
	assert.Equal(t, uint64(30), c)
	_, ok = g.SyscallCost(999)
	assert.False(t, ok)

	assert.Equal(t, uint64(0), g.SyscallDataCost(vmtypes.SYSCALL_KECCAK256, 0))
	assert.Equal(t, uint64(6), g.SyscallDataCost(vmtypes.SYSCALL_KECCAK256, 1))
	assert.Equal(t, uint64(12), g.SyscallDataCost(vmtypes.SYSCALL_BLAKE2B, 33))
	assert.Equal(t, uint64(80), g.SyscallDataCost(vmtypes.SYSCALL_LOG, 10))
	assert.Equal(t, uint64(160), g.SyscallDataCost(vmtypes.SYSCALL_STORAGE_SET, 10))

	assert.Equal(t, uint64(18), g.AllocCost(0))
	assert.Equal(t, uint64(18), g.AllocCost(32))
	assert.Equal(t, uint64(21), g.AllocCost(33))
	assert.Equal(t, uint64(740), g.CallCost(10))
}

func TestCostsSaturate(t *testing.T) {
	g := DefaultGasSchedule()
	assert.Equal(t, uint64(math.MaxUint64), g.SyscallDataCost(vmtypes.SYSCALL_STORAGE_SET, math.MaxUint64))
	assert.Equal(t, uint64(math.MaxUint64), g.CallCost(math.MaxUint64))

	g.SyscallBase = math.MaxUint64
	c, ok := g.SyscallCost(vmtypes.SYSCALL_BALANCE)
	require.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64), c)
}

func TestGasMeterCharge(t *testing.T) {
	m := NewGasMeter(10)
	require.NoError(t, m.Charge(4))
	assert.ErrorIs(t, m.Charge(7), avmerrors.ErrOutOfGas)
	assert.Equal(t, uint64(6), m.Remaining())
	require.NoError(t, m.Charge(6))
	assert.Equal(t, uint64(10), m.Used())
	assert.Equal(t, uint64(10), m.Limit())
	assert.ErrorIs(t, m.Charge(1), avmerrors.ErrOutOfGas)
	assert.NoError(t, m.Charge(0))
}
