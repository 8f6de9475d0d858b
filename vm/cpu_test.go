package vm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/vm/asm"
	"github.com/colorfulnotion/avm/vm/program"
	"github.com/colorfulnotion/avm/vm/trace"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

const testPageSize = 0x10000

func newTestCPU(t *testing.T, code []byte, gas uint64, opts ...Option) *CPU {
	t.Helper()
	mem, err := NewMemoryPage(testPageSize, 0)
	require.NoError(t, err)
	require.NoError(t, mem.LoadImage(vmtypes.DefaultProgramStartAddr, code, nil))
	schedule := DefaultGasSchedule()
	c := NewCPU(mem, NewGasMeter(gas), &schedule, opts...)
	c.Regs.Write(vmtypes.RegSP, mem.StackTop)
	return c
}

func TestStepAddi(t *testing.T) {
	code := asm.NewBuilder().Emit(0x02A00293).Bytes()
	c := newTestCPU(t, code, 100)

	res, err := c.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), c.Regs.Read(asm.T0))
	assert.Equal(t, uint32(0x404), c.Regs.PC)
	assert.Equal(t, uint64(1), res.Gas)
	assert.Equal(t, uint64(1), c.Gas.Used())
	assert.Equal(t, vmtypes.Running, c.State)
}

func TestMisalignedLoadLeavesStateUntouched(t *testing.T) {
	code := asm.NewBuilder().Emit(asm.LW(asm.T0, asm.T1, 0)).Bytes()
	c := newTestCPU(t, code, 100)
	c.Regs.Write(asm.T1, 0x1003)
	before := c.Regs

	_, err := c.Step()
	require.ErrorIs(t, err, avmerrors.ErrMisalignedAccess)
	assert.Equal(t, vmtypes.HaltFault, c.Halt)
	assert.Equal(t, uint32(0x1003), c.Fault.Addr)
	assert.Equal(t, uint32(0x400), c.Fault.PC)
	assert.Equal(t, before, c.Regs)
}

func TestOutOfGas(t *testing.T) {
	b := asm.NewBuilder()
	for i := 0; i < 5; i++ {
		b.Emit(asm.ADDI(asm.A0, asm.A0, 1))
	}
	b.Emit(asm.EBREAK)
	c := newTestCPU(t, b.Bytes(), 5)

	halt := c.Run(context.Background())
	require.Equal(t, vmtypes.HaltFault, halt)
	assert.ErrorIs(t, c.Fault, avmerrors.ErrOutOfGas)
	assert.Equal(t, uint64(5), c.Gas.Used())
	assert.Equal(t, uint32(5), c.Regs.Read(asm.A0))
	// the failing instruction is not executed
	assert.Equal(t, uint32(0x414), c.Regs.PC)
}

func TestGasEqualsSumOfCosts(t *testing.T) {
	code := asm.NewBuilder().
		Li(asm.T1, 0x2000).
		Emit(
			asm.SW(asm.A0, asm.T1, 0),
			asm.LW(asm.A1, asm.T1, 0),
			asm.SB(asm.A0, asm.T1, 4),
			asm.LRW(asm.A2, asm.T1),
			asm.SCW(asm.A3, asm.T1, asm.A0),
			asm.AMOADDW(asm.A4, asm.T1, asm.A0),
			asm.EBREAK,
		).Bytes()
	c := newTestCPU(t, code, 10_000)

	var sum uint64
	last := c.Gas.Remaining()
	for c.State != vmtypes.Halted {
		res, err := c.Step()
		require.NoError(t, err)
		sum += res.Gas
		require.LessOrEqual(t, c.Gas.Remaining(), last)
		last = c.Gas.Remaining()
	}
	// li(1) + sw(10) + lw(8) + sb(7) + lr(17) + sc(23) + amo(30) + ebreak(1)
	assert.Equal(t, uint64(97), sum)
	assert.Equal(t, sum, c.Gas.Used())
}

func TestArithmeticEdgeCases(t *testing.T) {
	const minInt = uint32(0x80000000)
	neg1 := uint32(math.MaxUint32)
	tests := []struct {
		name string
		inst func(rd, rs1, rs2 uint8) uint32
		a, b uint32
		want uint32
	}{
		{"div by zero", asm.DIV, 7, 0, neg1},
		{"div overflow", asm.DIV, minInt, neg1, minInt},
		{"div signed", asm.DIV, uint32(0xfffffff9), 2, uint32(0xfffffffd)},
		{"divu by zero", asm.DIVU, 7, 0, neg1},
		{"rem by zero", asm.REM, 7, 0, 7},
		{"rem overflow", asm.REM, minInt, neg1, 0},
		{"rem signed", asm.REM, uint32(0xfffffff9), 2, neg1},
		{"remu by zero", asm.REMU, 7, 0, 7},
		{"mulh", asm.MULH, neg1, neg1, 0},
		{"mulhu", asm.MULHU, neg1, neg1, uint32(0xfffffffe)},
		{"mulhsu", asm.MULHSU, neg1, neg1, neg1},
		{"sll masks shift", asm.SLL, 1, 33, 2},
		{"sra", asm.SRA, minInt, 31, neg1},
		{"slt", asm.SLT, neg1, 0, 1},
		{"sltu", asm.SLTU, neg1, 0, 0},
		{"sub wraps", asm.SUB, 0, 1, neg1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := asm.NewBuilder().Emit(tt.inst(asm.A0, asm.A1, asm.A2)).Bytes()
			c := newTestCPU(t, code, 10)
			c.Regs.Write(asm.A1, tt.a)
			c.Regs.Write(asm.A2, tt.b)
			_, err := c.Step()
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Regs.Read(asm.A0))
		})
	}
}

func TestZeroRegisterIgnoresWrites(t *testing.T) {
	code := asm.NewBuilder().Emit(asm.ADDI(asm.Zero, asm.Zero, 5), asm.ADD(asm.A0, asm.Zero, asm.Zero)).Bytes()
	c := newTestCPU(t, code, 10)
	c.Regs.Write(asm.A0, 9)
	_, err := c.Step()
	require.NoError(t, err)
	_, err = c.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), c.Regs.Read(asm.Zero))
	assert.Equal(t, uint32(0), c.Regs.Read(asm.A0))
}

func TestLoadsSignExtend(t *testing.T) {
	code := asm.NewBuilder().Emit(
		asm.LB(asm.A0, asm.T1, 0),
		asm.LBU(asm.A1, asm.T1, 0),
		asm.LH(asm.A2, asm.T1, 0),
		asm.LHU(asm.A3, asm.T1, 0),
		asm.EBREAK,
	).Bytes()
	c := newTestCPU(t, code, 100)
	c.Regs.Write(asm.T1, 0x2000)
	require.NoError(t, c.Mem.Store32(0x2000, 0x0000ff80))
	require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
	assert.Equal(t, uint32(0xffffff80), c.Regs.Read(asm.A0))
	assert.Equal(t, uint32(0x80), c.Regs.Read(asm.A1))
	assert.Equal(t, uint32(0xffffff80), c.Regs.Read(asm.A2))
	assert.Equal(t, uint32(0xff80), c.Regs.Read(asm.A3))
}

func TestStoreIntoCodeFaults(t *testing.T) {
	code := asm.NewBuilder().Emit(asm.SW(asm.A0, asm.T1, 0)).Bytes()
	c := newTestCPU(t, code, 100)
	c.Regs.Write(asm.T1, 0x400)
	_, err := c.Step()
	require.ErrorIs(t, err, avmerrors.ErrOutOfBoundsAccess)
	w, err := c.Mem.Load32(0x400)
	require.NoError(t, err)
	assert.Equal(t, asm.SW(asm.A0, asm.T1, 0), w)
}

func TestBranchesAndJumps(t *testing.T) {
	// sum 1..5 into a0, then return through ra=0
	code := asm.NewBuilder().Emit(
		asm.ADDI(asm.T0, asm.Zero, 5),
		asm.ADD(asm.A0, asm.A0, asm.T0),
		asm.ADDI(asm.T0, asm.T0, -1),
		asm.BNE(asm.T0, asm.Zero, -8),
		asm.JAL(asm.Zero, 8),
		asm.ADDI(asm.A0, asm.Zero, 0),
		asm.RET,
	).Bytes()
	c := newTestCPU(t, code, 1000)
	require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
	assert.Equal(t, uint32(15), c.Regs.Read(asm.A0))
	assert.Equal(t, uint32(0), c.Regs.PC)
}

func TestJalrClearsLowBitAndLinks(t *testing.T) {
	code := asm.NewBuilder().Emit(
		asm.JALR(asm.RA, asm.T1, 1),
		asm.EBREAK,
		asm.EBREAK,
	).Bytes()
	c := newTestCPU(t, code, 100)
	c.Regs.Write(asm.T1, 0x408)
	_, err := c.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x408), c.Regs.PC)
	assert.Equal(t, uint32(0x404), c.Regs.Read(asm.RA))
}

func TestMisalignedJumpTarget(t *testing.T) {
	// encoded branch offsets are always even; an odd target only reaches
	// the handler through a hand-built instruction
	c := newTestCPU(t, asm.NewBuilder().Emit(asm.NOP).Bytes(), 100)
	c.State = vmtypes.Running
	f := dispatchTable[program.BEQ](c, program.Instruction{Op: program.BEQ, Imm: 3, Size: 4})
	require.NotNil(t, f)
	assert.ErrorIs(t, f, avmerrors.ErrMisalignedAccess)
	assert.Equal(t, uint32(0x403), f.Addr)
	assert.Equal(t, uint32(0x400), c.Regs.PC)
}

func TestAtomics(t *testing.T) {
	t.Run("lr/sc succeeds", func(t *testing.T) {
		code := asm.NewBuilder().Emit(
			asm.LRW(asm.A0, asm.T1),
			asm.ADDI(asm.A0, asm.A0, 1),
			asm.SCW(asm.A1, asm.T1, asm.A0),
			asm.EBREAK,
		).Bytes()
		c := newTestCPU(t, code, 1000)
		c.Regs.Write(asm.T1, 0x2000)
		require.NoError(t, c.Mem.Store32(0x2000, 41))
		require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
		assert.Equal(t, uint32(0), c.Regs.Read(asm.A1))
		v, _ := c.Mem.Load32(0x2000)
		assert.Equal(t, uint32(42), v)
	})
	t.Run("sc without reservation fails", func(t *testing.T) {
		code := asm.NewBuilder().Emit(asm.SCW(asm.A1, asm.T1, asm.A0), asm.EBREAK).Bytes()
		c := newTestCPU(t, code, 1000)
		c.Regs.Write(asm.T1, 0x2000)
		c.Regs.Write(asm.A0, 7)
		require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
		assert.Equal(t, uint32(1), c.Regs.Read(asm.A1))
		v, _ := c.Mem.Load32(0x2000)
		assert.Equal(t, uint32(0), v)
	})
	t.Run("intervening store clears reservation", func(t *testing.T) {
		code := asm.NewBuilder().Emit(
			asm.LRW(asm.A0, asm.T1),
			asm.SB(asm.A2, asm.T1, 2),
			asm.SCW(asm.A1, asm.T1, asm.A0),
			asm.EBREAK,
		).Bytes()
		c := newTestCPU(t, code, 1000)
		c.Regs.Write(asm.T1, 0x2000)
		require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
		assert.Equal(t, uint32(1), c.Regs.Read(asm.A1))
	})
	t.Run("amo returns old value", func(t *testing.T) {
		code := asm.NewBuilder().Emit(
			asm.AMOADDW(asm.A0, asm.T1, asm.A1),
			asm.AMOMINW(asm.A2, asm.T1, asm.A3),
			asm.AMOMAXUW(asm.A4, asm.T1, asm.A3),
			asm.EBREAK,
		).Bytes()
		c := newTestCPU(t, code, 1000)
		c.Regs.Write(asm.T1, 0x2000)
		c.Regs.Write(asm.A1, 5)
		c.Regs.Write(asm.A3, math.MaxUint32)
		require.NoError(t, c.Mem.Store32(0x2000, 10))
		require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
		assert.Equal(t, uint32(10), c.Regs.Read(asm.A0))
		assert.Equal(t, uint32(15), c.Regs.Read(asm.A2))
		assert.Equal(t, uint32(math.MaxUint32), c.Regs.Read(asm.A4))
		v, _ := c.Mem.Load32(0x2000)
		assert.Equal(t, uint32(math.MaxUint32), v)
	})
	t.Run("misaligned amo faults", func(t *testing.T) {
		code := asm.NewBuilder().Emit(asm.AMOSWAPW(asm.A0, asm.T1, asm.A1)).Bytes()
		c := newTestCPU(t, code, 1000)
		c.Regs.Write(asm.T1, 0x2002)
		_, err := c.Step()
		require.ErrorIs(t, err, avmerrors.ErrMisalignedAccess)
		assert.Equal(t, uint32(0), c.Regs.Read(asm.A0))
	})
}

func TestCompressedExecution(t *testing.T) {
	code := asm.NewBuilder().Emit16(
		asm.CLI(asm.A0, 5),
		asm.CADDI(asm.A0, 3),
		asm.CMV(asm.A1, asm.A0),
		asm.CADD(asm.A1, asm.A0),
		asm.CEBREAK,
	).Bytes()
	c := newTestCPU(t, code, 100)
	require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
	assert.Equal(t, uint32(8), c.Regs.Read(asm.A0))
	assert.Equal(t, uint32(16), c.Regs.Read(asm.A1))
	assert.Equal(t, uint32(0x408), c.Regs.PC)
	assert.Equal(t, uint64(5), c.Gas.Used())
}

func TestEcallAndResume(t *testing.T) {
	code := asm.NewBuilder().
		Li(asm.A1, 7).
		Li(asm.A6, 9).
		Syscall(42).
		Emit(asm.ADDI(asm.A0, asm.A0, 1), asm.EBREAK).
		Bytes()
	c := newTestCPU(t, code, 100)

	require.Equal(t, vmtypes.HaltSyscall, c.Run(context.Background()))
	assert.Equal(t, uint32(42), c.Syscall.ID)
	assert.Equal(t, uint32(7), c.Syscall.Args[0])
	assert.Equal(t, uint32(9), c.Syscall.Args[5])
	assert.Equal(t, c.Syscall.PC+4, c.Regs.PC)

	require.NoError(t, c.Resume(100))
	require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))
	assert.Equal(t, uint32(101), c.Regs.Read(asm.A0))
	assert.Error(t, c.Resume(1))
}

func TestIllegalInstruction(t *testing.T) {
	code := asm.NewBuilder().Emit(0x00000000).Bytes()
	c := newTestCPU(t, code, 100)
	assert.Equal(t, vmtypes.HaltFault, c.Run(context.Background()))
	assert.ErrorIs(t, c.Fault, avmerrors.ErrDecodeError)
	assert.Equal(t, uint64(0), c.Gas.Used())

	_, err := c.Step()
	assert.Error(t, err)
}

func TestRunHonoursCancellation(t *testing.T) {
	code := asm.NewBuilder().Emit(asm.JAL(asm.Zero, 0)).Bytes()
	c := newTestCPU(t, code, math.MaxUint64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, vmtypes.HaltFault, c.Run(ctx))
	assert.ErrorIs(t, c.Fault, avmerrors.ErrCancelled)
	assert.NotErrorIs(t, c.Fault, avmerrors.ErrHostCollaboratorFailure)
	assert.ErrorIs(t, c.Fault.Cause(), context.Canceled)
}

func TestDecodeCacheSharedAcrossCPUs(t *testing.T) {
	code := asm.NewBuilder().Emit(
		asm.ADDI(asm.T0, asm.Zero, 3),
		asm.ADDI(asm.T0, asm.T0, -1),
		asm.BNE(asm.T0, asm.Zero, -4),
		asm.EBREAK,
	).Bytes()
	cache, err := NewDecodeCache(64)
	require.NoError(t, err)
	image := common.Blake2Hash(code)

	first := newTestCPU(t, code, 100, WithDecodeCache(cache, image))
	require.Equal(t, vmtypes.HaltReturned, first.Run(context.Background()))
	_, misses := cache.Stats()
	assert.Equal(t, uint64(4), misses)

	second := newTestCPU(t, code, 100, WithDecodeCache(cache, image))
	require.Equal(t, vmtypes.HaltReturned, second.Run(context.Background()))
	hits, misses := cache.Stats()
	assert.Equal(t, uint64(4), misses)
	assert.Equal(t, uint64(12), hits)
	assert.Equal(t, first.Regs, second.Regs)
	assert.Equal(t, first.Gas.Used(), second.Gas.Used())

	none, err := NewDecodeCache(0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTraceSink(t *testing.T) {
	code := asm.NewBuilder().Emit(
		asm.ADDI(asm.A0, asm.Zero, 7),
		asm.SW(asm.A0, asm.SP, -4),
		asm.EBREAK,
	).Bytes()
	rec := trace.NewRecorder(true, nil)
	c := newTestCPU(t, code, 100, WithTraceSink(rec), WithDepth(2))
	require.Equal(t, vmtypes.HaltReturned, c.Run(context.Background()))

	require.Len(t, rec.Steps, 3)
	first := rec.Steps[0]
	assert.Equal(t, 2, first.Depth)
	assert.Equal(t, uint32(0x400), first.PC)
	assert.Equal(t, "addi a0, zero, 7", first.Mnemonic)
	require.NotNil(t, first.ChangedRegister)
	assert.Equal(t, uint8(asm.A0), *first.ChangedRegister)
	assert.Equal(t, uint32(7), *first.ChangedValue)

	store := rec.Steps[1]
	require.NotNil(t, store.ChangedMemoryAddr)
	assert.Equal(t, c.Mem.StackTop-4, *store.ChangedMemoryAddr)
	assert.Equal(t, []byte{7, 0, 0, 0}, store.ChangedMemoryBytes)
	assert.Equal(t, store.GasBefore-10, store.GasAfter)

	last := rec.Steps[2]
	require.NotNil(t, last.PostMachineState)
	assert.Equal(t, vmtypes.HaltReturned.String(), *last.PostMachineState)
}
