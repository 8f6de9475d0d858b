package avm

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/config"
	"github.com/colorfulnotion/avm/storage"
	"github.com/colorfulnotion/avm/types"
	"github.com/colorfulnotion/avm/vm/asm"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

const (
	start   = vmtypes.DefaultProgramStartAddr
	testGas = 1_000_000
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	addrX = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

// la loads addr with a fixed two-instruction sequence so that a program's
// length does not depend on where its data ends up.
func la(rd uint8, addr uint32) []uint32 {
	hi := (addr + 0x800) & 0xfffff000
	return []uint32{asm.LUI(rd, int32(hi)), asm.ADDI(rd, rd, int32(addr-hi))}
}

// assemble lays out body followed by data. body receives the address data is
// loaded at.
func assemble(data []byte, body func(b *asm.Builder, data uint32)) []byte {
	sizer := asm.NewBuilder()
	body(sizer, 0)
	b := asm.NewBuilder()
	body(b, start+sizer.Offset())
	return b.Data(data).Bytes()
}

// returnA0 ends the program with a0 as a 4-byte little endian output.
func returnA0(b *asm.Builder) {
	b.Emit(asm.SW(asm.A0, asm.SP, -4), asm.ADDI(asm.A1, asm.SP, -4)).
		Li(asm.A2, 4).
		Syscall(vmtypes.SYSCALL_RETURN)
}

func returnBytes(out []byte) []byte {
	return assemble(out, func(b *asm.Builder, data uint32) {
		b.Emit(la(asm.A1, data)...).Li(asm.A2, uint32(len(out))).Syscall(vmtypes.SYSCALL_RETURN)
	})
}

// forwarder calls target with no input and returns the first 13 bytes of the
// result record it gets back.
func forwarder(target common.Address) []byte {
	return assemble(target.Bytes(), func(b *asm.Builder, data uint32) {
		b.Emit(la(asm.A1, data)...).
			Li(asm.A2, 0).Li(asm.A3, 0).Li(asm.A4, 0).
			Syscall(vmtypes.SYSCALL_CALL_PROGRAM).
			Emit(asm.ADDI(asm.A1, asm.A0, 0)).
			Li(asm.A2, 13).
			Syscall(vmtypes.SYSCALL_RETURN)
	})
}

// storer sets key=val, fires an event and then returns or reverts with code 7.
func storer(key, val string, revert bool) []byte {
	data := []byte(key + val + "ev")
	return assemble(data, func(b *asm.Builder, d uint32) {
		kl, vl := uint32(len(key)), uint32(len(val))
		b.Emit(la(asm.A1, d)...).Li(asm.A2, kl).Emit(la(asm.A3, d+kl)...).Li(asm.A4, vl).
			Syscall(vmtypes.SYSCALL_STORAGE_SET).
			Emit(la(asm.A1, d+kl+vl)...).Li(asm.A2, 2).
			Syscall(vmtypes.SYSCALL_FIRE_EVENT)
		if revert {
			b.Li(asm.A1, 7).Emit(la(asm.A2, d+kl)...).Li(asm.A3, vl).Syscall(vmtypes.SYSCALL_REVERT)
		} else {
			b.Li(asm.A1, 0).Li(asm.A2, 0).Syscall(vmtypes.SYSCALL_RETURN)
		}
	})
}

var panicker = assemble([]byte("boom"), func(b *asm.Builder, data uint32) {
	b.Emit(la(asm.A1, data)...).Li(asm.A2, 4).Syscall(vmtypes.SYSCALL_PANIC)
})

func newTestAVM(t *testing.T, cfg *config.Config, opts ...Option) (*AVM, *MockHostEnv) {
	t.Helper()
	env := NewMockHostEnv()
	a, err := New(cfg, env, opts...)
	require.NoError(t, err)
	return a, env
}

func deploy(t *testing.T, a *AVM, addr common.Address, code []byte, balance uint64) {
	t.Helper()
	require.NoError(t, a.CreateAccount(addr, code, balance))
}

func invoke(t *testing.T, a *AVM, code, input []byte, gas uint64) *types.Invocation {
	t.Helper()
	inv, err := a.Invoke(context.Background(), code, input, gas)
	require.NoError(t, err)
	return inv
}

func call(t *testing.T, a *AVM, from, to common.Address) *types.Invocation {
	t.Helper()
	inv, err := a.Call(context.Background(), from, to, nil, 0, testGas)
	require.NoError(t, err)
	return inv
}

func TestInvokeReturnsData(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	inv := invoke(t, a, returnBytes([]byte("hello")), nil, testGas)

	assert.Equal(t, types.StatusSuccess, inv.Status)
	assert.Equal(t, []byte("hello"), []byte(inv.Output))
	assert.True(t, inv.Result.Success)
	// 5 instructions, RETURN base 30, 5 bytes at 4 each
	assert.Equal(t, uint64(55), inv.GasUsed)
	assert.Empty(t, inv.Error)
}

func TestInvokeEchoesInput(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	code := asm.NewBuilder().
		Emit(asm.ADDI(asm.A1, asm.A2, 0), asm.ADDI(asm.A2, asm.A3, 0)).
		Syscall(vmtypes.SYSCALL_RETURN).
		Bytes()
	inv := invoke(t, a, code, []byte("hi there"), testGas)

	assert.Equal(t, types.StatusSuccess, inv.Status)
	assert.Equal(t, []byte("hi there"), []byte(inv.Output))
	assert.Equal(t, uint64(4+30+8*4), inv.GasUsed)
}

func TestInvokeRejectsMisuse(t *testing.T) {
	a, _ := newTestAVM(t, nil)

	_, err := a.Invoke(context.Background(), returnBytes(nil), make([]byte, 1025), testGas)
	assert.ErrorIs(t, err, avmerrors.ErrInvalidInput)

	_, err = a.Invoke(context.Background(), make([]byte, 0x30004), nil, testGas)
	assert.ErrorIs(t, err, avmerrors.ErrCodeTooLarge)
}

func TestInvokeResultRecordWrittenByGuest(t *testing.T) {
	a, _ := newTestAVM(t, nil)

	// halting without RETURN leaves a zeroed record: failure with code 0
	for name, code := range map[string][]byte{
		"ebreak": asm.NewBuilder().Emit(asm.EBREAK).Bytes(),
		"ret":    asm.NewBuilder().Emit(asm.ADDI(asm.T0, asm.Zero, 42), asm.JALR(asm.Zero, asm.RA, 0)).Bytes(),
	} {
		inv := invoke(t, a, code, nil, testGas)
		assert.Equal(t, types.StatusFailure, inv.Status, name)
		assert.False(t, inv.Result.Success, name)
		assert.Zero(t, inv.Result.ErrorCode, name)
		assert.Empty(t, inv.Output, name)
	}

	// success=1 with two data bytes, then return to ra
	code := asm.NewBuilder().
		Li(asm.T0, vmtypes.DefaultResultAddr).
		Li(asm.T1, 1).
		Li(asm.T2, 2).
		Emit(asm.SB(asm.T1, asm.T0, 0), asm.SB(asm.T2, asm.T0, 5), asm.SB(asm.T1, asm.T0, 9), asm.SB(asm.T2, asm.T0, 10)).
		Emit(asm.JALR(asm.Zero, asm.RA, 0)).
		Bytes()
	inv := invoke(t, a, code, nil, testGas)
	assert.Equal(t, types.StatusSuccess, inv.Status)
	assert.Equal(t, []byte{1, 2}, []byte(inv.Output))

	// success=0, error_code=9 at the result address, then halt
	code = asm.NewBuilder().
		Li(asm.T0, vmtypes.DefaultResultAddr).
		Li(asm.T1, 9).
		Emit(asm.SB(asm.Zero, asm.T0, 0), asm.SB(asm.T1, asm.T0, 1), asm.EBREAK).
		Bytes()
	inv = invoke(t, a, code, nil, testGas)
	assert.Equal(t, types.StatusFailure, inv.Status)
	assert.Equal(t, uint32(9), inv.Result.ErrorCode)
}

func TestInvokeFaults(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		gas  uint64
		want error
	}{
		{"decode", []byte{0, 0, 0, 0}, testGas, avmerrors.ErrDecodeError},
		{"out of gas", asm.NewBuilder().Emit(asm.JAL(asm.Zero, 0)).Bytes(), 50, avmerrors.ErrOutOfGas},
		{"unknown syscall", asm.NewBuilder().Syscall(999).Bytes(), testGas, avmerrors.ErrUnknownSyscall},
		{"panic", panicker, testGas, avmerrors.ErrGuestPanic},
		{"syscall out of gas", returnBytes([]byte("x")), 10, avmerrors.ErrOutOfGas},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAVM(t, nil)
			inv := invoke(t, a, tt.code, nil, tt.gas)
			assert.Equal(t, types.StatusFault, inv.Status)
			require.NotNil(t, inv.Fault)
			assert.ErrorIs(t, inv.Fault, tt.want)
			assert.Equal(t, avmerrors.GetErrorCodeWithName(tt.want), inv.Error)
			assert.Equal(t, avmerrors.NumericCode(tt.want), inv.Result.ErrorCode)
			assert.Empty(t, inv.Output)
			assert.LessOrEqual(t, inv.GasUsed, tt.gas)
		})
	}
}

func TestInvokeCancelled(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv, err := a.Invoke(ctx, asm.NewBuilder().Emit(asm.JAL(asm.Zero, 0)).Bytes(), nil, testGas)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFault, inv.Status)
	assert.ErrorIs(t, inv.Fault, avmerrors.ErrCancelled)
	assert.NotErrorIs(t, inv.Fault, avmerrors.ErrHostCollaboratorFailure)
	assert.Equal(t, "F15_Cancelled", inv.Error)
	assert.Equal(t, uint32(15), inv.Result.ErrorCode)
}

func TestOutOfGasUsesWholeLimit(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	inv := invoke(t, a, asm.NewBuilder().Emit(asm.JAL(asm.Zero, 0)).Bytes(), nil, 50)
	assert.Equal(t, uint64(50), inv.GasUsed)
}

func TestStoragePersistsAcrossInvocations(t *testing.T) {
	a, env := newTestAVM(t, nil)

	inv := invoke(t, a, storer("k", "abc", false), nil, testGas)
	require.Equal(t, types.StatusSuccess, inv.Status)
	v, ok, err := env.GetStorage(common.ZeroAddress, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), v)
	require.Len(t, inv.Events, 1)
	assert.Equal(t, []byte("ev"), []byte(inv.Events[0].Data))

	// read it back: [len u32][value] at a0
	get := assemble([]byte("k"), func(b *asm.Builder, data uint32) {
		b.Emit(la(asm.A1, data)...).Li(asm.A2, 1).
			Syscall(vmtypes.SYSCALL_STORAGE_GET).
			Emit(asm.LW(asm.A2, asm.A0, 0), asm.ADDI(asm.A1, asm.A0, 4)).
			Syscall(vmtypes.SYSCALL_RETURN)
	})
	inv = invoke(t, a, get, nil, testGas)
	require.Equal(t, types.StatusSuccess, inv.Status)
	assert.Equal(t, []byte("abc"), []byte(inv.Output))
}

func TestRevertDiscardsStorageAndEvents(t *testing.T) {
	a, env := newTestAVM(t, nil)
	inv := invoke(t, a, storer("k", "no", true), nil, testGas)

	assert.Equal(t, types.StatusFailure, inv.Status)
	assert.Equal(t, uint32(7), inv.Result.ErrorCode)
	assert.Equal(t, []byte("no"), []byte(inv.Output))
	assert.Empty(t, inv.Events)
	assert.Zero(t, env.StorageLen(common.ZeroAddress))
}

func TestHostFailureFaultsContext(t *testing.T) {
	a, env := newTestAVM(t, nil)
	env.Err = errors.New("disk on fire")
	code := assemble([]byte("k"), func(b *asm.Builder, data uint32) {
		b.Emit(la(asm.A1, data)...).Li(asm.A2, 1).Syscall(vmtypes.SYSCALL_STORAGE_GET).Emit(asm.EBREAK)
	})
	inv := invoke(t, a, code, nil, testGas)

	require.Equal(t, types.StatusFault, inv.Status)
	assert.ErrorIs(t, inv.Fault, avmerrors.ErrHostCollaboratorFailure)
	require.Error(t, inv.Fault.Cause())
	assert.Contains(t, inv.Fault.Cause().Error(), "disk on fire")
}

func TestNestedCallDepthLimit(t *testing.T) {
	for _, depth := range []int{2, 3} {
		cfg := config.Default()
		cfg.MaxCallDepth = depth
		a, _ := newTestAVM(t, cfg)
		deploy(t, a, addrA, forwarder(addrB), 0)
		deploy(t, a, addrB, forwarder(addrC), 0)
		deploy(t, a, addrC, returnBytes([]byte("pong")), 0)

		inv := call(t, a, addrX, addrA)
		require.Equal(t, types.StatusSuccess, inv.Status, "depth %d", depth)
		out := inv.Output
		require.Len(t, out, 13)
		// A's output is the head of B's record, whose data is the head of C's record
		assert.Equal(t, byte(1), out[0])
		assert.Equal(t, uint32(13), binary.LittleEndian.Uint32(out[5:9]))
		if depth == 2 {
			assert.Equal(t, byte(0), out[9], "C must not run")
			assert.Equal(t, byte(6), out[10])
		} else {
			assert.Equal(t, byte(1), out[9])
			assert.Equal(t, byte(0), out[10])
		}
	}
}

func TestChildFaultPolicy(t *testing.T) {
	t.Run("caught", func(t *testing.T) {
		a, _ := newTestAVM(t, nil)
		deploy(t, a, addrA, forwarder(addrB), 0)
		deploy(t, a, addrB, panicker, 0)

		inv := call(t, a, addrX, addrA)
		require.Equal(t, types.StatusSuccess, inv.Status)
		assert.Equal(t, byte(0), inv.Output[0])
		assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(inv.Output[1:5]))
	})
	t.Run("propagated", func(t *testing.T) {
		a, _ := newTestAVM(t, nil, WithPropagateChildFaults(true))
		deploy(t, a, addrA, forwarder(addrB), 0)
		deploy(t, a, addrB, panicker, 0)

		inv := call(t, a, addrX, addrA)
		require.Equal(t, types.StatusFault, inv.Status)
		assert.ErrorIs(t, inv.Fault, avmerrors.ErrGuestPanic)
		assert.Equal(t, "F9_GuestPanic", inv.Error)
	})
}

func TestStackUnwindsAfterEveryOutcome(t *testing.T) {
	shallow := config.Default()
	shallow.MaxCallDepth = 2
	cases := []struct {
		name   string
		cfg    *config.Config
		opts   []Option
		chain  [][]byte
		status types.Status
		peak   int
	}{
		{"child succeeds", nil, nil, [][]byte{forwarder(addrB), returnBytes([]byte("ok"))}, types.StatusSuccess, 1},
		{"child faults", nil, nil, [][]byte{forwarder(addrB), panicker}, types.StatusSuccess, 1},
		{"fault propagates", nil, []Option{WithPropagateChildFaults(true)}, [][]byte{forwarder(addrB), panicker}, types.StatusFault, 1},
		{"depth exceeded", shallow, nil, [][]byte{forwarder(addrB), forwarder(addrC), returnBytes([]byte("ok"))}, types.StatusSuccess, 1},
		{"root faults", nil, nil, [][]byte{panicker}, types.StatusFault, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newTestAVM(t, tc.cfg, append(tc.opts, WithTrace(true))...)
			for i, code := range tc.chain {
				deploy(t, a, []common.Address{addrA, addrB, addrC}[i], code, 0)
			}
			img, err := LoadImage(tc.chain[0], a.cfg)
			require.NoError(t, err)
			root := newOverlay(a.env, nil)
			s, ec, err := a.start(root, addrX, addrA, img, nil, testGas, 0)
			require.NoError(t, err)
			require.Equal(t, 1, s.stack.Len())

			s.run(context.Background(), ec)
			assert.Equal(t, 1, s.stack.Len())
			assert.Same(t, ec, s.stack.Current())

			peak := 0
			for _, st := range s.recorder.Steps {
				peak = max(peak, st.Depth)
			}
			assert.Equal(t, tc.peak, peak)

			inv := s.conclude(root, ec)
			assert.Equal(t, tc.status, inv.Status)
			assert.Zero(t, s.stack.Len())
			assert.Equal(t, -1, s.stack.Depth())
		})
	}
}

func TestCallMissingAndPlainAccounts(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	deploy(t, a, addrA, forwarder(addrB), 0)

	inv := call(t, a, addrX, addrA)
	assert.Equal(t, uint32(11), binary.LittleEndian.Uint32(inv.Output[1:5]))

	deploy(t, a, addrB, nil, 10)
	inv = call(t, a, addrX, addrA)
	assert.Equal(t, uint32(12), binary.LittleEndian.Uint32(inv.Output[1:5]))
}

// caller stores a1 under "a" and then calls target.
func callerThatStores(target common.Address) []byte {
	data := append(target.Bytes(), 'a', '1')
	return assemble(data, func(b *asm.Builder, d uint32) {
		b.Emit(la(asm.A1, d+20)...).Li(asm.A2, 1).Emit(la(asm.A3, d+21)...).Li(asm.A4, 1).
			Syscall(vmtypes.SYSCALL_STORAGE_SET).
			Emit(la(asm.A1, d)...).Li(asm.A2, 0).Li(asm.A3, 0).Li(asm.A4, 0).
			Syscall(vmtypes.SYSCALL_CALL_PROGRAM).
			Emit(asm.ADDI(asm.A1, asm.A0, 0)).Li(asm.A2, 13).
			Syscall(vmtypes.SYSCALL_RETURN)
	})
}

func TestChildStateIsolation(t *testing.T) {
	for _, revert := range []bool{false, true} {
		a, env := newTestAVM(t, nil)
		deploy(t, a, addrA, callerThatStores(addrB), 0)
		deploy(t, a, addrB, storer("b", "2", revert), 0)

		inv := call(t, a, addrX, addrA)
		require.Equal(t, types.StatusSuccess, inv.Status)

		v, ok, err := env.GetStorage(addrA, []byte("a"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), v)

		_, ok, err = env.GetStorage(addrB, []byte("b"))
		require.NoError(t, err)
		assert.Equal(t, !revert, ok, "revert=%v", revert)
		if revert {
			assert.Empty(t, inv.Events)
			assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(inv.Output[1:5]))
		} else {
			require.Len(t, inv.Events, 1)
			assert.Equal(t, addrB, inv.Events[0].Address)
			assert.Equal(t, 1, inv.Events[0].Depth)
		}
	}
}

func TestParentFaultDiscardsChildWrites(t *testing.T) {
	a, env := newTestAVM(t, nil)
	// A calls B (which stores and returns) and then panics
	code := assemble(addrB.Bytes(), func(b *asm.Builder, d uint32) {
		b.Emit(la(asm.A1, d)...).Li(asm.A2, 0).Li(asm.A3, 0).Li(asm.A4, 0).
			Syscall(vmtypes.SYSCALL_CALL_PROGRAM).
			Li(asm.A1, 0).Li(asm.A2, 0).
			Syscall(vmtypes.SYSCALL_PANIC)
	})
	deploy(t, a, addrA, code, 0)
	deploy(t, a, addrB, storer("b", "2", false), 0)

	inv := call(t, a, addrX, addrA)
	require.Equal(t, types.StatusFault, inv.Status)
	assert.Zero(t, env.StorageLen(addrB))
	assert.Empty(t, inv.Events)
}

func TestCallChargesEntryCost(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	// CALLER into sp-32, then return those 20 bytes
	code := asm.NewBuilder().
		Emit(asm.ADDI(asm.A1, asm.SP, -32)).
		Syscall(vmtypes.SYSCALL_CALLER).
		Emit(asm.ADDI(asm.A1, asm.SP, -32)).
		Li(asm.A2, 20).
		Syscall(vmtypes.SYSCALL_RETURN).
		Bytes()
	deploy(t, a, addrA, code, 0)

	inv := call(t, a, addrX, addrA)
	require.Equal(t, types.StatusSuccess, inv.Status)
	assert.Equal(t, addrX.Bytes(), []byte(inv.Output))
	// entry 700, 7 instructions, CALLER 30+2+20*4, RETURN 30+20*4
	assert.Equal(t, uint64(700+7+112+110), inv.GasUsed)

	_, err := a.Call(context.Background(), addrX, addrA, make([]byte, 2000), 0, testGas)
	assert.ErrorIs(t, err, avmerrors.ErrInvalidInput)

	inv, err = a.Call(context.Background(), addrX, addrA, nil, 0, 100)
	require.NoError(t, err)
	assert.ErrorIs(t, inv.Fault, avmerrors.ErrOutOfGas)
}

func TestAddressSyscall(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	code := asm.NewBuilder().
		Emit(asm.ADDI(asm.A1, asm.SP, -32)).
		Syscall(vmtypes.SYSCALL_ADDRESS).
		Emit(asm.ADDI(asm.A1, asm.SP, -32)).
		Li(asm.A2, 20).
		Syscall(vmtypes.SYSCALL_RETURN).
		Bytes()
	deploy(t, a, addrA, code, 0)
	assert.Equal(t, addrA.Bytes(), []byte(call(t, a, addrX, addrA).Output))
}

func TestBalanceAndTransferSyscalls(t *testing.T) {
	a, env := newTestAVM(t, nil)
	// a1 holds the caller address at entry
	balance := asm.NewBuilder().
		Syscall(vmtypes.SYSCALL_BALANCE).
		Emit(asm.ADDI(asm.A1, asm.A0, 0)).
		Li(asm.A2, 32).
		Syscall(vmtypes.SYSCALL_RETURN).
		Bytes()
	deploy(t, a, addrA, balance, 0)
	deploy(t, a, addrX, nil, 1000)

	out := call(t, a, addrX, addrA).Output
	require.Len(t, out, 32)
	assert.Equal(t, []byte{0xe8, 0x03, 0}, []byte(out[:3]))

	pay := func(amount uint32) []byte {
		b := asm.NewBuilder().Li(asm.A2, amount).Li(asm.A3, 0).Syscall(vmtypes.SYSCALL_TRANSFER)
		returnA0(b)
		return b.Bytes()
	}
	deploy(t, a, addrB, pay(200), 500)
	deploy(t, a, addrC, pay(1000), 500)

	assert.Equal(t, []byte{0, 0, 0, 0}, []byte(call(t, a, addrX, addrB).Output))
	assert.Equal(t, []byte{1, 0, 0, 0}, []byte(call(t, a, addrX, addrC).Output))

	for addr, want := range map[common.Address]uint64{addrB: 300, addrC: 500, addrX: 1200} {
		acct, ok, err := env.GetAccount(addr)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, acct.GetBalance().Uint64(), addr.Hex())
	}
}

func TestHashSyscalls(t *testing.T) {
	tests := []struct {
		id  uint32
		sum func([]byte) common.Hash
	}{
		{vmtypes.SYSCALL_KECCAK256, common.Keccak256},
		{vmtypes.SYSCALL_BLAKE2B, common.Blake2Hash},
	}
	for _, tt := range tests {
		a, _ := newTestAVM(t, nil)
		code := assemble([]byte("abc"), func(b *asm.Builder, d uint32) {
			b.Emit(la(asm.A1, d)...).Li(asm.A2, 3).Emit(asm.ADDI(asm.A3, asm.SP, -64)).
				Syscall(tt.id).
				Emit(asm.ADDI(asm.A1, asm.SP, -64)).Li(asm.A2, 32).
				Syscall(vmtypes.SYSCALL_RETURN)
		})
		inv := invoke(t, a, code, nil, testGas)
		require.Equal(t, types.StatusSuccess, inv.Status, vmtypes.SyscallName(tt.id))
		assert.Equal(t, tt.sum([]byte("abc")).Bytes(), []byte(inv.Output))
	}
}

func TestAllocSyscall(t *testing.T) {
	tests := []struct {
		size, align uint32
		ok          bool
	}{
		{16, 8, true},
		{3, 64, true},
		{0, 8, false},
		{16, 3, false},
		{0x80000, 8, false},
	}
	for _, tt := range tests {
		a, _ := newTestAVM(t, nil)
		b := asm.NewBuilder().Li(asm.A1, tt.size).Li(asm.A2, tt.align).Syscall(vmtypes.SYSCALL_ALLOC)
		returnA0(b)
		inv := invoke(t, a, b.Bytes(), nil, testGas)
		require.Equal(t, types.StatusSuccess, inv.Status)
		ptr := binary.LittleEndian.Uint32(inv.Output)
		if !tt.ok {
			assert.Zero(t, ptr, "size %d align %d", tt.size, tt.align)
			continue
		}
		assert.NotZero(t, ptr)
		assert.Zero(t, ptr%tt.align)
		assert.Greater(t, ptr, uint32(start))
	}
}

func TestBadPointersReturnFailure(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	// LOG from an address past the page
	b := asm.NewBuilder().Li(asm.A1, 0x7fff0000).Li(asm.A2, 4).Syscall(vmtypes.SYSCALL_LOG)
	returnA0(b)
	inv := invoke(t, a, b.Bytes(), nil, testGas)
	require.Equal(t, types.StatusSuccess, inv.Status)
	assert.Equal(t, []byte{1, 0, 0, 0}, []byte(inv.Output))

	// CALLER into the read-only image
	b = asm.NewBuilder().Li(asm.A1, start).Syscall(vmtypes.SYSCALL_CALLER)
	returnA0(b)
	inv = invoke(t, a, b.Bytes(), nil, testGas)
	assert.Equal(t, []byte{1, 0, 0, 0}, []byte(inv.Output))
}

func TestTraceRecordsEveryStep(t *testing.T) {
	a, _ := newTestAVM(t, nil, WithTrace(true))
	inv := invoke(t, a, returnBytes([]byte("hello")), nil, testGas)

	require.Len(t, inv.Trace, 5)
	last := inv.Trace[4]
	require.NotNil(t, last.Syscall)
	assert.Equal(t, uint32(vmtypes.SYSCALL_RETURN), *last.Syscall)
	assert.Equal(t, uint32(start), inv.Trace[0].PC)
	for i, st := range inv.Trace {
		assert.Equal(t, 0, st.Depth)
		assert.Equal(t, uint64(i+1), st.Step)
	}
}

func TestInvocationsAreDeterministic(t *testing.T) {
	run := func() []byte {
		a, _ := newTestAVM(t, nil, WithTrace(true))
		deploy(t, a, addrA, callerThatStores(addrB), 0)
		deploy(t, a, addrB, storer("b", "2", false), 0)
		inv := call(t, a, addrX, addrA)
		out, err := json.Marshal(inv)
		require.NoError(t, err)
		return out
	}
	first, second := run(), run()
	opts := jsondiff.DefaultConsoleOptions()
	diff, text := jsondiff.Compare(first, second, &opts)
	assert.Equal(t, jsondiff.FullMatch, diff, text)
}

func TestRunTx(t *testing.T) {
	a, env := newTestAVM(t, nil)
	ctx := context.Background()

	rcpt := a.RunTx(ctx, types.Transaction{Type: types.TxCreateAccount, To: addrX, Value: 100})
	require.Equal(t, types.StatusSuccess, rcpt.Status, rcpt.Error)

	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxCreateAccount, To: addrX})
	assert.Equal(t, types.StatusFailure, rcpt.Status)
	assert.Equal(t, uint32(13), rcpt.Result.ErrorCode)

	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxCreateAccount, To: addrA, Data: make([]byte, 0x30004)})
	assert.Equal(t, uint32(14), rcpt.Result.ErrorCode)

	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxTransfer, From: addrX, To: addrB, Value: 40})
	require.Equal(t, types.StatusSuccess, rcpt.Status, rcpt.Error)
	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxTransfer, From: addrX, To: addrB, Value: 1000})
	assert.Equal(t, types.StatusFailure, rcpt.Status)
	assert.Equal(t, uint32(1), rcpt.Result.ErrorCode)
	x, _, _ := env.GetAccount(addrX)
	bb, _, _ := env.GetAccount(addrB)
	assert.Equal(t, uint64(60), x.GetBalance().Uint64())
	assert.Equal(t, uint64(40), bb.GetBalance().Uint64())

	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxCreateAccount, To: addrA, Data: returnBytes([]byte("pong"))})
	require.Equal(t, types.StatusSuccess, rcpt.Status, rcpt.Error)
	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxProgramCall, From: addrX, To: addrA, Value: 10})
	require.Equal(t, types.StatusSuccess, rcpt.Status, rcpt.Error)
	assert.Equal(t, []byte("pong"), []byte(rcpt.Result.Data))
	assert.Greater(t, rcpt.GasUsed, uint64(700))
	acct, _, _ := env.GetAccount(addrA)
	assert.Equal(t, uint64(10), acct.GetBalance().Uint64())

	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxProgramCall, From: addrX, To: addrC})
	assert.Equal(t, uint32(11), rcpt.Result.ErrorCode)
	rcpt = a.RunTx(ctx, types.Transaction{Type: types.TxProgramCall, From: addrA, To: addrX})
	assert.Equal(t, uint32(12), rcpt.Result.ErrorCode)
}

func TestFailedCallReturnsValue(t *testing.T) {
	a, env := newTestAVM(t, nil)
	deploy(t, a, addrX, nil, 100)
	deploy(t, a, addrA, panicker, 0)

	inv, err := a.Call(context.Background(), addrX, addrA, nil, 30, testGas)
	require.NoError(t, err)
	require.Equal(t, types.StatusFault, inv.Status)
	x, _, _ := env.GetAccount(addrX)
	assert.Equal(t, uint64(100), x.GetBalance().Uint64())
}

func TestTransferRules(t *testing.T) {
	a, _ := newTestAVM(t, nil)
	deploy(t, a, addrX, nil, 5)
	require.NoError(t, a.Transfer(addrX, addrX, uint256.NewInt(5)))
	assert.ErrorIs(t, a.Transfer(addrX, addrB, uint256.NewInt(6)), errInsufficientBalance)
	assert.ErrorIs(t, a.Transfer(addrC, addrB, uint256.NewInt(1)), errInsufficientBalance)
}

func TestStateStoreBackedCall(t *testing.T) {
	store, err := storage.NewStateStore("")
	require.NoError(t, err)
	defer store.Close()
	a, err := New(nil, store)
	require.NoError(t, err)

	deploy(t, a, addrA, callerThatStores(addrB), 0)
	deploy(t, a, addrB, storer("b", "2", false), 0)
	inv := call(t, a, addrX, addrA)
	require.Equal(t, types.StatusSuccess, inv.Status)

	v, ok, err := store.GetStorage(addrB, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestDebuggerMatchesInvoke(t *testing.T) {
	code := storer("k", "v", false)
	a, _ := newTestAVM(t, nil)
	want := invoke(t, a, code, nil, testGas)

	b, env := newTestAVM(t, nil)
	d, err := b.NewDebugger(code, nil, testGas)
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, d.Step(ctx))
	assert.Equal(t, uint64(1), d.CPU().Steps())
	assert.Nil(t, d.Invocation())

	// stop at the ECALL of STORAGE_SET
	ecall := uint32(start + 4*7)
	assert.False(t, d.Continue(ctx, map[uint32]bool{ecall: true}))
	assert.Equal(t, ecall, d.CPU().Regs.PC)
	assert.Zero(t, env.StorageLen(common.ZeroAddress))

	assert.True(t, d.Continue(ctx, nil))
	got := d.Invocation()
	require.NotNil(t, got)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.GasUsed, got.GasUsed)
	assert.Equal(t, want.Events, got.Events)
	assert.Equal(t, 1, env.StorageLen(common.ZeroAddress))
	assert.True(t, d.Step(ctx))
}
