package avm

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/types"
	"github.com/colorfulnotion/avm/vm"
)

// ExecutionContext is one running contract call.
type ExecutionContext struct {
	ID    int
	Depth int
	From  common.Address
	To    common.Address
	Input []byte

	CPU    *vm.CPU
	Memory *vm.MemoryPage
	Gas    *vm.GasMeter

	Events  []types.Event
	Storage *overlay

	Result types.CallResult
	Status types.Status
	Fault  *avmerrors.Fault
	// PanicMessage is the PANIC syscall text, if any.
	PanicMessage string

	// resultSet is true once RETURN or REVERT produced Result.
	resultSet bool
}

func (ec *ExecutionContext) String() string {
	return fmt.Sprintf("ctx#%d depth=%d %s->%s gas=%d/%d", ec.ID, ec.Depth, ec.From.Hex(), ec.To.Hex(), ec.Gas.Used(), ec.Gas.Limit())
}

// ContextStack is the call stack of one invocation.
type ContextStack struct {
	frames   []*ExecutionContext
	maxDepth int
}

func NewContextStack(maxDepth int) *ContextStack {
	return &ContextStack{maxDepth: maxDepth}
}

// Push fails with ErrCallStackOverflow when the stack already holds maxDepth contexts.
func (s *ContextStack) Push(ec *ExecutionContext) error {
	if len(s.frames) >= s.maxDepth {
		return avmerrors.ErrCallStackOverflow
	}
	s.frames = append(s.frames, ec)
	return nil
}

func (s *ContextStack) Pop() *ExecutionContext {
	if len(s.frames) == 0 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

func (s *ContextStack) Current() *ExecutionContext {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth is the depth of the current context, -1 when empty.
func (s *ContextStack) Depth() int { return len(s.frames) - 1 }
func (s *ContextStack) Len() int   { return len(s.frames) }

// Full reports whether a further Push would overflow.
func (s *ContextStack) Full() bool { return len(s.frames) >= s.maxDepth }

// ====================== storage overlay ======================

type slotKey struct {
	addr common.Address
	key  string
}

// overlay stages the storage writes and account changes of one context. Reads
// fall through to the parent overlay and finally to the HostEnv.
type overlay struct {
	parent   *overlay
	env      HostEnv
	slots    map[slotKey][]byte
	accounts map[common.Address]*types.Account
}

func newOverlay(env HostEnv, parent *overlay) *overlay {
	return &overlay{
		parent:   parent,
		env:      env,
		slots:    make(map[slotKey][]byte),
		accounts: make(map[common.Address]*types.Account),
	}
}

func (o *overlay) getStorage(addr common.Address, key []byte) ([]byte, bool, error) {
	for cur := o; cur != nil; cur = cur.parent {
		if v, ok := cur.slots[slotKey{addr, string(key)}]; ok {
			return v, len(v) > 0, nil
		}
	}
	v, ok, err := o.env.GetStorage(addr, key)
	return v, ok, errors.Wrap(err, "storage get")
}

// setStorage stages val; an empty val stages a delete.
func (o *overlay) setStorage(addr common.Address, key, val []byte) {
	o.slots[slotKey{addr, string(key)}] = append([]byte{}, val...)
}

func (o *overlay) getAccount(addr common.Address) (*types.Account, bool, error) {
	for cur := o; cur != nil; cur = cur.parent {
		if a, ok := cur.accounts[addr]; ok {
			return a.Clone(), true, nil
		}
	}
	a, ok, err := o.env.GetAccount(addr)
	return a, ok, errors.Wrap(err, "account get")
}

func (o *overlay) putAccount(a *types.Account) {
	o.accounts[a.Address] = a.Clone()
}

// commit merges the staged changes into the parent, or writes them to the
// HostEnv in key order when o is the outermost overlay.
func (o *overlay) commit() error {
	if o.parent != nil {
		maps.Copy(o.parent.slots, o.slots)
		maps.Copy(o.parent.accounts, o.accounts)
		return nil
	}
	addrs := maps.Keys(o.accounts)
	slices.SortFunc(addrs, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	for _, addr := range addrs {
		if err := o.env.PutAccount(o.accounts[addr]); err != nil {
			return errors.Wrapf(err, "commit account %s", addr.Hex())
		}
	}
	keys := maps.Keys(o.slots)
	slices.SortFunc(keys, func(a, b slotKey) int {
		if c := bytes.Compare(a.addr[:], b.addr[:]); c != 0 {
			return c
		}
		return bytes.Compare([]byte(a.key), []byte(b.key))
	})
	for _, k := range keys {
		if err := o.env.SetStorage(k.addr, []byte(k.key), o.slots[k]); err != nil {
			return errors.Wrapf(err, "commit storage %s/%x", k.addr.Hex(), k.key)
		}
	}
	return nil
}
