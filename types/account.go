package types

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/colorfulnotion/avm/common"
)

// accountEncodedLen is address(20) | balance(32, big endian) | nonce(8) | flags(1) | code hash(32).
const accountEncodedLen = common.AddressLength + 32 + 8 + 1 + 32

const flagContract = 1

// Account is an externally owned account or a contract. Code is only
// populated when the account was loaded with its code.
type Account struct {
	Address    common.Address `json:"address"`
	Balance    *uint256.Int   `json:"balance"`
	Nonce      uint64         `json:"nonce"`
	IsContract bool           `json:"is_contract"`
	CodeHash   common.Hash    `json:"code_hash"`
	Code       hexutil.Bytes  `json:"code,omitempty"`
}

// NewAccount returns an empty account holding balance.
func NewAccount(addr common.Address, balance uint64) *Account {
	return &Account{Address: addr, Balance: uint256.NewInt(balance)}
}

// NewContract returns a contract account with the given code.
func NewContract(addr common.Address, code []byte) *Account {
	return &Account{
		Address:    addr,
		Balance:    new(uint256.Int),
		IsContract: true,
		CodeHash:   common.Blake2Hash(code),
		Code:       append([]byte(nil), code...),
	}
}

func (a *Account) Clone() *Account {
	clone := *a
	if a.Balance != nil {
		clone.Balance = a.Balance.Clone()
	}
	clone.Code = append(hexutil.Bytes(nil), a.Code...)
	return &clone
}

// Encode returns the fixed-width record stored for the account. Code is stored
// separately under its hash.
func (a *Account) Encode() []byte {
	out := make([]byte, 0, accountEncodedLen)
	out = append(out, a.Address.Bytes()...)
	b32 := a.GetBalance().Bytes32()
	out = append(out, b32[:]...)
	out = binary.LittleEndian.AppendUint64(out, a.Nonce)
	var flags byte
	if a.IsContract {
		flags |= flagContract
	}
	out = append(out, flags)
	return append(out, a.CodeHash.Bytes()...)
}

func DecodeAccount(b []byte) (*Account, error) {
	if len(b) != accountEncodedLen {
		return nil, fmt.Errorf("account record is %d bytes, want %d", len(b), accountEncodedLen)
	}
	a := &Account{Address: common.BytesToAddress(b[:20])}
	a.Balance = new(uint256.Int).SetBytes32(b[20:52])
	a.Nonce = binary.LittleEndian.Uint64(b[52:60])
	a.IsContract = b[60]&flagContract != 0
	a.CodeHash = common.BytesToHash(b[61:])
	return a, nil
}

// GetBalance returns the balance, treating a nil Balance as zero.
func (a *Account) GetBalance() *uint256.Int {
	if a.Balance == nil {
		return new(uint256.Int)
	}
	return a.Balance
}

func (a *Account) String() string {
	return fmt.Sprintf("Account{%s balance=%s nonce=%d contract=%v code=%s}",
		a.Address.Hex(), a.GetBalance().Dec(), a.Nonce, a.IsContract, a.CodeHash.Short())
}
