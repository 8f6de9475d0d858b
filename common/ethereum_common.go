package common

import (
	"encoding/json"
	"fmt"

	ethereumCommon "github.com/ethereum/go-ethereum/common"
)

// AddressLength is the size of a contract or account address.
const AddressLength = ethereumCommon.AddressLength

// Hash is a custom type based on Ethereum's common.Hash
type Hash ethereumCommon.Hash

// Address is a custom type based on Ethereum's common.Address
type Address ethereumCommon.Address

// ZeroAddress is the address used for anonymous invocations.
var ZeroAddress = Address{}

func (h Hash) Bytes() []byte {
	return ethereumCommon.Hash(h).Bytes()
}

func (h Hash) String() string {
	return ethereumCommon.Hash(h).String()
}

func (h Hash) Hex() string {
	return ethereumCommon.Hash(h).Hex()
}

// Short returns the first four bytes in hex, for logs.
func (h Hash) Short() string {
	return fmt.Sprintf("%x..", h[:4])
}

func BytesToHash(b []byte) Hash {
	return Hash(ethereumCommon.BytesToHash(b))
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	*h = Hash(ethereumCommon.HexToHash(hexStr))
	return nil
}

func (a Address) Bytes() []byte {
	return ethereumCommon.Address(a).Bytes()
}

func (a Address) String() string {
	return ethereumCommon.Address(a).String()
}

func (a Address) Hex() string {
	return ethereumCommon.Address(a).Hex()
}

// HexToAddress converts a hexadecimal string to an Address.
func HexToAddress(s string) Address {
	return Address(ethereumCommon.HexToAddress(s))
}

// IsHexAddress reports whether s is a well formed 20-byte hex address.
func IsHexAddress(s string) bool {
	return ethereumCommon.IsHexAddress(s)
}

// BytesToAddress converts a byte slice to an Address.
func BytesToAddress(b []byte) Address {
	return Address(ethereumCommon.BytesToAddress(b))
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	if !IsHexAddress(hexStr) {
		return fmt.Errorf("invalid address %q", hexStr)
	}
	*a = HexToAddress(hexStr)
	return nil
}

// GetDevAccount returns a standard Hardhat/Anvil test account by index.
// Derived from "test test test test test test test test test test test junk".
func GetDevAccount(index int) (Address, string) {
	addresses := []Address{
		HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"),
	}
	privateKeys := []string{
		"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
		"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
		"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
	}
	return addresses[index%len(addresses)], privateKeys[index%len(privateKeys)]
}
