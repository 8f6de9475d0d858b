package common

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Blake2Hash is BLAKE2b-256. It names contract code in the state store and
// backs the BLAKE2B syscall.
func Blake2Hash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// Keccak256 is the legacy (pre-NIST) Keccak used by Ethereum.
func Keccak256(data []byte) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out Hash
	h.Sum(out[:0])
	return out
}

func Uint32ToBytes(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// BytesToUint32 reads a little-endian uint32; short input is zero-extended.
func BytesToUint32(data []byte) uint32 {
	var buf [4]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint32(buf[:])
}
