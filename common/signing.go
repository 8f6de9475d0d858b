package common

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// EthSign signs the 32-byte digest with the hex private key.
// It returns the 65-byte [R || S || V] signature.
func EthSign(privateKeyHex string, digest []byte) ([]byte, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("error converting private key: %v", err)
	}
	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return nil, fmt.Errorf("error signing the hash: %v", err)
	}
	return signature, nil
}

// RecoverAddress returns the address that produced the 65-byte signature over digest.
func RecoverAddress(digest, signature []byte) (Address, error) {
	if len(digest) != 32 || len(signature) != crypto.SignatureLength {
		return Address{}, errors.New("bad digest or signature length")
	}
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return Address{}, err
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

// VerifyCompressed checks a 64-byte [R || S] signature against a 33-byte compressed key.
func VerifyCompressed(pubkey, digest, signature []byte) bool {
	if len(pubkey) != 33 || len(digest) != 32 || len(signature) != 64 {
		return false
	}
	return crypto.VerifySignature(pubkey, digest, signature)
}
