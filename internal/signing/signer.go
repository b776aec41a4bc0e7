// Package signing implements the optional signature scheme SPEC_FULL §9
// resolves as the concrete answer to "a real deployment must define a
// signing scheme": ECDSA secp256k1 (Ethereum-compatible) keys and
// EIP-712 typed-data hashing for orders and cancels. It is never on the
// kernel's default request path — SPEC_FULL §1/§7 keep the opaque
// signature string trusted unconditionally there — this package exists
// for a deployment that wants to enable the RequestRouter verification
// middleware in internal/router.
package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyPair wraps an ECDSA secp256k1 key pair and its derived address.
type KeyPair struct {
	privateKey *ecdsa.PrivateKey
	Address    common.Address
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	return &KeyPair{privateKey: pk, Address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// KeyPairFromHex loads a key pair from a hex-encoded private key.
func KeyPairFromHex(hexKey string) (*KeyPair, error) {
	pk, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signing: parse private key: %w", err)
	}
	return &KeyPair{privateKey: pk, Address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Sign signs a 32-byte digest, returning a 65-byte [R||S||V] signature.
func (k *KeyPair) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("signing: digest must be 32 bytes, got %d", len(digest))
	}
	return ethcrypto.Sign(digest, k.privateKey)
}

// RecoverAddress recovers the address that produced signature over digest.
func RecoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("signing: signature must be 65 bytes, got %d", len(signature))
	}
	pub, err := ethcrypto.SigToPub(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("signing: recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether signature over digest was produced by address.
func Verify(address common.Address, digest, signature []byte) bool {
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false
	}
	return recovered == address
}
