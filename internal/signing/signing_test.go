package signing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestGenerateKeyPair(t *testing.T) {
	k, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if k.Address == (common.Address{}) {
		t.Error("generated zero address")
	}
}

func TestSignAndVerifyOrder(t *testing.T) {
	k, _ := GenerateKeyPair()
	s := NewSigner(DefaultDomain())

	order := &OrderTypedData{
		MarketID: "BTC/USDC",
		Side:     1,
		Kind:     1,
		Price:    big.NewInt(50_000_000),
		Size:     big.NewInt(1_000_000),
		Nonce:    big.NewInt(1),
		Owner:    k.Address,
	}

	sig, err := s.SignOrder(k, order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	ok, err := s.VerifyOrder(order, sig)
	if err != nil {
		t.Fatalf("VerifyOrder: %v", err)
	}
	if !ok {
		t.Fatal("expected order signature to verify")
	}
}

func TestVerifyOrderRejectsWrongOwner(t *testing.T) {
	k, _ := GenerateKeyPair()
	other, _ := GenerateKeyPair()
	s := NewSigner(DefaultDomain())

	order := &OrderTypedData{
		MarketID: "BTC/USDC", Side: 1, Kind: 1,
		Price: big.NewInt(1), Size: big.NewInt(1), Nonce: big.NewInt(1),
		Owner: other.Address,
	}
	sig, err := s.SignOrder(k, order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	ok, err := s.VerifyOrder(order, sig)
	if err != nil {
		t.Fatalf("VerifyOrder: %v", err)
	}
	if ok {
		t.Fatal("expected signature by k to not verify against a different claimed owner")
	}
}

func TestSignAndVerifyCancel(t *testing.T) {
	k, _ := GenerateKeyPair()
	s := NewSigner(DefaultDomain())

	cancel := &CancelTypedData{
		OrderID:  big.NewInt(7),
		MarketID: "BTC/USDC",
		Nonce:    big.NewInt(2),
		Owner:    k.Address,
	}
	sig, err := s.SignCancel(k, cancel)
	if err != nil {
		t.Fatalf("SignCancel: %v", err)
	}
	ok, err := s.VerifyCancel(cancel, sig)
	if err != nil {
		t.Fatalf("VerifyCancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel signature to verify")
	}
}

func TestDifferentDomainsProduceDifferentHashes(t *testing.T) {
	order := &OrderTypedData{
		MarketID: "BTC/USDC", Side: 1, Kind: 1,
		Price: big.NewInt(1), Size: big.NewInt(1), Nonce: big.NewInt(1),
		Owner: common.HexToAddress("0xAA00000000000000000000000000000000000000"),
	}

	d1 := NewSigner(DefaultDomain())
	d2 := NewSigner(Domain{Name: "spotkernel", Version: "2", ChainID: big.NewInt(1337)})

	h1, err := d1.HashOrder(order)
	if err != nil {
		t.Fatalf("HashOrder d1: %v", err)
	}
	h2, err := d2.HashOrder(order)
	if err != nil {
		t.Fatalf("HashOrder d2: %v", err)
	}
	if string(h1) == string(h2) {
		t.Fatal("expected different domain versions to hash to different digests")
	}
}

func TestRecoverAddressAndVerify(t *testing.T) {
	k, _ := GenerateKeyPair()
	digest := make([]byte, 32)
	digest[0] = 0x42

	sig, err := k.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if recovered != k.Address {
		t.Fatalf("recovered = %s, want %s", recovered.Hex(), k.Address.Hex())
	}
	if !Verify(k.Address, digest, sig) {
		t.Fatal("expected Verify to accept the matching address")
	}
	if Verify(common.HexToAddress("0xBB00000000000000000000000000000000000000"), digest, sig) {
		t.Fatal("expected Verify to reject an unrelated address")
	}
}

func TestSignRejectsWrongDigestLength(t *testing.T) {
	k, _ := GenerateKeyPair()
	if _, err := k.Sign([]byte("too short")); err == nil {
		t.Fatal("expected an error signing a non-32-byte digest")
	}
}
