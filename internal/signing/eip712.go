package signing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator, preventing replay across
// chains or deployments.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns a development domain suitable for a single
// off-chain deployment (zero verifying contract).
func DefaultDomain() Domain {
	return Domain{Name: "spotkernel", Version: "1", ChainID: big.NewInt(1337)}
}

// OrderTypedData is the typed-data structure a wallet signs for
// place_order, matching SPEC_FULL §6's place_order fields (minus
// signature itself and minus any leverage/delegation concept, which do
// not exist in this kernel's domain).
type OrderTypedData struct {
	MarketID string
	Side     uint8 // 1 = buy, 2 = sell
	Kind     uint8 // 1 = limit, 2 = market
	Price    *big.Int
	Size     *big.Int
	Nonce    *big.Int
	Owner    common.Address
}

// CancelTypedData is the typed-data structure signed for cancel_order.
type CancelTypedData struct {
	OrderID  *big.Int
	MarketID string
	Nonce    *big.Int
	Owner    common.Address
}

// Signer hashes and verifies typed-data orders/cancels under one domain.
type Signer struct {
	domain Domain
}

func NewSigner(domain Domain) *Signer { return &Signer{domain: domain} }

func (s *Signer) domainMap() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              s.domain.Name,
		Version:           s.domain.Version,
		ChainId:           (*ethmath.HexOrDecimal256)(s.domain.ChainID),
		VerifyingContract: s.domain.VerifyingContract.Hex(),
	}
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func hashTypedData(td apitypes.TypedData) ([]byte, error) {
	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("signing: hash domain: %w", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("signing: hash message: %w", err)
	}
	raw := append([]byte{0x19, 0x01}, append(domainSep, msgHash...)...)
	digest := ethcrypto.Keccak256(raw)
	return digest, nil
}

// HashOrder computes the EIP-712 digest for an order.
func (s *Signer) HashOrder(o *OrderTypedData) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"Order": []apitypes.Type{
				{Name: "marketId", Type: "string"},
				{Name: "side", Type: "uint8"},
				{Name: "kind", Type: "uint8"},
				{Name: "price", Type: "uint256"},
				{Name: "size", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "Order",
		Domain:      s.domainMap(),
		Message: apitypes.TypedDataMessage{
			"marketId": o.MarketID,
			"side":     fmt.Sprintf("%d", o.Side),
			"kind":     fmt.Sprintf("%d", o.Kind),
			"price":    o.Price.String(),
			"size":     o.Size.String(),
			"nonce":    o.Nonce.String(),
			"owner":    o.Owner.Hex(),
		},
	}
	return hashTypedData(td)
}

// SignOrder signs an order with k, returning the 65-byte signature.
func (s *Signer) SignOrder(k *KeyPair, o *OrderTypedData) ([]byte, error) {
	hash, err := s.HashOrder(o)
	if err != nil {
		return nil, err
	}
	return k.Sign(hash)
}

// VerifyOrder reports whether signature was produced by o.Owner.
func (s *Signer) VerifyOrder(o *OrderTypedData, signature []byte) (bool, error) {
	hash, err := s.HashOrder(o)
	if err != nil {
		return false, err
	}
	return Verify(o.Owner, hash, signature), nil
}

// HashCancel computes the EIP-712 digest for a cancel request.
func (s *Signer) HashCancel(c *CancelTypedData) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"Cancel": []apitypes.Type{
				{Name: "orderId", Type: "uint256"},
				{Name: "marketId", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "Cancel",
		Domain:      s.domainMap(),
		Message: apitypes.TypedDataMessage{
			"orderId":  c.OrderID.String(),
			"marketId": c.MarketID,
			"nonce":    c.Nonce.String(),
			"owner":    c.Owner.Hex(),
		},
	}
	return hashTypedData(td)
}

// SignCancel signs a cancel request with k, returning the 65-byte signature.
func (s *Signer) SignCancel(k *KeyPair, c *CancelTypedData) ([]byte, error) {
	hash, err := s.HashCancel(c)
	if err != nil {
		return nil, err
	}
	return k.Sign(hash)
}

// VerifyCancel reports whether signature was produced by c.Owner.
func (s *Signer) VerifyCancel(c *CancelTypedData, signature []byte) (bool, error) {
	hash, err := s.HashCancel(c)
	if err != nil {
		return false, err
	}
	return Verify(c.Owner, hash, signature), nil
}
