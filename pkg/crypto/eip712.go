package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the typed-data domain separator. It binds signatures to
// one exchange deployment: an order signed for another chain or verifying
// contract hashes to a different digest.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// OrderEIP712 is the typed struct a maker signs in their wallet.
type OrderEIP712 struct {
	Maker        common.Address
	OutcomeIndex *big.Int
	IsBuy        bool
	Price        *big.Int
	Amount       *big.Int
	Salt         *big.Int
	Expiry       *big.Int // 0 = no expiry
}

// EIP712Signer hashes and verifies orders under one exchange domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the Predictex exchange domain. Polygon chain id,
// zero verifying contract for off-chain order flow.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "Predictex",
		Version:           "1",
		ChainID:           big.NewInt(137),
		VerifyingContract: common.Address{},
	}
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "maker", Type: "address"},
		{Name: "outcomeIndex", Type: "uint256"},
		{Name: "isBuy", Type: "bool"},
		{Name: "price", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
}

// HashOrder returns the EIP-712 digest a maker signs for an order.
func (e *EIP712Signer) HashOrder(o *OrderEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":        o.Maker.Hex(),
			"outcomeIndex": o.OutcomeIndex.String(),
			"isBuy":        o.IsBuy,
			"price":        o.Price.String(),
			"amount":       o.Amount.String(),
			"salt":         o.Salt.String(),
			"expiry":       o.Expiry.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order struct: %w", err)
	}

	// digest = keccak256("\x19\x01" || domainSeparator || structHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// SignOrder signs an order digest and returns the 65-byte signature.
func (e *EIP712Signer) SignOrder(signer *Signer, o *OrderEIP712) ([]byte, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return signature, nil
}

// RecoverOrderSigner recovers the address that signed an order.
func (e *EIP712Signer) RecoverOrderSigner(o *OrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// VerifyOrderSignature reports whether the signature recovers to the
// declared maker.
func (e *EIP712Signer) VerifyOrderSignature(o *OrderEIP712, signature []byte) (bool, error) {
	recovered, err := e.RecoverOrderSigner(o, signature)
	if err != nil {
		return false, err
	}
	return recovered == o.Maker, nil
}

// CancelMessage is the canonical text binding a salt to cancel intent.
func CancelMessage(salt uint64) string {
	return fmt.Sprintf("Cancel Order: %d", salt)
}

// HashCancel hashes the canonical cancel message.
func HashCancel(salt uint64) []byte {
	return crypto.Keccak256([]byte(CancelMessage(salt)))
}

// SignCancel signs the canonical cancel message for a salt.
func SignCancel(signer *Signer, salt uint64) ([]byte, error) {
	return signer.Sign(HashCancel(salt))
}

// VerifyCancelSignature reports whether the cancel signature over the
// canonical message recovers to the declared maker.
func VerifyCancelSignature(maker common.Address, salt uint64, signature []byte) bool {
	return VerifySignature(maker, HashCancel(salt), signature)
}
