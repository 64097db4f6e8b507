// Package permit implements the Permit2-style signed-allowance path:
// an EIP-712 message that substitutes for a standing token approval at
// order creation or modification time.
package permit

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrExpired is returned when the permit or its signature deadline
	// has passed.
	ErrExpired = errors.New("permit expired")

	// ErrBadSignature is returned when the signature does not recover
	// to the expected owner.
	ErrBadSignature = errors.New("invalid permit signature")

	// ErrWrongSpender is returned when the permit names a different
	// spender than the contract pulling funds.
	ErrWrongSpender = errors.New("permit spender mismatch")
)

// Details scopes a single token allowance.
type Details struct {
	Token      common.Address
	Amount     *big.Int
	Expiration uint64
	Nonce      uint64
}

// Single is a one-token permit message plus its signing deadline.
type Single struct {
	Details     Details
	Spender     common.Address
	SigDeadline uint64
}

var (
	nameHash    = crypto.Keccak256([]byte("Permit2"))
	versionHash = crypto.Keccak256([]byte("1"))

	permitTypeHash = crypto.Keccak256([]byte(
		"PermitSingle(PermitDetails details,address spender,uint256 sigDeadline)" +
			"PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)"))
	detailsTypeHash = crypto.Keccak256([]byte(
		"PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)"))
)

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// DomainSeparator binds signatures to a chain and verifying contract.
func DomainSeparator(chainID uint64, verifyingContract common.Address) []byte {
	return crypto.Keccak256(
		nameHash,
		versionHash,
		word(new(big.Int).SetUint64(chainID)),
		addressWord(verifyingContract),
	)
}

// Digest computes the EIP-712 signing hash for a permit.
func Digest(p *Single, chainID uint64, verifyingContract common.Address) []byte {
	detailsHash := crypto.Keccak256(
		detailsTypeHash,
		addressWord(p.Details.Token),
		word(p.Details.Amount),
		word(new(big.Int).SetUint64(p.Details.Expiration)),
		word(new(big.Int).SetUint64(p.Details.Nonce)),
	)
	structHash := crypto.Keccak256(
		permitTypeHash,
		detailsHash,
		addressWord(p.Spender),
		word(new(big.Int).SetUint64(p.SigDeadline)),
	)
	domainHash := DomainSeparator(chainID, verifyingContract)
	return crypto.Keccak256(append([]byte("\x19\x01"), append(domainHash, structHash...)...))
}

// Sign produces a 65-byte [R || S || V] signature over the permit.
func Sign(p *Single, chainID uint64, verifyingContract common.Address, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(Digest(p, chainID, verifyingContract), key)
}

// Verify checks the permit's deadlines, spender, and signature, and
// fails if the recovered signer is not owner. now is a unix timestamp.
func Verify(p *Single, sig []byte, owner, spender common.Address, chainID uint64, verifyingContract common.Address, now uint64) error {
	if p.SigDeadline < now || p.Details.Expiration < now {
		return ErrExpired
	}
	if p.Spender != spender {
		return fmt.Errorf("%w: permit for %s, spender %s", ErrWrongSpender, p.Spender.Hex(), spender.Hex())
	}
	pub, err := crypto.SigToPub(Digest(p, chainID, verifyingContract), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != owner {
		return ErrBadSignature
	}
	return nil
}
