package account

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Commitment is a leaf in a pool's state tree binding a value to secret
// ownership material; Hash is uniquely determined by (value, label,
// nullifier, secret) and two commitments must never share a
// (nullifier, secret) pair
type Commitment struct {
	Value     *big.Int `json:"value"`
	Label     *big.Int `json:"label"`
	Nullifier *big.Int `json:"-"`
	Secret    *big.Int `json:"-"`
	Hash      *big.Int `json:"hash"`

	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	Timestamp   uint64 `json:"timestamp"`
}

// CommitmentHash computes poseidon(value, label, poseidon(nullifier, secret)),
// the state tree leaf for a position
func CommitmentHash(value, label, nullifier, secret *big.Int) (*big.Int, error) {
	if value == nil || label == nil || nullifier == nil || secret == nil {
		return nil, fmt.Errorf("commitment hash requires value, label, nullifier and secret")
	}

	precommitment, err := poseidon.Hash([]*big.Int{nullifier, secret})
	if err != nil {
		return nil, err
	}

	return poseidon.Hash([]*big.Int{value, label, precommitment})
}

// NullifierHash computes the public spent-marker hash for a nullifier
func NullifierHash(nullifier *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{nullifier})
}

// NewCommitment builds a commitment, computing its hash from the four inputs
func NewCommitment(value, label, nullifier, secret *big.Int, blockNumber uint64, txHash string) (*Commitment, error) {
	hash, err := CommitmentHash(value, label, nullifier, secret)
	if err != nil {
		return nil, err
	}

	return &Commitment{
		Value:       new(big.Int).Set(value),
		Label:       new(big.Int).Set(label),
		Nullifier:   new(big.Int).Set(nullifier),
		Secret:      new(big.Int).Set(secret),
		Hash:        hash,
		BlockNumber: blockNumber,
		TxHash:      txHash,
	}, nil
}

// WithdrawRequest binds a withdrawal's processor and relay parameters; its
// serialization is the context preimage, so any change to recipient or fee
// yields a different context
type WithdrawRequest struct {
	Processor    ethcommon.Address `json:"processor"`
	Recipient    ethcommon.Address `json:"recipient"`
	FeeRecipient ethcommon.Address `json:"fee_recipient"`
	RelayFeeBPS  *big.Int          `json:"relay_fee_bps"`
}

// SerializeRelayData packs the relay parameters the way the entrypoint
// contract hashes them: 32-byte left-padded words in declaration order
func (r *WithdrawRequest) SerializeRelayData() []byte {
	data := make([]byte, 0, 96)
	data = append(data, ethcommon.LeftPadBytes(r.Recipient.Bytes(), 32)...)
	data = append(data, ethcommon.LeftPadBytes(r.FeeRecipient.Bytes(), 32)...)
	feeBPS := r.RelayFeeBPS
	if feeBPS == nil {
		feeBPS = big.NewInt(0)
	}
	data = append(data, ethcommon.LeftPadBytes(feeBPS.Bytes(), 32)...)
	return data
}

// Context binds a withdrawal request to a scope, preventing replay of a proof
// against a different request: keccak256(processor ‖ relayData ‖ scope)
// reduced into the BN254 scalar field. Computed fresh per attempt; callers
// must not cache it across quote refreshes.
func Context(request *WithdrawRequest, scope *big.Int) (*big.Int, error) {
	if request == nil || scope == nil {
		return nil, fmt.Errorf("context requires a withdrawal request and scope")
	}

	preimage := make([]byte, 0, 160)
	preimage = append(preimage, ethcommon.LeftPadBytes(request.Processor.Bytes(), 32)...)
	preimage = append(preimage, request.SerializeRelayData()...)
	preimage = append(preimage, ethcommon.LeftPadBytes(scope.Bytes(), 32)...)

	digest := new(big.Int).SetBytes(crypto.Keccak256(preimage))
	return digest.Mod(digest, fr.Modulus()), nil
}
