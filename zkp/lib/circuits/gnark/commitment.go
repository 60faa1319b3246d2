package gnark

import (
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/hash/bn254/poseidon"
)

// CommitmentCircuit defines a commitment ownership proof: knowledge of the
// (nullifier, secret) preimage behind a public commitment hash and its public
// nullifier hash. This is the ragequit shape: value and label are revealed.
type CommitmentCircuit struct {
	Nullifier frontend.Variable
	Secret    frontend.Variable

	Value         frontend.Variable `gnark:",public"`
	Label         frontend.Variable `gnark:",public"`
	Commitment    frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
}

// Define declares the circuit's constraints
// Commitment = H(Value, Label, H(Nullifier, Secret)); NullifierHash = H(Nullifier)
func (circuit *CommitmentCircuit) Define(api frontend.API) error {
	precommitment, err := poseidon.Hash(api, circuit.Nullifier, circuit.Secret)
	if err != nil {
		return err
	}

	commitment, err := poseidon.Hash(api, circuit.Value, circuit.Label, precommitment)
	if err != nil {
		return err
	}
	api.AssertIsEqual(circuit.Commitment, commitment)

	nullifierHash, err := poseidon.Hash(api, circuit.Nullifier)
	if err != nil {
		return err
	}
	api.AssertIsEqual(circuit.NullifierHash, nullifierHash)

	return nil
}
