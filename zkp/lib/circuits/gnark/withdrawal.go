package gnark

import (
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/hash/bn254/poseidon"
)

// WithdrawalCircuit defines a partial withdrawal from a pool commitment:
// knowledge of a commitment preimage whose hash is a member of the state
// tree, whose label is a member of the association set tree, and whose value
// splits into the public withdrawn amount plus a remainder. Context binds
// the proof to one withdrawal request and scope.
type WithdrawalCircuit struct {
	Nullifier frontend.Variable
	Secret    frontend.Variable
	Label     frontend.Variable

	SpentValue     frontend.Variable
	RemainingValue frontend.Variable

	StateSiblings []frontend.Variable
	StateHelpers  []frontend.Variable
	ASPSiblings   []frontend.Variable
	ASPHelpers    []frontend.Variable

	StateRoot      frontend.Variable `gnark:",public"`
	ASPRoot        frontend.Variable `gnark:",public"`
	WithdrawnValue frontend.Variable `gnark:",public"`
	Context        frontend.Variable `gnark:",public"`
	SpentNullifier frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints
func (circuit *WithdrawalCircuit) Define(api frontend.API) error {
	precommitment, err := poseidon.Hash(api, circuit.Nullifier, circuit.Secret)
	if err != nil {
		return err
	}
	commitment, err := poseidon.Hash(api, circuit.SpentValue, circuit.Label, precommitment)
	if err != nil {
		return err
	}

	nullifierHash, err := poseidon.Hash(api, circuit.Nullifier)
	if err != nil {
		return err
	}
	api.AssertIsEqual(circuit.SpentNullifier, nullifierHash)

	stateRoot, err := leanRoot(api, commitment, circuit.StateSiblings, circuit.StateHelpers)
	if err != nil {
		return err
	}
	api.AssertIsEqual(circuit.StateRoot, stateRoot)

	aspRoot, err := leanRoot(api, circuit.Label, circuit.ASPSiblings, circuit.ASPHelpers)
	if err != nil {
		return err
	}
	api.AssertIsEqual(circuit.ASPRoot, aspRoot)

	// value conservation: spent = remaining + withdrawn
	api.AssertIsEqual(circuit.SpentValue, api.Add(circuit.RemainingValue, circuit.WithdrawnValue))

	// context is bound as a public input; constrain it to itself so the
	// compiler cannot prune it from the witness
	api.AssertIsEqual(circuit.Context, circuit.Context)

	return nil
}

// leanRoot recombines a lean incremental merkle path padded with zero
// siblings to a fixed depth. A zero sibling marks a padding level and passes
// the node through unchanged; real siblings are poseidon digests or labels
// and are never zero, matching the off-circuit tree's unpaired-node rule.
func leanRoot(api frontend.API, leaf frontend.Variable, siblings []frontend.Variable, helpers []frontend.Variable) (frontend.Variable, error) {
	node := leaf
	for i := range siblings {
		api.AssertIsBoolean(helpers[i])
		left := api.Select(helpers[i], siblings[i], node)
		right := api.Select(helpers[i], node, siblings[i])
		parent, err := poseidon.Hash(api, left, right)
		if err != nil {
			return nil, err
		}
		node = api.Select(api.IsZero(siblings[i]), node, parent)
	}
	return node, nil
}
