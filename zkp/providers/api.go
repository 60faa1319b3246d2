package providers

// GnarkCircuitIdentifierWithdrawal privacy pool withdrawal circuit
const GnarkCircuitIdentifierWithdrawal = "withdrawal"

// GnarkCircuitIdentifierCommitment commitment ownership (ragequit) circuit
const GnarkCircuitIdentifierCommitment = "commitment"

// ZKSnarkCircuitProviderGnark gnark zksnark circuit provider
const ZKSnarkCircuitProviderGnark = "gnark"

// ZKSnarkCircuitProvider provides a common interface to interact with zksnark circuits
type ZKSnarkCircuitProvider interface {
	Compile(argv ...interface{}) (interface{}, error)
	Setup(circuit interface{}, srs []byte) (interface{}, interface{}, error)
	Prove(circuit, provingKey []byte, witness interface{}, srs []byte) (interface{}, error)
	Verify(proof, verifyingKey []byte, witness interface{}, srs []byte) error
	WitnessFactory(identifier string, curve string, inputs interface{}, isPublic bool) (interface{}, error)
}
