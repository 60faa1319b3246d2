/*
 * Copyright 2025-2026 Fat Solutions
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sync"

	uuid "github.com/kthomas/go.uuid"

	"github.com/fatlabsxyz/privacy-pools-client/common"
	zkp "github.com/fatlabsxyz/privacy-pools-client/zkp/providers"
)

const proverProvingSchemeGroth16 = "groth16"
const proverCurveBN254 = "bn254"

// Prover generates and verifies proofs for one circuit using serialized
// artifacts; the proving engine itself stays opaque behind the provider
type Prover struct {
	ID uuid.UUID

	Identifier    *string `json:"identifier"`
	Provider      *string `json:"provider"`
	ProvingScheme *string `json:"proving_scheme"`
	Curve         *string `json:"curve"`

	// artifacts, i.e., compiled r1cs and keys
	Binary []byte `json:"-"`

	provingKey   []byte
	verifyingKey []byte
	srs          []byte

	mutex sync.Mutex
}

// InitProver initializes a prover around the given circuit identifier and artifacts
func InitProver(identifier string, binary, provingKey, verifyingKey, srs []byte) *Prover {
	id, _ := uuid.NewV4()
	return &Prover{
		ID:            id,
		Identifier:    common.StringOrNil(identifier),
		Provider:      common.StringOrNil(zkp.ZKSnarkCircuitProviderGnark),
		ProvingScheme: common.StringOrNil(proverProvingSchemeGroth16),
		Curve:         common.StringOrNil(proverCurveBN254),
		Binary:        binary,
		provingKey:    provingKey,
		verifyingKey:  verifyingKey,
		srs:           srs,
	}
}

func (c *Prover) circuitProviderFactory() zkp.ZKSnarkCircuitProvider {
	if c.Provider == nil {
		common.Log.Warning("failed to initialize circuit provider; no provider defined")
		return nil
	}

	switch *c.Provider {
	case zkp.ZKSnarkCircuitProviderGnark:
		return zkp.InitGnarkCircuitProvider(c.Curve, c.ProvingScheme)
	default:
		common.Log.Warningf("failed to initialize circuit provider; unknown provider: %s", *c.Provider)
	}

	return nil
}

// Prove generates a proof for the given witness, returned hex-encoded
func (c *Prover) Prove(witness map[string]interface{}) (*string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	provider := c.circuitProviderFactory()
	if provider == nil {
		return nil, fmt.Errorf("failed to resolve circuit provider")
	}

	witval, err := provider.WitnessFactory(*c.Identifier, *c.Curve, witness, false)
	if err != nil {
		common.Log.Warningf("failed to read serialized witness for prover %s; %s", c.ID, err.Error())
		return nil, err
	}

	proof, err := provider.Prove(c.Binary, c.provingKey, witval, c.srs)
	if err != nil {
		common.Log.Warningf("failed to generate proof for prover %s; %s", c.ID, err.Error())
		return nil, err
	}

	buf := new(bytes.Buffer)
	_, err = proof.(io.WriterTo).WriteTo(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal binary proof for prover %s with identifier %s; %s", c.ID, *c.Identifier, err.Error())
	}

	_proof := common.StringOrNil(hex.EncodeToString(buf.Bytes()))
	common.Log.Debugf("generated proof for prover %s with identifier %s", c.ID, *c.Identifier)

	return _proof, nil
}

// Verify a proof to be verifiable for the given witness
func (c *Prover) Verify(proof string, witness map[string]interface{}) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	provider := c.circuitProviderFactory()
	if provider == nil {
		return false, fmt.Errorf("failed to resolve circuit provider")
	}

	var _proof []byte

	_proof, err := hex.DecodeString(proof)
	if err != nil {
		common.Log.Debugf("failed to decode proof as hex for verification of prover %s; %s", c.ID, err.Error())
		_proof = []byte(proof)
	}

	witval, err := provider.WitnessFactory(*c.Identifier, *c.Curve, witness, true)
	if err != nil {
		common.Log.Warningf("failed to read serialized witness for prover %s; %s", c.ID, err.Error())
		return false, err
	}

	err = provider.Verify(_proof, c.verifyingKey, witval, c.srs)
	if err != nil {
		common.Log.Debugf("failed to verify witness for prover %s; %s", c.ID, err.Error())
		return false, err
	}

	return true, nil
}

// ProofRequest is one unit of proving work for a position label
type ProofRequest struct {
	ID      uuid.UUID
	Label   *big.Int
	Witness map[string]interface{}

	results chan *ProofResult
}

// ProofResult carries the outcome of a proof request
type ProofResult struct {
	RequestID uuid.UUID
	Label     *big.Int
	Proof     *string
	Err       error
}

// Worker serializes long-running proof generation off the caller's goroutine.
// A newer request for the same position label supersedes the in-flight one:
// the stale result is dropped rather than delivered, since its fee/recipient
// parameters are no longer the ones the user is looking at.
type Worker struct {
	prover   *Prover
	requests chan *ProofRequest

	mutex  sync.Mutex
	latest map[string]uuid.UUID
}

// NewWorker creates a proof worker bound to the given prover
func NewWorker(prover *Prover, buffer int) *Worker {
	return &Worker{
		prover:   prover,
		requests: make(chan *ProofRequest, buffer),
		latest:   map[string]uuid.UUID{},
	}
}

// Submit enqueues a proof request for the given label, superseding any
// in-flight request for the same label. The returned channel yields exactly
// one result unless the request is superseded, in which case it is closed
// without a result.
func (w *Worker) Submit(ctx context.Context, label *big.Int, witness map[string]interface{}) (<-chan *ProofResult, error) {
	if label == nil {
		return nil, fmt.Errorf("proof request requires a position label")
	}

	id, _ := uuid.NewV4()
	request := &ProofRequest{
		ID:      id,
		Label:   new(big.Int).Set(label),
		Witness: witness,
		results: make(chan *ProofResult, 1),
	}

	w.mutex.Lock()
	w.latest[label.String()] = id
	w.mutex.Unlock()

	select {
	case w.requests <- request:
		return request.results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start consumes proof requests until the context is cancelled
func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case request := <-w.requests:
				w.process(request)
			case <-ctx.Done():
				common.Log.Debugf("proof worker for prover %s shutting down; %s", w.prover.ID, ctx.Err())
				return
			}
		}
	}()
}

func (w *Worker) process(request *ProofRequest) {
	if w.superseded(request) {
		common.Log.Debugf("dropping superseded proof request %s for label %s", request.ID, request.Label)
		close(request.results)
		return
	}

	proof, err := w.prover.Prove(request.Witness)

	// parameters may have changed while proving; a stale proof must never
	// reach the caller
	if w.superseded(request) {
		common.Log.Debugf("dropping stale proof result %s for label %s", request.ID, request.Label)
		close(request.results)
		return
	}

	request.results <- &ProofResult{
		RequestID: request.ID,
		Label:     request.Label,
		Proof:     proof,
		Err:       err,
	}
	close(request.results)
}

func (w *Worker) superseded(request *ProofRequest) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.latest[request.Label.String()] != request.ID
}
