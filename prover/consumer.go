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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"

	"github.com/fatlabsxyz/privacy-pools-client/common"
)

const defaultNatsStream = "privacy"

const natsCreatedProofSubject = "privacy.proof.pending"
const natsCreatedProofMaxInFlight = 32
const createProofAckWait = time.Hour * 1
const createProofMaxDeliveries = 5

var (
	registryMutex  sync.Mutex
	proverRegistry = map[string]*Prover{}
)

// RegisterProver makes a prover resolvable by circuit identifier for async proof jobs
func RegisterProver(prover *Prover) error {
	if prover == nil || prover.Identifier == nil {
		return fmt.Errorf("failed to register prover; identifier required")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()
	proverRegistry[*prover.Identifier] = prover
	return nil
}

func resolveProver(identifier string) *Prover {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	return proverRegistry[identifier]
}

func init() {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("prover package consumer configured to skip NATS streaming subscription setup")
		return
	}

	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(defaultNatsStream, []string{
		fmt.Sprintf("%s.>", defaultNatsStream),
	})

	var waitGroup sync.WaitGroup

	createNatsProofSubscriptions(&waitGroup)
}

func createNatsProofSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			createProofAckWait,
			natsCreatedProofSubject,
			natsCreatedProofSubject,
			natsCreatedProofSubject,
			consumeProofMsg,
			createProofAckWait,
			natsCreatedProofMaxInFlight,
			createProofMaxDeliveries,
			nil,
		)
	}
}

func consumeProofMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during async proof generation; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS proof message on subject: %s", len(msg.Data), msg.Subject)

	params := map[string]interface{}{}
	err := json.Unmarshal(msg.Data, &params)
	if err != nil {
		common.Log.Warningf("failed to unmarshal proof message; %s", err.Error())
		msg.Nak()
		return
	}

	identifier, identifierOk := params["identifier"].(string)
	if !identifierOk {
		common.Log.Warning("failed to unmarshal identifier during proof message handler")
		msg.Nak()
		return
	}

	witness, witnessOk := params["witness"].(map[string]interface{})
	if !witnessOk {
		common.Log.Warning("failed to unmarshal witness during proof message handler")
		msg.Nak()
		return
	}

	prover := resolveProver(identifier)
	if prover == nil {
		common.Log.Warningf("failed to resolve prover during async proof generation; identifier: %s", identifier)
		msg.Nak()
		return
	}

	proof, err := prover.Prove(witness)
	if err != nil {
		common.Log.Warningf("async proof generation failed for prover %s; %s", prover.ID, err.Error())
		prover.dispatchNotification(natsProofNotificationFailed, map[string]interface{}{
			"error": err.Error(),
		})
		msg.Nak()
		return
	}

	common.Log.Debugf("async proof generated for prover %s with identifier %s", prover.ID, identifier)
	prover.dispatchNotification(natsProofNotificationCompleted, map[string]interface{}{
		"proof": proof,
	})
	msg.Ack()
}
