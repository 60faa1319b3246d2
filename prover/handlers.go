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
	"errors"
	"math/big"
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/fatlabsxyz/privacy-pools-client/account"
	"github.com/fatlabsxyz/privacy-pools-client/common"
	zkp "github.com/fatlabsxyz/privacy-pools-client/zkp/providers"
)

// InstallAPI registers the witness assembly handlers with gin; sessions are
// resolved through the account API
func InstallAPI(r *gin.Engine, accounts *account.API) {
	r.POST("/api/v1/sessions/:id/witnesses/withdrawal", withdrawalWitnessHandler(accounts))
	r.POST("/api/v1/sessions/:id/witnesses/ragequit", ragequitWitnessHandler(accounts))
}

func render(obj interface{}, status int, c *gin.Context) {
	c.JSON(status, obj)
}

func renderError(message string, status int, c *gin.Context) {
	common.Log.Debugf("rendering %d status; %s", status, message)
	c.JSON(status, gin.H{"message": message})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrAmountExceedsBalance):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrAlreadyExited):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrMissingLeaves):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

type withdrawalWitnessParams struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`

	StateLeaves []string `json:"state_leaves"`
	ASPLeaves   []string `json:"asp_leaves"`

	Processor    string `json:"processor"`
	Recipient    string `json:"recipient"`
	FeeRecipient string `json:"fee_recipient"`
	RelayFeeBPS  string `json:"relay_fee_bps"`
}

func withdrawalWitnessHandler(accounts *account.API) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := accounts.ResolveSession(c.Param("id"))
		if session == nil {
			renderError("session not found", 404, c)
			return
		}

		var params withdrawalWitnessParams
		if err := c.ShouldBindJSON(&params); err != nil {
			renderError(err.Error(), 400, c)
			return
		}

		label := common.BigIntOrNil(params.Label)
		amount := common.BigIntOrNil(params.Amount)
		if label == nil || amount == nil {
			renderError("label and amount are required", 400, c)
			return
		}

		position := session.PositionByLabel(label)
		if position == nil {
			renderError("position not found", 404, c)
			return
		}

		stateLeaves, err := parseLeafSet(params.StateLeaves)
		if err != nil {
			renderError(err.Error(), 400, c)
			return
		}
		aspLeaves, err := parseLeafSet(params.ASPLeaves)
		if err != nil {
			renderError(err.Error(), 400, c)
			return
		}

		request := &account.WithdrawRequest{
			Processor:    ethcommon.HexToAddress(params.Processor),
			Recipient:    ethcommon.HexToAddress(params.Recipient),
			FeeRecipient: ethcommon.HexToAddress(params.FeeRecipient),
			RelayFeeBPS:  common.BigIntOrNil(params.RelayFeeBPS),
		}

		witness, err := BuildWithdrawalWitness(session, position, amount, stateLeaves, aspLeaves, request)
		if err != nil {
			renderError(err.Error(), statusForError(err), c)
			return
		}

		// the flattened inputs are the exact structure the proving engine
		// consumes, secrets included; they go back to the session owner only
		render(gin.H{
			"identifier": zkp.GnarkCircuitIdentifierWithdrawal,
			"witness":    witness.WitnessInputs(),
			"context":    witness.Context.String(),
			"state_root": witness.StateRoot.String(),
			"asp_root":   witness.ASPRoot.String(),
		}, 201, c)
	}
}

func ragequitWitnessHandler(accounts *account.API) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := accounts.ResolveSession(c.Param("id"))
		if session == nil {
			renderError("session not found", 404, c)
			return
		}

		var params struct {
			Label string `json:"label"`
		}
		if err := c.ShouldBindJSON(&params); err != nil {
			renderError(err.Error(), 400, c)
			return
		}

		label := common.BigIntOrNil(params.Label)
		if label == nil {
			renderError("label is required", 400, c)
			return
		}

		position := session.PositionByLabel(label)
		if position == nil {
			renderError("position not found", 404, c)
			return
		}

		witness, err := BuildRagequitWitness(position)
		if err != nil {
			renderError(err.Error(), statusForError(err), c)
			return
		}

		inputs, err := witness.WitnessInputs()
		if err != nil {
			renderError(err.Error(), 422, c)
			return
		}

		render(gin.H{
			"identifier": zkp.GnarkCircuitIdentifierCommitment,
			"witness":    inputs,
		}, 201, c)
	}
}

func parseLeafSet(raw []string) ([]*big.Int, error) {
	leaves := make([]*big.Int, 0, len(raw))
	for _, leaf := range raw {
		parsed := common.BigIntOrNil(leaf)
		if parsed == nil {
			return nil, errors.New("unparseable merkle leaf " + leaf)
		}
		leaves = append(leaves, parsed)
	}
	return leaves, nil
}
