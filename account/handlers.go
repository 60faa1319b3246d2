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

package account

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/fatlabsxyz/privacy-pools-client/common"
	"github.com/fatlabsxyz/privacy-pools-client/events"
)

// API exposes session lifecycle and position queries over HTTP; the seed
// travels in the create request body only and is never echoed back
type API struct {
	chains  map[string]*common.ChainDescriptor
	source  events.Source
	reviews map[string]ReviewProvider

	mutex    sync.Mutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
}

// NewAPI initializes the account API surface
func NewAPI(chains map[string]*common.ChainDescriptor, source events.Source, reviews map[string]ReviewProvider) *API {
	return &API{
		chains:   chains,
		source:   source,
		reviews:  reviews,
		sessions: map[string]*Session{},
		cancels:  map[string]context.CancelFunc{},
	}
}

// InstallAPI registers the account API handlers with gin
func (api *API) InstallAPI(r *gin.Engine) {
	r.POST("/api/v1/sessions", api.createSessionHandler)
	r.DELETE("/api/v1/sessions/:id", api.closeSessionHandler)

	r.POST("/api/v1/sessions/:id/load", api.loadSessionHandler)
	r.GET("/api/v1/sessions/:id/positions", api.listPositionsHandler)
	r.GET("/api/v1/sessions/:id/history", api.historyHandler)

	r.POST("/api/v1/sessions/:id/deposits", api.createDepositSecretsHandler)
}

// ResolveSession returns the live session with the given id, or nil
func (api *API) ResolveSession(id string) *Session {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return api.sessions[id]
}

func render(obj interface{}, status int, c *gin.Context) {
	c.JSON(status, obj)
}

func renderError(message string, status int, c *gin.Context) {
	common.Log.Debugf("rendering %d status; %s", status, message)
	c.JSON(status, gin.H{"message": message})
}

// statusForError maps the error taxonomy onto HTTP statuses: user input 400,
// integrity 422, data unavailability 503
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidSeed):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateLabel),
		errors.Is(err, ErrUnknownParent),
		errors.Is(err, ErrAlreadyExited),
		errors.Is(err, ErrConflictingRagequit),
		errors.Is(err, ErrValueExceedsParent),
		errors.Is(err, ErrChainDiverged):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (api *API) createSessionHandler(c *gin.Context) {
	var params struct {
		Seed string `json:"seed"`
	}
	if err := c.ShouldBindJSON(&params); err != nil {
		renderError(err.Error(), 400, c)
		return
	}

	session, err := NewSession(params.Seed, api.chains, api.source)
	if err != nil {
		renderError(err.Error(), statusForError(err), c)
		return
	}

	// reconciliation outlives the create request; cancelled when the
	// session is closed
	ctx, cancel := context.WithCancel(context.Background())

	api.mutex.Lock()
	api.sessions[session.ID.String()] = session
	api.cancels[session.ID.String()] = cancel
	api.mutex.Unlock()

	for chainID, provider := range api.reviews {
		session.StartReconciliation(ctx, chainID, provider)
	}

	render(gin.H{"id": session.ID.String()}, 201, c)
}

func (api *API) closeSessionHandler(c *gin.Context) {
	api.mutex.Lock()
	session, exists := api.sessions[c.Param("id")]
	cancel := api.cancels[c.Param("id")]
	delete(api.sessions, c.Param("id"))
	delete(api.cancels, c.Param("id"))
	api.mutex.Unlock()

	if !exists {
		renderError("session not found", 404, c)
		return
	}

	if cancel != nil {
		cancel()
	}
	session.Close()
	render(nil, 204, c)
}

func (api *API) loadSessionHandler(c *gin.Context) {
	session := api.ResolveSession(c.Param("id"))
	if session == nil {
		renderError("session not found", 404, c)
		return
	}

	chainID := c.Query("chain_id")
	if chainID == "" {
		renderError("chain_id is required", 400, c)
		return
	}

	positions, err := session.Load(c.Request.Context(), chainID)
	if err != nil {
		renderError(err.Error(), statusForError(err), c)
		return
	}

	render(positions, 200, c)
}

func (api *API) listPositionsHandler(c *gin.Context) {
	session := api.ResolveSession(c.Param("id"))
	if session == nil {
		renderError("session not found", 404, c)
		return
	}

	chainID := c.Query("chain_id")
	if chainID == "" {
		renderError("chain_id is required", 400, c)
		return
	}

	if scope := common.BigIntOrNil(c.Query("scope")); scope != nil {
		render(session.SelectByChainScope(chainID, scope), 200, c)
		return
	}

	render(session.Positions(chainID), 200, c)
}

func (api *API) historyHandler(c *gin.Context) {
	session := api.ResolveSession(c.Param("id"))
	if session == nil {
		renderError("session not found", 404, c)
		return
	}

	chainID := c.Query("chain_id")
	if chainID == "" {
		renderError("chain_id is required", 400, c)
		return
	}

	render(session.History(chainID), 200, c)
}

func (api *API) createDepositSecretsHandler(c *gin.Context) {
	session := api.ResolveSession(c.Param("id"))
	if session == nil {
		renderError("session not found", 404, c)
		return
	}

	var params struct {
		ChainID string `json:"chain_id"`
		Scope   string `json:"scope"`
	}
	if err := c.ShouldBindJSON(&params); err != nil {
		renderError(err.Error(), 400, c)
		return
	}

	scope := common.BigIntOrNil(params.Scope)
	if params.ChainID == "" || scope == nil {
		renderError("chain_id and scope are required", 400, c)
		return
	}

	secrets, index, err := session.CreateDepositSecrets(params.ChainID, scope)
	if err != nil {
		renderError(err.Error(), statusForError(err), c)
		return
	}

	// only the precommitment leaves the core; nullifier and secret stay in
	// process memory with the session
	render(gin.H{
		"deposit_index": index,
		"precommitment": secrets.Precommitment.String(),
	}, 201, c)
}
