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

package asp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	redisutil "github.com/kthomas/go-redisutil"

	"github.com/fatlabsxyz/privacy-pools-client/account"
	"github.com/fatlabsxyz/privacy-pools-client/common"
)

const scopeHeader = "X-Pool-Scope"
const labelsHeader = "X-Labels"

const defaultRequestTimeout = time.Second * 30

// Client talks to an association set provider service; responses are
// eventually consistent with chain truth and callers must treat them as such
type Client struct {
	baseURL string
	chainID string
	client  *http.Client
}

// PoolInfo is the ASP's view of a deployed pool
type PoolInfo struct {
	ChainID         string `json:"chain_id"`
	Address         string `json:"address"`
	AssetAddress    string `json:"asset_address"`
	Scope           string `json:"scope"`
	DeploymentBlock uint64 `json:"deployment_block"`
}

// MTRoots carries the latest published state and association set tree roots
type MTRoots struct {
	StateRoot *big.Int `json:"state_root"`
	ASPRoot   *big.Int `json:"asp_root"`
}

// MTLeaves carries the full leaf sets backing the published roots
type MTLeaves struct {
	StateLeaves []*big.Int `json:"state_leaves"`
	ASPLeaves   []*big.Int `json:"asp_leaves"`
}

type mtRootsResponse struct {
	StateRoot string `json:"state_root"`
	ASPRoot   string `json:"asp_root"`
}

type mtLeavesResponse struct {
	StateLeaves []string `json:"state_leaves"`
	ASPLeaves   []string `json:"asp_leaves"`
}

type reviewStatusResponse struct {
	Statuses map[string]string `json:"statuses"` // keyed by decimal label
}

// NewClient initializes an ASP client for one chain
func NewClient(baseURL, chainID string) *Client {
	return &Client{
		baseURL: baseURL,
		chainID: chainID,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (c *Client) get(ctx context.Context, path string, headers map[string]string, response interface{}) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.chainID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("asp request to %s failed with status %d; %s", path, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(response)
}

// FetchPoolInfo returns the ASP's descriptor for the pool with the given scope
func (c *Client) FetchPoolInfo(ctx context.Context, scope *big.Int) (*PoolInfo, error) {
	var info PoolInfo
	err := c.get(ctx, "public/pool-info", map[string]string{scopeHeader: common.BigIntString(scope)}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// FetchMTRoots returns the latest published tree roots for the scope
func (c *Client) FetchMTRoots(ctx context.Context, scope *big.Int) (*MTRoots, error) {
	var raw mtRootsResponse
	err := c.get(ctx, "public/mt-roots", map[string]string{scopeHeader: common.BigIntString(scope)}, &raw)
	if err != nil {
		return nil, err
	}

	roots := &MTRoots{
		StateRoot: common.BigIntOrNil(raw.StateRoot),
		ASPRoot:   common.BigIntOrNil(raw.ASPRoot),
	}
	if roots.StateRoot == nil || roots.ASPRoot == nil {
		return nil, fmt.Errorf("asp returned unparseable roots for scope %s", scope)
	}
	return roots, nil
}

// FetchMTLeaves returns the leaf sets for the scope; cached between
// reconciliation ticks when redis is configured
func (c *Client) FetchMTLeaves(ctx context.Context, scope *big.Int) (*MTLeaves, error) {
	cacheKey := fmt.Sprintf("asp.%s.%s.leaves", c.chainID, common.BigIntString(scope))

	if common.RedisEnabled {
		if cached, err := redisutil.Get(cacheKey); err == nil && cached != nil {
			var raw mtLeavesResponse
			if err := json.Unmarshal([]byte(*cached), &raw); err == nil {
				return parseLeaves(&raw)
			}
		}
	}

	var raw mtLeavesResponse
	err := c.get(ctx, "public/mt-leaves", map[string]string{scopeHeader: common.BigIntString(scope)}, &raw)
	if err != nil {
		return nil, err
	}

	if common.RedisEnabled {
		if payload, err := json.Marshal(&raw); err == nil {
			ttl := common.ReconcileInterval
			if err := redisutil.Set(cacheKey, string(payload), &ttl); err != nil {
				common.Log.Debugf("failed to cache asp leaves for scope %s; %s", scope, err.Error())
			}
		}
	}

	return parseLeaves(&raw)
}

func parseLeaves(raw *mtLeavesResponse) (*MTLeaves, error) {
	leaves := &MTLeaves{
		StateLeaves: make([]*big.Int, 0, len(raw.StateLeaves)),
		ASPLeaves:   make([]*big.Int, 0, len(raw.ASPLeaves)),
	}

	for _, leaf := range raw.StateLeaves {
		parsed := common.BigIntOrNil(leaf)
		if parsed == nil {
			return nil, fmt.Errorf("asp returned unparseable state leaf %s", leaf)
		}
		leaves.StateLeaves = append(leaves.StateLeaves, parsed)
	}
	for _, leaf := range raw.ASPLeaves {
		parsed := common.BigIntOrNil(leaf)
		if parsed == nil {
			return nil, fmt.Errorf("asp returned unparseable association set leaf %s", leaf)
		}
		leaves.ASPLeaves = append(leaves.ASPLeaves, parsed)
	}

	return leaves, nil
}

// FetchReviewStatuses returns per-label review statuses for the scope
func (c *Client) FetchReviewStatuses(ctx context.Context, scope *big.Int, labels []*big.Int) (map[string]account.ReviewStatus, error) {
	headers := map[string]string{scopeHeader: common.BigIntString(scope)}
	if len(labels) > 0 {
		joined := ""
		for i, label := range labels {
			if i > 0 {
				joined += ","
			}
			joined += label.String()
		}
		headers[labelsHeader] = joined
	}

	var raw reviewStatusResponse
	err := c.get(ctx, "private/review-status", headers, &raw)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]account.ReviewStatus, len(raw.Statuses))
	for label, status := range raw.Statuses {
		switch account.ReviewStatus(status) {
		case account.ReviewStatusPending, account.ReviewStatusApproved:
			statuses[label] = account.ReviewStatus(status)
		default:
			// SPENT/EXITED are derived locally from chain state; an ASP
			// opinion on them is ignored
			common.Log.Debugf("ignoring asp-reported status %s for label %s", status, label)
		}
	}

	return statuses, nil
}

// GetReviewState satisfies account.ReviewProvider for session reconciliation
func (c *Client) GetReviewState(ctx context.Context, chainID string, scope *big.Int) (*account.ReviewState, error) {
	if chainID != c.chainID {
		return nil, fmt.Errorf("asp client for chain %s cannot serve chain %s", c.chainID, chainID)
	}

	leaves, err := c.FetchMTLeaves(ctx, scope)
	if err != nil {
		return nil, err
	}

	statuses, err := c.FetchReviewStatuses(ctx, scope, nil)
	if err != nil {
		// leaf membership alone still allows approval reconciliation
		common.Log.Debugf("failed to fetch review statuses for scope %s; %s", scope, err.Error())
		statuses = map[string]account.ReviewStatus{}
	}

	return &account.ReviewState{
		ASPLeaves: leaves.ASPLeaves,
		Statuses:  statuses,
	}, nil
}
