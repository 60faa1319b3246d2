package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/fatlabsxyz/privacy-pools-client/common"
)

const defaultRequestTimeout = time.Second * 30

// Client submits assembled withdrawal payloads to a relayer service
type Client struct {
	baseURL string
	client  *http.Client
}

// Fees is the relayer's fee schedule for one asset
type Fees struct {
	FeeBPS       *big.Int `json:"fee_bps"`
	FeeRecipient string   `json:"fee_recipient"`
}

type feesResponse struct {
	FeeBPS       string `json:"fee_bps"`
	FeeRecipient string `json:"fee_recipient"`
}

// RelayRequest is the payload the relayer broadcasts on the caller's behalf;
// Proof is hex-encoded and PublicSignals are decimal strings
type RelayRequest struct {
	ChainID       string   `json:"chain_id"`
	Scope         string   `json:"scope"`
	Processor     string   `json:"processor"`
	Data          string   `json:"data"`
	Proof         string   `json:"proof"`
	PublicSignals []string `json:"public_signals"`
}

// RelayResponse carries the broadcast transaction hash on success
type RelayResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash"`
	Error   string `json:"error,omitempty"`
}

// NewClient initializes a relayer client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

// Ping reports whether the relayer is reachable
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/ping", c.baseURL), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relayer offline; status %d", resp.StatusCode)
	}
	return nil
}

// FetchFees returns the relayer's fee schedule for the given asset
func (c *Client) FetchFees(ctx context.Context, assetAddress string) (*Fees, error) {
	url := fmt.Sprintf("%s/details?assetAddress=%s", c.baseURL, assetAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to fetch relayer fees; status %d; %s", resp.StatusCode, string(body))
	}

	var raw feesResponse
	err = json.NewDecoder(resp.Body).Decode(&raw)
	if err != nil {
		return nil, err
	}

	feeBPS := common.BigIntOrNil(raw.FeeBPS)
	if feeBPS == nil {
		return nil, fmt.Errorf("relayer returned unparseable fee_bps %s", raw.FeeBPS)
	}

	return &Fees{
		FeeBPS:       feeBPS,
		FeeRecipient: raw.FeeRecipient,
	}, nil
}

// Relay submits the withdrawal payload and proof, returning the broadcast tx
// hash or the relayer's error. Fee parameters inside the payload must match
// the context the proof was generated against; the relayer rejects otherwise.
func (c *Client) Relay(ctx context.Context, request *RelayRequest) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/relay", c.baseURL), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("relay request failed; status %d; %s", resp.StatusCode, string(body))
	}

	var result RelayResponse
	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return "", err
	}

	if !result.Success || result.TxHash == "" {
		if result.Error != "" {
			return "", fmt.Errorf("relay rejected; %s", result.Error)
		}
		return "", fmt.Errorf("relay rejected without error detail")
	}

	common.Log.Debugf("relayed withdrawal; tx hash %s", result.TxHash)
	return result.TxHash, nil
}
