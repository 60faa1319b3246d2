package common

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
	redisutil "github.com/kthomas/go-redisutil"
)

const defaultMerkleTreeDepth = 32
const defaultReconcileInterval = time.Minute * 1

var (
	// Log is the configured logger
	Log *logger.Logger

	// ConsumeNATSStreamingSubscriptions when true causes the NATS proof job consumers to start
	ConsumeNATSStreamingSubscriptions bool

	// ListenAddr is the address the API binds to
	ListenAddr string

	// MerkleTreeDepth is the fixed depth of the state and ASP trees referenced by withdrawal witnesses
	MerkleTreeDepth int

	// RedisEnabled when true causes ASP responses to be cached between reconciliation ticks
	RedisEnabled bool

	// ReconcileInterval is the period between account reconciliation ticks
	ReconcileInterval time.Duration
)

func init() {
	godotenv.Load()

	requireLogger()
	requireFlags()
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("privacy-pools", lvl, endpoint)
}

func requireFlags() {
	ConsumeNATSStreamingSubscriptions = os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS") == "true"

	ListenAddr = os.Getenv("LISTEN_ADDR")
	if ListenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		ListenAddr = fmt.Sprintf("0.0.0.0:%s", port)
	}

	MerkleTreeDepth = defaultMerkleTreeDepth
	if os.Getenv("MERKLE_TREE_DEPTH") != "" {
		depth, err := strconv.ParseUint(os.Getenv("MERKLE_TREE_DEPTH"), 10, 8)
		if err != nil {
			Log.Panicf("failed to parse MERKLE_TREE_DEPTH; %s", err.Error())
		}
		MerkleTreeDepth = int(depth)
	}

	RedisEnabled = os.Getenv("REDIS_HOSTS") != ""
	if RedisEnabled {
		redisutil.RequireRedis()
	}

	ReconcileInterval = defaultReconcileInterval
	if os.Getenv("RECONCILE_INTERVAL_SECONDS") != "" {
		seconds, err := strconv.ParseUint(os.Getenv("RECONCILE_INTERVAL_SECONDS"), 10, 32)
		if err != nil {
			Log.Panicf("failed to parse RECONCILE_INTERVAL_SECONDS; %s", err.Error())
		}
		ReconcileInterval = time.Duration(seconds) * time.Second
	}
}

// PoolDescriptor describes a single deployed privacy pool; fields are validated
// when the chain config is loaded, not at point of use
type PoolDescriptor struct {
	ChainID         string   `json:"chain_id"`
	Address         string   `json:"address"`
	EntryPoint      string   `json:"entrypoint_address"`
	AssetAddress    string   `json:"asset_address"`
	AssetSymbol     string   `json:"asset_symbol"`
	AssetDecimals   uint8    `json:"asset_decimals"`
	DeploymentBlock uint64   `json:"deployment_block"`
	Scope           *big.Int `json:"scope,omitempty"` // resolved from the pool contract when nil
}

// ChainDescriptor describes a chain and the pools deployed on it
type ChainDescriptor struct {
	ChainID    string            `json:"chain_id"`
	Name       string            `json:"name"`
	RPCURL     string            `json:"rpc_url"`
	ASPBaseURL string            `json:"asp_base_url"`
	RelayerURL string            `json:"relayer_url"`
	Pools      []*PoolDescriptor `json:"pools"`
}

func (c *ChainDescriptor) validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("chain descriptor requires chain_id")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("chain descriptor %s requires rpc_url", c.ChainID)
	}
	for i, pool := range c.Pools {
		if pool.Address == "" {
			return fmt.Errorf("pool descriptor %d on chain %s requires address", i, c.ChainID)
		}
		if pool.EntryPoint == "" {
			return fmt.Errorf("pool descriptor %d on chain %s requires entrypoint_address", i, c.ChainID)
		}
		if pool.ChainID == "" {
			pool.ChainID = c.ChainID
		} else if pool.ChainID != c.ChainID {
			return fmt.Errorf("pool descriptor %d misconfigured; chain id %s does not match chain %s", i, pool.ChainID, c.ChainID)
		}
	}
	return nil
}

// LoadChainConfig reads and validates the chain/pool configuration at the
// given path, failing fast on any missing or inconsistent field
func LoadChainConfig(path string) (map[string]*ChainDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config at %s; %s", path, err.Error())
	}

	var chains []*ChainDescriptor
	err = json.Unmarshal(raw, &chains)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chain config at %s; %s", path, err.Error())
	}

	config := map[string]*ChainDescriptor{}
	for _, chain := range chains {
		if err := chain.validate(); err != nil {
			return nil, err
		}
		if _, exists := config[chain.ChainID]; exists {
			return nil, fmt.Errorf("duplicate chain descriptor for chain %s", chain.ChainID)
		}
		config[chain.ChainID] = chain
	}

	return config, nil
}

// RequireChainConfig loads the chain config from CHAIN_CONFIG_PATH and panics on failure
func RequireChainConfig() map[string]*ChainDescriptor {
	path := os.Getenv("CHAIN_CONFIG_PATH")
	if path == "" {
		Log.Panicf("CHAIN_CONFIG_PATH not set")
	}

	config, err := LoadChainConfig(path)
	if err != nil {
		Log.Panicf(err.Error())
	}

	return config
}
