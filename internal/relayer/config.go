package relayer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnsupportedChain is returned when a request names a chainId absent
// from the loaded configuration.
var ErrUnsupportedChain = errors.New("relayer: unsupported chain")

// AssetSettings is one chain's per-asset entry.
type AssetSettings struct {
	AssetAddress      common.Address `json:"asset_address"`
	AssetName         string         `json:"asset_name"`
	FeeBPS            uint64         `json:"fee_bps"`
	MinWithdrawAmount *big.Int       `json:"min_withdraw_amount"`
}

// NativeCurrency describes the chain's gas-paying asset.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Defaults holds the fallback relayer identity values a chain entry may
// override.
type Defaults struct {
	FeeReceiverAddress common.Address `json:"fee_receiver_address"`
	SignerPrivateKey   string         `json:"signer_private_key"`
	EntrypointAddress  common.Address `json:"entrypoint_address"`
}

// ChainEntry is one configured chain. Any of the Defaults fields left
// zero-valued here fall back to the top-level Defaults.
type ChainEntry struct {
	ChainID         int64           `json:"chain_id"`
	ChainName       string          `json:"chain_name"`
	RPCURL          string          `json:"rpc_url"`
	MaxGasPriceWei  *big.Int        `json:"max_gas_price"`
	SupportedAssets []AssetSettings `json:"supported_assets"`
	NativeCurrency  NativeCurrency  `json:"native_currency"`
	WrappedNative   *common.Address `json:"wrapped_native_address"`

	FeeReceiverAddress *common.Address `json:"fee_receiver_address"`
	SignerPrivateKey   string          `json:"signer_private_key"`
	EntrypointAddress  *common.Address `json:"entrypoint_address"`
}

// MeshSettings configures the optional relayer-mesh gossip of terminal
// record summaries across a cluster of replicas. Off by default; a
// single relayer instance has no use for it.
type MeshSettings struct {
	Enabled        bool     `json:"enabled"`
	ListenAddrs    []string `json:"listen_addrs"`
	BootstrapPeers []string `json:"bootstrap_peers"`
}

// Config is the full relayer configuration document.
type Config struct {
	Defaults       Defaults     `json:"defaults"`
	Chains         []ChainEntry `json:"chains"`
	SQLiteDBPath   string       `json:"sqlite_db_path"`
	CORSAllowAll   bool         `json:"cors_allow_all"`
	AllowedDomains []string     `json:"allowed_domains"`
	Mesh           MeshSettings `json:"mesh"`
}

// LoadConfig reads and parses the JSON config document at path, then
// applies environment overrides for the RPC URL, signer key and DB path.
// Any parse failure propagates and aborts startup.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relayer: read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("relayer: parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

// applyEnvOverrides lets the environment override the RPC URL, signer
// key and DB path. A non-empty PRIVACYPOOL_DB_PATH wins over
// the config file; per-chain RPC URL / signer key overrides use a
// chain-id-suffixed variable name since multiple chains may be configured
// at once.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PRIVACYPOOL_DB_PATH"); v != "" {
		c.SQLiteDBPath = v
	}
	if v := os.Getenv("PRIVACYPOOL_SIGNER_KEY"); v != "" {
		c.Defaults.SignerPrivateKey = v
	}
	for i := range c.Chains {
		chainEnv := fmt.Sprintf("_%d", c.Chains[i].ChainID)
		if v := os.Getenv("PRIVACYPOOL_RPC_URL" + chainEnv); v != "" {
			c.Chains[i].RPCURL = v
		}
		if v := os.Getenv("PRIVACYPOOL_SIGNER_KEY" + chainEnv); v != "" {
			c.Chains[i].SignerPrivateKey = v
		}
	}
}

// ResolveChain finds the configured chain entry for chainID, applying
// defaults-fallback for any override field left unset.
func (c *Config) ResolveChain(chainID int64) (*ChainEntry, error) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			entry := c.Chains[i]
			if entry.FeeReceiverAddress == nil {
				entry.FeeReceiverAddress = &c.Defaults.FeeReceiverAddress
			}
			if entry.EntrypointAddress == nil {
				entry.EntrypointAddress = &c.Defaults.EntrypointAddress
			}
			if entry.SignerPrivateKey == "" {
				entry.SignerPrivateKey = c.Defaults.SignerPrivateKey
			}
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
}

// AssetConfigFor looks up a chain entry's per-asset settings by address.
func (e *ChainEntry) AssetConfigFor(asset common.Address) (*AssetSettings, bool) {
	for i := range e.SupportedAssets {
		if e.SupportedAssets[i].AssetAddress == asset {
			return &e.SupportedAssets[i], true
		}
	}
	return nil, false
}
