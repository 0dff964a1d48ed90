// Package config holds the application settings and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/identity-verification-dapp/orchestrator"
	"github.com/ruteri/identity-verification-dapp/session"
)

const (
	DefaultAppName         = "Identity Verification DApp"
	DefaultAppVersion      = "1.0.0"
	DefaultContractAddress = "0xd9145CCE52D386f254917e481eB44e9943F39138"
	DefaultChainID         = uint64(11155111)
	DefaultIPFSGateway     = "https://ipfs.io/ipfs/"
	DefaultIPFSAPI         = "localhost:5001"
)

// DefaultSupportedNetworks are Mainnet, Goerli, Sepolia and a local dev chain.
var DefaultSupportedNetworks = []uint64{1, 5, 11155111, 1337}

var gatewayPattern = regexp.MustCompile(`^https?://.+`)

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChainConfig struct {
	ContractAddress   string   `yaml:"contract_address"`
	DefaultChainID    uint64   `yaml:"default_chain_id"`
	SupportedNetworks []uint64 `yaml:"supported_networks"`
	RPCURL            string   `yaml:"rpc_url"`
}

type IPFSConfig struct {
	Gateway string `yaml:"gateway"`
	API     string `yaml:"api"`
}

type TransactionsConfig struct {
	GasBufferPercent uint64        `yaml:"gas_buffer_percent"`
	DefaultGasLimit  uint64        `yaml:"default_gas_limit"`
	BlockGasFallback bool          `yaml:"block_gas_fallback"`
	RefetchDelay     time.Duration `yaml:"refetch_delay"`
}

type SessionConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	NotificationDuration time.Duration `yaml:"notification_duration"`
}

// Config is the full application configuration.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Chain        ChainConfig        `yaml:"chain"`
	IPFS         IPFSConfig         `yaml:"ipfs"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Session      SessionConfig      `yaml:"session"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    DefaultAppName,
			Version: DefaultAppVersion,
		},
		Chain: ChainConfig{
			ContractAddress:   DefaultContractAddress,
			DefaultChainID:    DefaultChainID,
			SupportedNetworks: append([]uint64(nil), DefaultSupportedNetworks...),
		},
		IPFS: IPFSConfig{
			Gateway: DefaultIPFSGateway,
			API:     DefaultIPFSAPI,
		},
		Transactions: TransactionsConfig{
			GasBufferPercent: orchestrator.DefaultGasBufferPercent,
			DefaultGasLimit:  orchestrator.DefaultGasLimit,
			RefetchDelay:     orchestrator.DefaultRefetchDelay,
		},
		Session: SessionConfig{
			ConnectTimeout:       session.DefaultConnectTimeout,
			NotificationDuration: orchestrator.DefaultNotificationDuration,
		},
	}
}

// Load returns the defaults overridden by the YAML file at path. An empty
// path returns the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	if err := DecodeStrict(f, cfg); err != nil {
		return nil, err
	}
	cfg.fillEmpty()
	return cfg, nil
}

// fillEmpty restores defaults for keys present in the file but left empty.
func (c *Config) fillEmpty() {
	if c.Chain.ContractAddress == "" {
		c.Chain.ContractAddress = DefaultContractAddress
	}
	if len(c.Chain.SupportedNetworks) == 0 {
		c.Chain.SupportedNetworks = append([]uint64(nil), DefaultSupportedNetworks...)
	}
	if c.IPFS.Gateway == "" {
		c.IPFS.Gateway = DefaultIPFSGateway
	}
}

// Check validates the configuration and joins every problem into one error.
func (c *Config) Check() error {
	return errors.Join(c.Validate()...)
}

// ContractAddress returns the parsed contract address. Call after Check.
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Chain.ContractAddress)
}

// SessionConfig returns the session manager settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ConnectTimeout:    c.Session.ConnectTimeout,
		SupportedNetworks: append([]uint64(nil), c.Chain.SupportedNetworks...),
	}
}

// ReadBackDelay reports how long to wait after a registration before
// reading the record back, and whether to read it back at all.
func (c *Config) ReadBackDelay() (time.Duration, bool) {
	d := c.Transactions.RefetchDelay
	return d, d >= 0
}

// OrchestratorConfig returns the orchestrator settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		GasBufferPercent:     c.Transactions.GasBufferPercent,
		DefaultGasLimit:      c.Transactions.DefaultGasLimit,
		BlockGasFallback:     c.Transactions.BlockGasFallback,
		RefetchDelay:         c.Transactions.RefetchDelay,
		NotificationDuration: c.Session.NotificationDuration,
	}
}
