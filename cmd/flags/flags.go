package flags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/identity-verification-dapp/common"
	"github.com/ruteri/identity-verification-dapp/config"
	"github.com/ruteri/identity-verification-dapp/httpserver"
	"github.com/ruteri/identity-verification-dapp/interfaces"
	"github.com/ruteri/identity-verification-dapp/registry"
	"github.com/ruteri/identity-verification-dapp/wallet"
)

const envPrefix = "IDENTITY_"

func env(name string) []string {
	return []string{envPrefix + name}
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// Registration waits for the transaction to be mined
		WriteTimeout: 5 * time.Minute,
	}
}

// LoadConfig reads the YAML file named by --config, applies flag and
// environment overrides on top and validates the result.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}

	if cCtx.IsSet(ContractAddressFlag.Name) {
		cfg.Chain.ContractAddress = cCtx.String(ContractAddressFlag.Name)
	}
	if cCtx.IsSet(ChainIDFlag.Name) {
		cfg.Chain.DefaultChainID = cCtx.Uint64(ChainIDFlag.Name)
	}
	if cCtx.IsSet(SupportedNetworksFlag.Name) {
		cfg.Chain.SupportedNetworks = cCtx.Uint64Slice(SupportedNetworksFlag.Name)
	}
	if cCtx.IsSet(RpcAddrFlag.Name) || cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = cCtx.String(RpcAddrFlag.Name)
	}
	if cCtx.IsSet(IPFSGatewayFlag.Name) {
		cfg.IPFS.Gateway = cCtx.String(IPFSGatewayFlag.Name)
	}
	if cCtx.IsSet(IPFSAPIFlag.Name) {
		cfg.IPFS.API = cCtx.String(IPFSAPIFlag.Name)
	}
	if cCtx.IsSet(GasBufferFlag.Name) {
		cfg.Transactions.GasBufferPercent = cCtx.Uint64(GasBufferFlag.Name)
	}
	if cCtx.IsSet(DefaultGasLimitFlag.Name) {
		cfg.Transactions.DefaultGasLimit = cCtx.Uint64(DefaultGasLimitFlag.Name)
	}
	if cCtx.IsSet(BlockGasFallbackFlag.Name) {
		cfg.Transactions.BlockGasFallback = cCtx.Bool(BlockGasFallbackFlag.Name)
	}
	if cCtx.IsSet(RefetchDelayFlag.Name) {
		cfg.Transactions.RefetchDelay = cCtx.Duration(RefetchDelayFlag.Name)
	}
	if cCtx.IsSet(ConnectTimeoutFlag.Name) {
		cfg.Session.ConnectTimeout = cCtx.Duration(ConnectTimeoutFlag.Name)
	}
	if cCtx.IsSet(NotificationDurationFlag.Name) {
		cfg.Session.NotificationDuration = cCtx.Duration(NotificationDurationFlag.Name)
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupWallet builds the wallet provider selected by the flags. It returns
// a nil provider when no wallet is configured; the session then reports
// that no wallet is available. The returned function releases resources.
func SetupWallet(cCtx *cli.Context, cfg *config.Config, logger *slog.Logger) (interfaces.WalletProvider, func(), error) {
	privateKey := strings.TrimPrefix(cCtx.String(PrivateKeyFlag.Name), "0x")
	keystoreDir := cCtx.String(KeystoreDirFlag.Name)

	if cCtx.Bool(DevFlag.Name) {
		backend := registry.NewMockBackend(cfg.Chain.DefaultChainID, cfg.ContractAddress())
		key, err := crypto.GenerateKey()
		if privateKey != "" {
			key, err = crypto.HexToECDSA(privateKey)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("loading dev key: %w", err)
		}
		logger.Info("Using in-memory development chain",
			"chainID", cfg.Chain.DefaultChainID,
			"account", crypto.PubkeyToAddress(key.PublicKey).Hex())
		return wallet.NewStaticProvider(backend, cfg.Chain.DefaultChainID, key), func() {}, nil
	}

	if privateKey == "" && keystoreDir == "" {
		logger.Warn("No wallet configured")
		return nil, func() {}, nil
	}

	logger.Info("Connecting to Ethereum RPC", "address", cfg.Chain.RPCURL)
	client, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	switch {
	case privateKey != "":
		key, err := crypto.HexToECDSA(privateKey)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("invalid private key: %w", err)
		}

		chainID := cfg.Chain.DefaultChainID
		ctx, cancel := context.WithTimeout(cCtx.Context, cfg.Session.ConnectTimeout)
		defer cancel()
		if id, err := client.ChainID(ctx); err == nil {
			chainID = id.Uint64()
		} else {
			logger.Warn("Could not read chain id, using configured default", "err", err)
		}
		return wallet.NewStaticProvider(client, chainID, key), client.Close, nil

	default:
		provider := wallet.NewKeystoreProvider(keystoreDir, cCtx.String(PassphraseFlag.Name), client, logger)
		if err := provider.Start(cCtx.Context); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("starting keystore wallet: %w", err)
		}
		return provider, func() {
			provider.Close()
			client.Close()
		}, nil
	}
}

// ErrNoCommandArgument is returned when a required positional argument is missing.
var ErrNoCommandArgument = errors.New("missing argument")

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: env("CONFIG"),
	Usage:   "path to a YAML configuration file",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	EnvVars: env("RPC_ADDR"),
	Usage:   "address to connect to RPC",
}

var ContractAddressFlag = &cli.StringFlag{
	Name:    "contract",
	EnvVars: env("CONTRACT_ADDRESS"),
	Usage:   "IdentityVerification contract address (0x-prefixed)",
}

var ChainIDFlag = &cli.Uint64Flag{
	Name:    "chain-id",
	EnvVars: env("CHAIN_ID"),
	Usage:   "default chain id, used by --dev and when the RPC does not report one",
}

var SupportedNetworksFlag = &cli.Uint64SliceFlag{
	Name:    "supported-network",
	EnvVars: env("SUPPORTED_NETWORKS"),
	Usage:   "chain id the application supports (repeatable)",
}

var IPFSGatewayFlag = &cli.StringFlag{
	Name:    "ipfs-gateway",
	EnvVars: env("IPFS_GATEWAY"),
	Usage:   "public IPFS gateway used for document links",
}

var IPFSAPIFlag = &cli.StringFlag{
	Name:    "ipfs-api",
	EnvVars: env("IPFS_API"),
	Usage:   "IPFS node HTTP API used for uploads",
}

var GasBufferFlag = &cli.Uint64Flag{
	Name:    "gas-buffer",
	EnvVars: env("GAS_BUFFER_PERCENT"),
	Usage:   "percentage added to gas estimates",
}

var DefaultGasLimitFlag = &cli.Uint64Flag{
	Name:    "default-gas-limit",
	EnvVars: env("DEFAULT_GAS_LIMIT"),
	Usage:   "gas limit used when estimation fails",
}

var BlockGasFallbackFlag = &cli.BoolFlag{
	Name:    "block-gas-fallback",
	EnvVars: env("BLOCK_GAS_FALLBACK"),
	Usage:   "use 80% of the latest block gas limit when estimation fails",
}

var RefetchDelayFlag = &cli.DurationFlag{
	Name:    "refetch-delay",
	EnvVars: env("REFETCH_DELAY"),
	Usage:   "delay before reading a record back after registration",
}

var ConnectTimeoutFlag = &cli.DurationFlag{
	Name:    "connect-timeout",
	EnvVars: env("CONNECT_TIMEOUT"),
	Usage:   "maximum time to wait for the wallet when connecting",
}

var NotificationDurationFlag = &cli.DurationFlag{
	Name:    "notification-duration",
	EnvVars: env("NOTIFICATION_DURATION"),
	Usage:   "how long notifications stay visible",
}

var PrivateKeyFlag = &cli.StringFlag{
	Name:    "private-key",
	EnvVars: env("PRIVATE_KEY"),
	Usage:   "hex-encoded private key to sign with",
}

var KeystoreDirFlag = &cli.StringFlag{
	Name:    "keystore",
	EnvVars: env("KEYSTORE"),
	Usage:   "go-ethereum keystore directory to sign with",
}

var PassphraseFlag = &cli.StringFlag{
	Name:    "passphrase",
	EnvVars: env("PASSPHRASE"),
	Usage:   "keystore passphrase",
}

var DevFlag = &cli.BoolFlag{
	Name:    "dev",
	EnvVars: env("DEV"),
	Usage:   "run against an in-memory chain with the contract deployed",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	EnvVars: env("LISTEN_ADDR"),
	Usage:   "address to listen on for API",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "identity",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ConfigFlags = []cli.Flag{
	ConfigFileFlag,
	RpcAddrFlag,
	ContractAddressFlag,
	ChainIDFlag,
	SupportedNetworksFlag,
	IPFSGatewayFlag,
	IPFSAPIFlag,
	GasBufferFlag,
	DefaultGasLimitFlag,
	BlockGasFallbackFlag,
	RefetchDelayFlag,
	ConnectTimeoutFlag,
	NotificationDurationFlag,
}

var WalletFlags = []cli.Flag{
	PrivateKeyFlag,
	KeystoreDirFlag,
	PassphraseFlag,
	DevFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
}
