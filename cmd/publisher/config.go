package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/davinci-publisher/config"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/types"
)

const (
	defaultNetwork        = "sep"
	defaultRPC            = "http://127.0.0.1:8545"
	defaultConfirmTimeout = 5 * time.Minute
	defaultLogLevel       = "info"
	defaultLogOutput      = "stdout"
	defaultDatadir        = ".davinci-publisher" // prefixed with the user's home directory
	envPrefix             = "PUBLISHER"
	walletKeyEnv          = "ETH_WALLET_PRIVATE_KEY"
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

// Config holds the application configuration
type Config struct {
	Web3      Web3Config
	Confirm   ConfirmConfig
	Prover    ProverConfig
	Log       LogConfig
	Input     string `mapstructure:"input"`
	Preflight bool   `mapstructure:"preflight"`
	Reconcile bool   `mapstructure:"reconcile"`
	Datadir   string `mapstructure:"datadir"`
}

// Web3Config holds Ethereum-related configuration
type Web3Config struct {
	PrivKey       string `mapstructure:"privkey"`
	Network       string `mapstructure:"network"`
	RPC           string `mapstructure:"rpc"`
	ChainID       uint64 `mapstructure:"chainid"`
	Contract      string `mapstructure:"contract"`
	Confirmations uint64 `mapstructure:"confirmations"`
}

// ConfirmConfig bounds the wait for transaction receipts
type ConfirmConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProverConfig holds the local prover configuration
type ProverConfig struct {
	Keys string `mapstructure:"keys"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from args, environment variables, and
// defaults, in decreasing order of precedence.
func loadConfig(args []string) (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("web3.network", defaultNetwork)
	v.SetDefault("web3.rpc", defaultRPC)
	v.SetDefault("confirm.timeout", defaultConfirmTimeout)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)

	flags := flag.NewFlagSet("davinci-publisher", flag.ContinueOnError)
	flags.StringP("web3.privkey", "k", "", fmt.Sprintf("hex private key of the sending account (or %s)", walletKeyEnv))
	flags.StringP("web3.network", "n", defaultNetwork, fmt.Sprintf("network to use %v", config.AvailableNetworks))
	flags.StringP("web3.rpc", "w", defaultRPC, "web3 rpc endpoint")
	flags.Uint64("web3.chainid", 0, "chain id of the endpoint (overrides network default)")
	flags.StringP("web3.contract", "c", "", "value registry contract address (overrides network default)")
	flags.Uint64("web3.confirmations", 0, "blocks required to consider a transaction confirmed (overrides network default)")
	flags.StringP("input", "i", "", "value to prove and publish, decimal or 0x-prefixed hex")
	flags.DurationP("confirm.timeout", "t", defaultConfirmTimeout, "maximum wait for the transaction receipt (i.e 90s or 5m)")
	flags.String("prover.keys", "", "directory holding the proving and verifying keys (default <datadir>/keys)")
	flags.Bool("preflight", false, "verify every claim locally before submitting it")
	flags.Bool("reconcile", false, "re-check unconfirmed transactions of previous runs and exit")
	flags.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flags.StringP("datadir", "d", defaultDatadirPath, "data directory for the run ledger and keys")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "davinci-publisher v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: davinci-publisher [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, %s_WEB3_RPC or %s_INPUT\n", envPrefix, envPrefix)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Publish 10201 on a local anvil node\n")
		fmt.Fprintf(os.Stderr, "  %s=0x123... davinci-publisher -n anvil --input 10201\n\n", walletKeyEnv)
		fmt.Fprintf(os.Stderr, "  # Check transactions left unconfirmed by previous runs\n")
		fmt.Fprintf(os.Stderr, "  davinci-publisher -n anvil --reconcile\n")
	}

	flags.SortFlags = false
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("web3.privkey", envPrefix+"_WEB3_PRIVKEY", walletKeyEnv); err != nil {
		return nil, fmt.Errorf("error binding environment: %w", err)
	}

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Prover.Keys == "" {
		cfg.Prover.Keys = filepath.Join(cfg.Datadir, "keys")
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if !slices.Contains([]string{log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError}, cfg.Log.Level) {
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}
	if cfg.Web3.PrivKey == "" {
		return fmt.Errorf("private key is required (use --web3.privkey flag or %s environment variable)", walletKeyEnv)
	}
	if cfg.Web3.RPC == "" {
		return fmt.Errorf("web3 rpc endpoint is required")
	}
	if cfg.Confirm.Timeout <= 0 {
		return fmt.Errorf("confirmation timeout must be positive")
	}
	if cfg.Reconcile {
		return nil
	}
	if cfg.Input == "" {
		return fmt.Errorf("input value is required (use --input flag or %s_INPUT environment variable)", envPrefix)
	}
	if _, err := types.ParseValue(cfg.Input); err != nil {
		return fmt.Errorf("invalid input value: %w", err)
	}
	return nil
}

// network returns the network defaults with the configured overrides
// applied. A chain id without defaults is accepted as a custom network.
func network(cfg *Config) (config.Network, error) {
	if cfg.Web3.ChainID != 0 {
		if name, ok := config.ByChainID(cfg.Web3.ChainID); ok {
			cfg.Web3.Network = name
		} else {
			n := config.Network{ChainID: cfg.Web3.ChainID, Confirmations: cfg.Web3.Confirmations}
			return n, nil
		}
	}
	n, err := config.Lookup(cfg.Web3.Network)
	if err != nil {
		return config.Network{}, err
	}
	if cfg.Web3.Confirmations != 0 {
		n.Confirmations = cfg.Web3.Confirmations
	}
	return n, nil
}
