package main

import (
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	flag "github.com/spf13/pflag"
)

func TestLoadConfig(t *testing.T) {
	c := qt.New(t)
	t.Setenv(walletKeyEnv, "0xabc")
	t.Setenv("PUBLISHER_WEB3_RPC", "http://node:8545")
	t.Setenv("PUBLISHER_CONFIRM_TIMEOUT", "90s")

	cfg, err := loadConfig([]string{"--input", "10201", "-n", "anvil", "--datadir", "/tmp/pub", "--preflight"})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Web3.PrivKey, qt.Equals, "0xabc")
	c.Assert(cfg.Web3.RPC, qt.Equals, "http://node:8545")
	c.Assert(cfg.Web3.Network, qt.Equals, "anvil")
	c.Assert(cfg.Confirm.Timeout, qt.Equals, 90*time.Second)
	c.Assert(cfg.Input, qt.Equals, "10201")
	c.Assert(cfg.Preflight, qt.IsTrue)
	c.Assert(cfg.Reconcile, qt.IsFalse)
	c.Assert(cfg.Prover.Keys, qt.Equals, filepath.Join("/tmp/pub", "keys"))
	c.Assert(cfg.Log.Level, qt.Equals, defaultLogLevel)
	c.Assert(validateConfig(cfg), qt.IsNil)
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	c := qt.New(t)
	t.Setenv(walletKeyEnv, "0xabc")
	t.Setenv("PUBLISHER_WEB3_PRIVKEY", "0xdef")
	t.Setenv("PUBLISHER_WEB3_CHAINID", "5")

	cfg, err := loadConfig([]string{"-k", "0x123", "--web3.chainid", "31337"})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Web3.PrivKey, qt.Equals, "0x123")
	c.Assert(cfg.Web3.ChainID, qt.Equals, uint64(31337))

	_, err = loadConfig([]string{"--help"})
	c.Assert(err, qt.ErrorIs, flag.ErrHelp)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Web3:    Web3Config{PrivKey: "0x1", RPC: defaultRPC, Network: "anvil"},
			Confirm: ConfirmConfig{Timeout: time.Minute},
			Log:     LogConfig{Level: "info"},
			Input:   "10201",
		}
	}
	c := qt.New(t)
	c.Assert(validateConfig(valid()), qt.IsNil)

	cases := map[string]struct {
		mutate func(*Config)
		err    string
	}{
		"log level":  {func(cfg *Config) { cfg.Log.Level = "trace" }, `invalid log level "trace"`},
		"no key":     {func(cfg *Config) { cfg.Web3.PrivKey = "" }, "private key is required.*"},
		"no rpc":     {func(cfg *Config) { cfg.Web3.RPC = "" }, "web3 rpc endpoint is required"},
		"no timeout": {func(cfg *Config) { cfg.Confirm.Timeout = 0 }, "confirmation timeout must be positive"},
		"no input":   {func(cfg *Config) { cfg.Input = "" }, "input value is required.*"},
		"bad input":  {func(cfg *Config) { cfg.Input = "ten" }, `invalid input value: invalid value "ten"`},
	}
	for name, tc := range cases {
		c.Run(name, func(c *qt.C) {
			cfg := valid()
			tc.mutate(cfg)
			c.Assert(validateConfig(cfg), qt.ErrorMatches, tc.err)
		})
	}

	cfg := valid()
	cfg.Input, cfg.Reconcile = "", true
	c.Assert(validateConfig(cfg), qt.IsNil)
}

func TestNetwork(t *testing.T) {
	c := qt.New(t)

	n, err := network(&Config{Web3: Web3Config{Network: "anvil", Confirmations: 3}})
	c.Assert(err, qt.IsNil)
	c.Assert(n.ChainID, qt.Equals, uint64(31337))
	c.Assert(n.Confirmations, qt.Equals, uint64(3))

	cfg := &Config{Web3: Web3Config{Network: "anvil", ChainID: 11155111}}
	n, err = network(cfg)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Web3.Network, qt.Equals, "sep")
	c.Assert(n.ValueRegistry, qt.Equals, "")

	n, err = network(&Config{Web3: Web3Config{ChainID: 1337, Confirmations: 4}})
	c.Assert(err, qt.IsNil)
	c.Assert(n.ChainID, qt.Equals, uint64(1337))
	c.Assert(n.Confirmations, qt.Equals, uint64(4))

	_, err = network(&Config{Web3: Web3Config{Network: "goerli"}})
	c.Assert(err, qt.ErrorMatches, `unknown network "goerli".*`)
}
