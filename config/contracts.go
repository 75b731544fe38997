// Package config holds the per-network defaults of the value registry.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network contains the chain parameters and contract address used by default
// on a network.
type Network struct {
	ChainID uint64
	// ValueRegistry is empty when the network has no canonical deployment, in
	// which case the address must be configured explicitly.
	ValueRegistry string
	// Confirmations is the number of blocks a receipt must be buried under,
	// counting its own, before a publish is reported as confirmed.
	Confirmations uint64
}

// DefaultConfig contains the defaults by network short name.
var DefaultConfig = map[string]Network{
	"sep": {
		ChainID:       11155111,
		Confirmations: 2,
	},
	// first contract deployed by the default anvil/hardhat dev account
	"anvil": {
		ChainID:       31337,
		ValueRegistry: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Confirmations: 1,
	},
}

// AvailableNetworks contains the list of networks with defaults.
var AvailableNetworks = []string{
	"sep",
	"anvil",
}

// Lookup returns the defaults of network.
func Lookup(network string) (Network, error) {
	n, ok := DefaultConfig[network]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q, available networks: %s",
			network, strings.Join(AvailableNetworks, ", "))
	}
	return n, nil
}

// ResolveContract returns override when set, and otherwise the network's
// default registry address.
func (n Network) ResolveContract(override string) (common.Address, error) {
	addr := n.ValueRegistry
	if override != "" {
		addr = override
	}
	if addr == "" {
		return common.Address{}, fmt.Errorf("no value registry address configured for chain %d", n.ChainID)
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("invalid value registry address %q", addr)
	}
	return common.HexToAddress(addr), nil
}

// ByChainID returns the name of the network with the given chain id.
func ByChainID(chainID uint64) (string, bool) {
	for _, name := range AvailableNetworks {
		if DefaultConfig[name].ChainID == chainID {
			return name, true
		}
	}
	return "", false
}
