package blockchain

import (
	"fmt"

	"license-accrual/pkg/config"
)

// Network describes a chain the deposit token lives on.
type Network struct {
	Name          string
	DisplayName   string
	ChainID       int64
	RPCURL        string
	TokenContract string
	TokenDecimals int32
	IsTestnet     bool
}

var Networks = map[string]Network{
	"mainnet": {
		Name:          "mainnet",
		DisplayName:   "BNB Smart Chain",
		ChainID:       56,
		RPCURL:        "https://bsc-dataseed.binance.org/",
		TokenContract: "0x55d398326f99059fF775485246999027B3197955",
		TokenDecimals: 18,
	},
	"testnet": {
		Name:          "testnet",
		DisplayName:   "BNB Smart Chain Testnet",
		ChainID:       97,
		RPCURL:        "https://data-seed-prebsc-1-s1.binance.org:8545/",
		TokenContract: "0x337610d27c682E347C9cD60BD4b3b107C9d34dDd",
		TokenDecimals: 18,
		IsTestnet:     true,
	},
}

// ResolveNetwork picks the network from config. Without an explicit
// BLOCKCHAIN.NETWORK, production deployments use mainnet and everything else
// testnet. RPC_URL, TOKEN_CONTRACT and TOKEN_DECIMALS override the registry.
func ResolveNetwork(cfg *config.Config) (Network, error) {
	name := cfg.Blockchain.Network
	if name == "" {
		name = "testnet"
		if cfg.IsProduction() {
			name = "mainnet"
		}
	}

	n, ok := Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("unknown blockchain network %q", name)
	}

	if cfg.Blockchain.RPCURL != "" {
		n.RPCURL = cfg.Blockchain.RPCURL
	}
	if cfg.Blockchain.TokenContract != "" {
		n.TokenContract = cfg.Blockchain.TokenContract
	}
	if cfg.Blockchain.TokenDecimals > 0 {
		n.TokenDecimals = cfg.Blockchain.TokenDecimals
	}
	return n, nil
}
