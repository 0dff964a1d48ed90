package translator

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Network describes a chain for display.
type Network struct {
	ChainID     uint64 `json:"chain_id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	ExplorerURL string `json:"explorer_url"`
	Known       bool   `json:"known"`
}

var knownNetworks = map[uint64]Network{
	1: {
		Name:        "Ethereum Mainnet",
		Symbol:      "ETH",
		ExplorerURL: "https://etherscan.io",
	},
	5: {
		Name:        "Goerli Testnet",
		Symbol:      "ETH",
		ExplorerURL: "https://goerli.etherscan.io",
	},
	11155111: {
		Name:        "Sepolia Testnet",
		Symbol:      "ETH",
		ExplorerURL: "https://sepolia.etherscan.io",
	},
	1337: {
		Name:        "Local Development",
		Symbol:      "ETH",
		ExplorerURL: "http://localhost",
	},
}

const networkCacheSize = 256

var networkCache *lru.Cache[uint64, Network]

func init() {
	var err error
	networkCache, err = lru.New[uint64, Network](networkCacheSize)
	if err != nil {
		panic(err)
	}
}

// DescribeNetwork returns the descriptor for chainID. Unknown ids get a
// synthesized "Unknown Network (<id>)" descriptor, so the result is never empty.
func DescribeNetwork(chainID uint64) Network {
	if n, ok := networkCache.Get(chainID); ok {
		return n
	}

	n, ok := knownNetworks[chainID]
	if ok {
		n.Known = true
	} else {
		n = Network{
			Name:   fmt.Sprintf("Unknown Network (%d)", chainID),
			Symbol: "ETH",
		}
	}
	n.ChainID = chainID

	networkCache.Add(chainID, n)
	return n
}

// IsSupported reports whether chainID is in supported.
func IsSupported(chainID uint64, supported []uint64) bool {
	for _, id := range supported {
		if id == chainID {
			return true
		}
	}
	return false
}

// ExplorerTxURL links to a transaction on the chain's block explorer, or
// returns "" when the chain has no known explorer.
func ExplorerTxURL(chainID uint64, txHash string) string {
	n := DescribeNetwork(chainID)
	if n.ExplorerURL == "" || txHash == "" {
		return ""
	}
	return strings.TrimSuffix(n.ExplorerURL, "/") + "/tx/" + txHash
}
