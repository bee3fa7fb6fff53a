package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial connects to an EVM JSON-RPC endpoint and returns it as a Client.
// ethclient.Client already satisfies the Client interface; this wrapper
// exists so callers never import go-ethereum/ethclient directly outside
// this package.
func Dial(rpcURL string) (Client, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return c, nil
}
