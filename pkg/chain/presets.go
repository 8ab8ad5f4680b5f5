package chain

import (
	"fmt"
	"sync"
)

// Preset defines the per-network endpoints and explorer used by the relay
type Preset struct {
	Network   int    // Chain ID (e.g., 1 for mainnet)
	Name      string // Human readable name, used in notifications
	Explorer  string // Block explorer base URL (tx pages live under /tx/)
	Locksmith string // Metadata/auth service base URL
	Hub       string // WebSub hub base URL (topics live under /{network}/locks/{lock})
}

var (
	registry = make(map[int]Preset)
	mu       sync.RWMutex
)

// Register adds a new network preset to the global registry.
func Register(network int, p Preset) {
	mu.Lock()
	defer mu.Unlock()
	registry[network] = p
}

// Get retrieves a preset configuration from the registry by chain ID.
func Get(network int) (Preset, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[network]
	return p, ok
}

// ExplorerTxURL returns the block explorer link for a transaction hash,
// picking the explorer host by network. Falls back to mainnet for
// unregistered networks so notification links are never empty.
func ExplorerTxURL(network int, txHash string) string {
	p, ok := Get(network)
	if !ok {
		p, _ = Get(1)
	}
	return fmt.Sprintf("%s/tx/%s", p.Explorer, txHash)
}

// Built-in presets
func init() {
	Register(1, Preset{
		Network:   1,
		Name:      "Ethereum",
		Explorer:  "https://etherscan.io",
		Locksmith: "https://locksmith.unlock-protocol.com",
		Hub:       "https://locksmith.unlock-protocol.com/api/hooks",
	})

	Register(10, Preset{
		Network:   10,
		Name:      "Optimism",
		Explorer:  "https://optimistic.etherscan.io",
		Locksmith: "https://locksmith.unlock-protocol.com",
		Hub:       "https://locksmith.unlock-protocol.com/api/hooks",
	})

	Register(100, Preset{
		Network:   100,
		Name:      "Gnosis Chain",
		Explorer:  "https://gnosisscan.io",
		Locksmith: "https://locksmith.unlock-protocol.com",
		Hub:       "https://locksmith.unlock-protocol.com/api/hooks",
	})

	Register(137, Preset{
		Network:   137,
		Name:      "Polygon",
		Explorer:  "https://polygonscan.com",
		Locksmith: "https://locksmith.unlock-protocol.com",
		Hub:       "https://locksmith.unlock-protocol.com/api/hooks",
	})

	Register(8453, Preset{
		Network:   8453,
		Name:      "Base",
		Explorer:  "https://basescan.org",
		Locksmith: "https://locksmith.unlock-protocol.com",
		Hub:       "https://locksmith.unlock-protocol.com/api/hooks",
	})
}
