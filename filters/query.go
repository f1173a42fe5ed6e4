package filters

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Query describes the event logs a caller is interested in. It maps to the
// eth_getLogs parameter object.
//
// A nil FromBlock or ToBlock means the current chain head. A registered
// query is never mutated; fetch paths that need to move the lower bound
// work on resolved copies of the range.
type Query struct {
	// Addresses restricts matching to logs emitted by these contracts.
	// Empty matches any address.
	Addresses []common.Address

	// Topics filters by topic position. The outer slice indexes topic
	// positions; hashes within an inner slice are OR-matched; a nil or
	// empty inner slice matches anything at that position.
	Topics [][]common.Hash

	FromBlock *big.Int
	ToBlock   *big.Int
}

// toFilterArg builds the eth_getLogs parameter object for q over the
// resolved block range [from, to].
func toFilterArg(q Query, from, to uint64) map[string]interface{} {
	arg := map[string]interface{}{
		"address":   q.Addresses,
		"topics":    q.Topics,
		"fromBlock": hexutil.EncodeUint64(from),
		"toBlock":   hexutil.EncodeUint64(to),
	}
	return arg
}
