package filters

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/soyaya/logwatch/internal/testutil"
)

// rangeCall records one eth_getLogs request seen by the fake gateway.
type rangeCall struct {
	From uint64
	To   uint64
}

// fakeCaller simulates the RPC gateway. logsFn scripts the eth_getLogs
// response per range; the zero value serves an empty chain at head 0.
type fakeCaller struct {
	mu        sync.Mutex
	head      uint64
	headErr   error
	logsFn    func(from, to uint64) ([]types.Log, error)
	logCalls  []rangeCall
	headCalls int
}

func (c *fakeCaller) Execute(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method {
	case "eth_blockNumber":
		c.headCalls++
		if c.headErr != nil {
			return c.headErr
		}
		*result.(*hexutil.Uint64) = hexutil.Uint64(c.head)
		return nil
	case "eth_getLogs":
		arg := args[0].(map[string]interface{})
		from, err := hexutil.DecodeUint64(arg["fromBlock"].(string))
		if err != nil {
			return err
		}
		to, err := hexutil.DecodeUint64(arg["toBlock"].(string))
		if err != nil {
			return err
		}
		c.logCalls = append(c.logCalls, rangeCall{From: from, To: to})
		var logs []types.Log
		if c.logsFn != nil {
			logs, err = c.logsFn(from, to)
			if err != nil {
				return err
			}
		}
		*result.(*[]types.Log) = logs
		return nil
	default:
		return fmt.Errorf("unexpected method %s", method)
	}
}

func (c *fakeCaller) setHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

func (c *fakeCaller) ranges() []rangeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]rangeCall, len(c.logCalls))
	copy(out, c.logCalls)
	return out
}

// oneLogPerBlock scripts a response with exactly one log per block in range.
func oneLogPerBlock(from, to uint64) ([]types.Log, error) {
	addr := common.HexToAddress("0xabc0000000000000000000000000000000000000")
	return testutil.LogsForRange(addr, from, to), nil
}

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics("test", prometheus.NewRegistry())
}

func blockRange(from, to uint64) (fromBig, toBig *big.Int) {
	return new(big.Int).SetUint64(from), new(big.Int).SetUint64(to)
}
