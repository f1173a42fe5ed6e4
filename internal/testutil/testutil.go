package testutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// NewTestLogger creates a development logger for tests.
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return logger
}

// NewTestLog creates an event log at the given block and index.
func NewTestLog(address common.Address, block uint64, index uint) types.Log {
	return types.Log{
		Address:     address,
		Topics:      []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		Data:        []byte{},
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(block), byte(index)}),
		TxIndex:     index,
		Index:       index,
	}
}

// LogsForRange creates one log per block over [from, to], in block order.
func LogsForRange(address common.Address, from, to uint64) []types.Log {
	logs := make([]types.Log, 0, to-from+1)
	for b := from; b <= to; b++ {
		logs = append(logs, NewTestLog(address, b, 0))
	}
	return logs
}
