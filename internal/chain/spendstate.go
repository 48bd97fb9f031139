// Package chain reads on-chain policy executor state. It is the only part
// of the service that talks to an RPC endpoint, and it only ever performs
// view calls.
package chain

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trustflow/trustflow-api/internal/engine"
	"github.com/trustflow/trustflow-api/internal/logger"
)

// ContractCaller is the slice of the RPC client the reader needs.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// SpendState mirrors the executor contract's per-agent accounting windows.
type SpendState struct {
	SpentToday    *big.Int `json:"spentToday"`
	SpentThisWeek *big.Int `json:"spentThisWeek"`
	LastDay       uint64   `json:"lastDay"`
	LastWeek      uint64   `json:"lastWeek"`
}

// SpendStateReader reads getSpendState from the policy executor contract.
type SpendStateReader struct {
	caller   ContractCaller
	executor common.Address
	logger   *zap.Logger
}

// NewSpendStateReader wires a reader to an already-connected caller.
func NewSpendStateReader(caller ContractCaller, executor common.Address) *SpendStateReader {
	return &SpendStateReader{
		caller:   caller,
		executor: executor,
		logger:   logger.Log,
	}
}

// Dial connects to the RPC endpoint and returns a reader over it.
func Dial(rpcURL string, executor common.Address) (*SpendStateReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to RPC endpoint")
	}
	return NewSpendStateReader(client, executor), nil
}

// Read performs the getSpendState view call for an agent at the latest
// block.
func (r *SpendStateReader) Read(ctx context.Context, agent common.Address) (SpendState, error) {
	callABI := engine.ExecutorABI()
	input, err := callABI.Pack("getSpendState", agent)
	if err != nil {
		return SpendState{}, errors.Wrap(err, "encoding getSpendState")
	}

	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.executor,
		Data: input,
	}, nil)
	if err != nil {
		r.logger.Error("spend state call failed",
			zap.String("agent", agent.Hex()),
			zap.String("executor", r.executor.Hex()),
			zap.Error(err),
		)
		return SpendState{}, errors.Wrap(err, "calling getSpendState")
	}

	values, err := callABI.Unpack("getSpendState", output)
	if err != nil {
		return SpendState{}, errors.Wrap(err, "decoding getSpendState output")
	}

	return SpendState{
		SpentToday:    values[0].(*big.Int),
		SpentThisWeek: values[1].(*big.Int),
		LastDay:       values[2].(uint64),
		LastWeek:      values[3].(uint64),
	}, nil
}
