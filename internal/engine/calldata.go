package engine

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// PolicyExecutorABI is the interface of the on-chain contract that moves
// funds. The engine only ever encodes calls against it; broadcast belongs
// to the wallet provider.
const PolicyExecutorABI = `[
	{
		"type": "function",
		"name": "executePayment",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "recipient", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "getSpendState",
		"stateMutability": "view",
		"inputs": [{"name": "agent", "type": "address"}],
		"outputs": [
			{"name": "spentToday", "type": "uint256"},
			{"name": "spentThisWeek", "type": "uint256"},
			{"name": "lastDay", "type": "uint64"},
			{"name": "lastWeek", "type": "uint64"}
		]
	}
]`

var executorABI = mustParseABI(PolicyExecutorABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("invalid policy executor ABI: " + err.Error())
	}
	return parsed
}

// ExecutorABI returns the parsed policy executor interface.
func ExecutorABI() abi.ABI {
	return executorABI
}

// EncodeExecutePayment deterministically ABI-encodes
// executePayment(recipient, amount).
func EncodeExecutePayment(recipient common.Address, amount *big.Int) ([]byte, error) {
	data, err := executorABI.Pack("executePayment", recipient, amount)
	if err != nil {
		return nil, errors.Wrap(err, "encoding executePayment")
	}
	return data, nil
}
