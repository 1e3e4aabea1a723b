package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const swapDescriptionComponents = `[
	{"name":"srcToken","type":"address"},
	{"name":"dstToken","type":"address"},
	{"name":"srcReceiver","type":"address"},
	{"name":"dstReceiver","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"minReturnAmount","type":"uint256"},
	{"name":"flags","type":"uint256"}
]`

// RebalancerABIJSON describes the entry points of the rebalancer contract.
var RebalancerABIJSON = `[
	{"type":"function","name":"canExecute","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"ready","type":"bool"},{"name":"balance","type":"uint256"}]},
	{"type":"function","name":"getBalances","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"eure","type":"uint256"},{"name":"usdc","type":"uint256"},{"name":"weth","type":"uint256"}]},
	{"type":"function","name":"maxSlippageBps","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[
		{"name":"usdcExecutor","type":"address"},
		{"name":"usdcDesc","type":"tuple","components":` + swapDescriptionComponents + `},
		{"name":"usdcData","type":"bytes"},
		{"name":"ethExecutor","type":"address"},
		{"name":"ethDesc","type":"tuple","components":` + swapDescriptionComponents + `},
		{"name":"ethData","type":"bytes"}
	],"outputs":[]}
]`

// AggregatorABIJSON describes the aggregator router swap entry point returned in quotes.
var AggregatorABIJSON = `[
	{"type":"function","name":"swap","stateMutability":"payable","inputs":[
		{"name":"executor","type":"address"},
		{"name":"desc","type":"tuple","components":` + swapDescriptionComponents + `},
		{"name":"data","type":"bytes"}
	],"outputs":[{"name":"returnAmount","type":"uint256"},{"name":"spentAmount","type":"uint256"}]}
]`

// PriceFeedABIJSON describes the Chainlink aggregator interface.
var PriceFeedABIJSON = `[
	{"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
	 "outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint8"}]}
]`

var (
	RebalancerABI = mustParseABI(RebalancerABIJSON)
	AggregatorABI = mustParseABI(AggregatorABIJSON)
	PriceFeedABI  = mustParseABI(PriceFeedABIJSON)
)

// SwapDescription mirrors the aggregator's swap description tuple. Field names match the
// ABI component names so the struct can be packed and unpacked directly.
type SwapDescription struct {
	SrcToken        common.Address
	DstToken        common.Address
	SrcReceiver     common.Address
	DstReceiver     common.Address
	Amount          *big.Int
	MinReturnAmount *big.Int
	Flags           *big.Int
}

// EmptySwapDescription is the zero-valued placeholder used for absent swap legs.
func EmptySwapDescription() SwapDescription {
	return SwapDescription{
		Amount:          new(big.Int),
		MinReturnAmount: new(big.Int),
		Flags:           new(big.Int),
	}
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}
