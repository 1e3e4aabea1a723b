// Package txbuilder encodes the rebalancer's execute call from up to two swap routes.
package txbuilder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"rebalancer/services/executor/aggregator"
	"rebalancer/services/executor/chain"
)

// Leg is one side of the execute call: either Absent or Present.
type Leg interface {
	isLeg()
}

// Absent marks a leg whose allocation is zero.
type Absent struct{}

// Present carries the route for a funded leg.
type Present struct {
	Route aggregator.SwapRoute
}

func (Absent) isLeg()  {}
func (Present) isLeg() {}

// LegFor wraps an optional route.
func LegFor(route *aggregator.SwapRoute) Leg {
	if route == nil {
		return Absent{}
	}
	return Present{Route: *route}
}

type legArgs struct {
	executor common.Address
	desc     chain.SwapDescription
	data     []byte
}

func argsFor(leg Leg) (legArgs, error) {
	switch l := leg.(type) {
	case Absent:
		return legArgs{desc: chain.EmptySwapDescription(), data: []byte{}}, nil
	case Present:
		data := l.Route.ExecutorData
		if data == nil {
			data = []byte{}
		}
		return legArgs{executor: l.Route.Executor, desc: l.Route.Description, data: data}, nil
	case nil:
		return legArgs{}, fmt.Errorf("txbuilder: nil leg")
	default:
		return legArgs{}, fmt.Errorf("txbuilder: unsupported leg %T", leg)
	}
}

// Build returns the calldata for execute(usdcLeg..., ethLeg...).
func Build(usdc, eth Leg) ([]byte, error) {
	u, err := argsFor(usdc)
	if err != nil {
		return nil, err
	}
	e, err := argsFor(eth)
	if err != nil {
		return nil, err
	}
	payload, err := chain.RebalancerABI.Pack("execute", u.executor, u.desc, u.data, e.executor, e.desc, e.data)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: pack execute: %w", err)
	}
	return payload, nil
}
