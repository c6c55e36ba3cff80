package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hifi-finance/hifi-proxy-target/core/types"
)

const (
	// TypeBorrowAndSellExecuted is emitted when a borrow-then-sell composite
	// completes successfully.
	TypeBorrowAndSellExecuted = "router.borrowAndSellExecuted"
	// TypeBorrowAndBuyExecuted is emitted when a borrow-then-buy composite
	// completes successfully.
	TypeBorrowAndBuyExecuted = "router.borrowAndBuyExecuted"
)

// BorrowAndSellExecuted reports a completed borrow of bond tokens that were
// sold for underlying within the same operation.
type BorrowAndSellExecuted struct {
	OperationID        string
	Caller             common.Address
	Bond               string
	BorrowedAmount     *big.Int
	UnderlyingReceived *big.Int
}

func (BorrowAndSellExecuted) EventType() string { return TypeBorrowAndSellExecuted }

func (e BorrowAndSellExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowAndSellExecuted,
		Attributes: map[string]string{
			"operationId":        e.OperationID,
			"caller":             e.Caller.Hex(),
			"bond":               e.Bond,
			"borrowedAmount":     amountString(e.BorrowedAmount),
			"underlyingReceived": amountString(e.UnderlyingReceived),
		},
	}
}

// BorrowAndBuyExecuted reports a completed borrow of bond tokens spent to
// buy an exact amount of underlying within the same operation.
type BorrowAndBuyExecuted struct {
	OperationID      string
	Caller           common.Address
	Bond             string
	BorrowedAmount   *big.Int
	UnderlyingBought *big.Int
}

func (BorrowAndBuyExecuted) EventType() string { return TypeBorrowAndBuyExecuted }

func (e BorrowAndBuyExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowAndBuyExecuted,
		Attributes: map[string]string{
			"operationId":      e.OperationID,
			"caller":           e.Caller.Hex(),
			"bond":             e.Bond,
			"borrowedAmount":   amountString(e.BorrowedAmount),
			"underlyingBought": amountString(e.UnderlyingBought),
		},
	}
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
