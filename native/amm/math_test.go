package amm

import (
	"math/big"
	"testing"
)

func TestGetAmountOut(t *testing.T) {
	tests := []struct {
		name       string
		amountIn   int64
		reserveIn  int64
		reserveOut int64
		feeBps     uint64
		want       int64
	}{
		{name: "no fee balanced", amountIn: 1000, reserveIn: 10000, reserveOut: 10000, feeBps: 0, want: 909},
		{name: "thirty bps fee", amountIn: 1000, reserveIn: 10000, reserveOut: 10000, feeBps: 30, want: 906},
		{name: "tiny input rounds down", amountIn: 1, reserveIn: 1000000, reserveOut: 1000, feeBps: 30, want: 0},
		{name: "zero input", amountIn: 0, reserveIn: 10000, reserveOut: 10000, feeBps: 30, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := getAmountOut(big.NewInt(tc.amountIn), big.NewInt(tc.reserveIn), big.NewInt(tc.reserveOut), tc.feeBps)
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("expected %d, got %s", tc.want, got)
			}
		})
	}
}

func TestGetAmountInRoundsUp(t *testing.T) {
	// Buying back the output of an exact-in trade must cost at least the
	// original input.
	reserveIn := big.NewInt(10000)
	reserveOut := big.NewInt(10000)
	amountIn := big.NewInt(1000)

	out := getAmountOut(amountIn, reserveIn, reserveOut, 30)
	back := getAmountIn(out, reserveIn, reserveOut, 30)
	if back.Cmp(amountIn) > 0 {
		t.Fatalf("round-trip input %s exceeds original %s", back, amountIn)
	}
	if back.Sign() <= 0 {
		t.Fatalf("expected positive input, got %s", back)
	}
}

func TestGetAmountInOutputExceedsReserve(t *testing.T) {
	got := getAmountIn(big.NewInt(10000), big.NewInt(10000), big.NewInt(10000), 30)
	if got.Sign() != 0 {
		t.Fatalf("expected zero when output drains the reserve, got %s", got)
	}
}

func TestBondRequiredForMint(t *testing.T) {
	required := bondRequiredForMint(big.NewInt(500), big.NewInt(10000), big.NewInt(20000))
	if required.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000, got %s", required)
	}
	if got := bondRequiredForMint(big.NewInt(500), big.NewInt(0), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("expected zero for empty pool, got %s", got)
	}
}
