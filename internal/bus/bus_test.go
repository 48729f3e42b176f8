package bus

import (
	"testing"

	"sublimine-ids/pkg/types"
)

func TestPublishFansOutInOrder(t *testing.T) {
	t.Parallel()
	b := New()
	var order []int
	b.Subscribe(types.EventTrade, func(any) { order = append(order, 1) })
	b.Subscribe(types.EventTrade, func(any) { order = append(order, 2) })

	b.Publish(types.EventTrade, types.TradePrint{Symbol: "X"})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("handler order = %v, want [1 2]", order)
	}
}

func TestPublishOnlyNotifiesMatchingType(t *testing.T) {
	t.Parallel()
	b := New()
	called := false
	b.Subscribe(types.EventTrade, func(any) { called = true })

	b.Publish(types.EventQuote, types.QuoteTick{Symbol: "X"})

	if called {
		t.Fatal("handler for TRADE must not fire on a QUOTE publish")
	}
}
