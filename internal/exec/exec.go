// Package exec models the execution boundary: an OMS that turns a
// TradeIntent into a deduplicated OrderRequest, and a Router that hands
// requests to a broker Adapter and republishes the resulting
// Ack/Fill/PositionSnapshot onto the EventBus. Grounded on
// original_source's exec/oms.py (intent_id dedup, size_lots) and
// exec/router.py (submit/shadow/_apply_fill position bookkeeping); the
// only concrete Adapter is a paper/mock one, per spec.md §1's explicit
// exclusion of live broker wiring.
package exec

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sublimine-ids/internal/bus"
	"sublimine-ids/internal/sizing"
	"sublimine-ids/pkg/types"
)

// Adapter is the broker-facing submission surface. PaperAdapter is the
// only implementation the engine ships.
type Adapter interface {
	Submit(req types.OrderRequest) (types.OrderAck, types.OrderFill)
}

// PaperAdapter fills every request immediately at its requested price
// (or 0 for market orders, since no live book is wired to a mock fill
// price here), mirroring original_source's MockMT5Adapter.
type PaperAdapter struct{}

func (PaperAdapter) Submit(req types.OrderRequest) (types.OrderAck, types.OrderFill) {
	ack := types.OrderAck{IntentID: req.IntentID, OrderID: fmt.Sprintf("paper_%d", req.Ts.UnixNano()), Accepted: true, Ts: req.Ts}
	price := req.Price
	fill := types.OrderFill{OrderID: ack.OrderID, Symbol: req.Symbol, Side: req.Side, Price: price, Size: req.Size, Ts: req.Ts}
	return ack, fill
}

// OMS builds OrderRequests from TradeIntents, deduplicating by content
// identity so a re-delivered intent never double-submits.
type OMS struct {
	venue types.Venue
	inst  sizing.Instrument
	equity float64

	mu       sync.Mutex
	byIntent map[string]types.OrderRequest
}

func NewOMS(venue types.Venue, equity float64, inst sizing.Instrument) *OMS {
	return &OMS{venue: venue, inst: inst, equity: equity, byIntent: make(map[string]types.OrderRequest)}
}

// BuildRequest returns nil if this intent was already submitted.
func (o *OMS) BuildRequest(intent types.TradeIntent, now time.Time) *types.OrderRequest {
	key := sizing.IntentID(intent)

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, seen := o.byIntent[key]; seen {
		return nil
	}

	var price, stopPrice *float64
	if p, ok := intent.EntryPlan["price"].(float64); ok {
		price = &p
	}
	if p, ok := intent.StopPlan["stop_price"].(float64); ok {
		stopPrice = &p
	}

	var qty float64
	if price != nil && stopPrice != nil {
		qty = sizing.SizeLots(o.equity, intent.RiskFrac, *price, *stopPrice, o.inst)
	}

	var reqPrice float64
	if price != nil {
		reqPrice = *price
	}
	req := types.OrderRequest{
		RequestID: uuid.NewString(),
		IntentID:  key,
		Symbol:    intent.Symbol,
		Side:      intent.Direction,
		Size:      qty,
		Price:     reqPrice,
		Ts:        now,
	}
	o.byIntent[key] = req
	return &req
}

// Router submits OrderRequests through an Adapter, republishing every
// stage (ORDER_REQUEST, then in live mode ORDER_ACK/ORDER_FILL and a
// recomputed POSITION_SNAPSHOT) onto the bus. Shadow mode only emits the
// request, matching original_source's `shadow: bool = True` default.
type Router struct {
	oms     *OMS
	adapter Adapter
	bus     *bus.Bus
	shadow  bool

	mu        sync.Mutex
	positions map[string]position
}

type position struct {
	qty, avgPrice, lastPrice float64
	lastTs                   time.Time
}

func NewRouter(oms *OMS, adapter Adapter, b *bus.Bus, shadow bool) *Router {
	return &Router{oms: oms, adapter: adapter, bus: b, shadow: shadow, positions: make(map[string]position)}
}

// Positions returns a point-in-time snapshot of every symbol with a
// nonzero tracked position, for the dashboard API.
func (r *Router) Positions() []types.PositionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.PositionSnapshot, 0, len(r.positions))
	for symbol, pos := range r.positions {
		if pos.qty == 0 {
			continue
		}
		out = append(out, types.PositionSnapshot{
			Symbol:        symbol,
			NetSize:       pos.qty,
			AvgPrice:      pos.avgPrice,
			UnrealizedPnL: (pos.lastPrice - pos.avgPrice) * pos.qty,
			Ts:            pos.lastTs,
		})
	}
	return out
}

// Submit returns the order request's intent id, or "" if the intent had
// already been submitted (OMS-level dedup).
func (r *Router) Submit(intent types.TradeIntent, now time.Time) string {
	req := r.oms.BuildRequest(intent, now)
	if req == nil {
		return ""
	}
	r.publish(types.EventOrderRequest, *req)
	if r.shadow {
		return req.IntentID
	}

	ack, fill := r.adapter.Submit(*req)
	r.publish(types.EventOrderAck, ack)
	r.publish(types.EventOrderFill, fill)
	if snap, ok := r.applyFill(intent.Symbol, intent.Direction, fill); ok {
		r.publish(types.EventPositionSnap, snap)
	}
	return req.IntentID
}

func (r *Router) publish(eventType types.EventType, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventType, payload)
}

func (r *Router) applyFill(symbol string, side types.Side, fill types.OrderFill) (types.PositionSnapshot, bool) {
	if fill.Size <= 0 {
		return types.PositionSnapshot{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pos := r.positions[symbol]
	signedQty := fill.Size
	if side == types.Sell {
		signedQty = -fill.Size
	}
	newQty := pos.qty + signedQty

	var newAvg float64
	switch {
	case pos.qty == 0 || (pos.qty > 0 && signedQty > 0) || (pos.qty < 0 && signedQty < 0):
		total := absf(pos.qty) + absf(signedQty)
		if total < 1e-12 {
			total = 1e-12
		}
		newAvg = (absf(pos.qty)*pos.avgPrice + absf(signedQty)*fill.Price) / total
	default:
		if absf(signedQty) >= absf(pos.qty) {
			if newQty != 0 {
				newAvg = fill.Price
			}
		} else {
			newAvg = pos.avgPrice
		}
	}

	r.positions[symbol] = position{qty: newQty, avgPrice: newAvg, lastPrice: fill.Price, lastTs: fill.Ts}
	unrealized := (fill.Price - newAvg) * newQty
	return types.PositionSnapshot{
		Symbol: symbol, NetSize: newQty, AvgPrice: newAvg,
		UnrealizedPnL: unrealized, Ts: fill.Ts,
	}, true
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
