// Package live implements the live runner: a per-area stateful object
// that feeds candles to a strategy and replays ticks through an
// in-process matcher, persisting its book (cash, position, resting
// orders, cost stats) to a JSON state file between heartbeats.
package live

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nordflow/ingest/internal/domain"
)

// OrderType distinguishes immediate from price-conditional orders.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// Order is a resting target-position order awaiting a match.
type Order struct {
	ID         string          `json:"id"`
	TargetPos  decimal.Decimal `json:"target_pos"`
	Type       OrderType       `json:"type"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	HasLimit   bool            `json:"has_limit"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	TTL        time.Duration   `json:"ttl"`
}

// Stats accumulates trading costs across the book's lifetime.
type Stats struct {
	TotalSlippage decimal.Decimal `json:"slippage"`
	TotalFees     decimal.Decimal `json:"fees"`
}

const (
	feeRatePerMWh    = "0.23"
	baseSlippageRate = "0.0002"
	minTradeVolume   = "0.000001"
)

// Engine holds one area's book: cash, position, resting orders, and the
// per-trade cost accounting.
type Engine struct {
	Area      string          `json:"area"`
	Mode      string          `json:"mode"`
	Cash      decimal.Decimal `json:"cash"`
	Position  decimal.Decimal `json:"position"`
	Orders    []Order         `json:"orders"`
	Stats     Stats           `json:"stats"`
	UpdatedAt time.Time       `json:"_updated_at"`

	lastCandleClose decimal.Decimal
}

// NewEngine builds a fresh, empty book for area in the given mode
// (REPLAY, PAPER, or LIVE). The mode is recorded and persisted only:
// OnCandle matches against candles and OnTick against trade ticks in
// every mode.
func NewEngine(area, mode string) *Engine {
	return &Engine{Area: area, Mode: mode, Cash: decimal.Zero, Position: decimal.Zero}
}

// PlaceOrder registers a new target-position order, skipping it when a
// resting order already has the same target position and type (limit
// price, reason and TTL are not compared).
func (e *Engine) PlaceOrder(targetPos decimal.Decimal, typ OrderType, limitPrice *decimal.Decimal, reason string, ttl time.Duration) {
	for _, o := range e.Orders {
		if o.TargetPos.Equal(targetPos) && o.Type == typ {
			return
		}
	}
	o := Order{
		ID:        uuid.New().String(),
		TargetPos: targetPos,
		Type:      typ,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
		TTL:       ttl,
	}
	if limitPrice != nil {
		o.LimitPrice = *limitPrice
		o.HasLimit = true
	}
	e.Orders = append(e.Orders, o)
}

// OnCandle matches resting orders against the candle's OHLCV, then feeds
// the candle to the strategy adapter.
func (e *Engine) OnCandle(candle domain.MarketCandle, strategy StrategyAdapter) {
	e.lastCandleClose = candle.Close
	e.matchAgainstCandle(candle)
	if strategy != nil {
		strategy.OnCandle(candle, e)
	}
	e.UpdatedAt = time.Now().UTC()
}

// OnTick feeds one realtime tick to the paper-trading matcher, then to
// the strategy adapter.
func (e *Engine) OnTick(tick domain.OrderFlowTick, strategy StrategyAdapter) {
	e.matchAgainstTick(tick)
	if strategy != nil {
		strategy.OnTick(tick, e)
	}
	e.UpdatedAt = time.Now().UTC()
}

func (e *Engine) matchAgainstCandle(candle domain.MarketCandle) {
	if len(e.Orders) == 0 || !candle.Volume.IsPositive() {
		return
	}
	available := candle.Volume
	var remaining []Order
	for _, o := range e.Orders {
		execPrice, ok := e.resolveCandleExecPrice(o, candle)
		if !ok {
			remaining = append(remaining, o)
			continue
		}
		isBuy := o.TargetPos.GreaterThan(e.Position)
		desired := o.TargetPos.Sub(e.Position).Abs()
		tradeVol := decimal.Min(desired, available)
		if tradeVol.LessThanOrEqual(mustDecimal(minTradeVolume)) {
			remaining = append(remaining, o)
			continue
		}
		e.executeTrade(tradeVol, execPrice, isBuy)
		available = available.Sub(tradeVol)
		if e.Position.Sub(o.TargetPos).Abs().GreaterThan(mustDecimal(minTradeVolume)) {
			remaining = append(remaining, o)
		}
	}
	e.Orders = remaining
}

func (e *Engine) resolveCandleExecPrice(o Order, candle domain.MarketCandle) (decimal.Decimal, bool) {
	isBuy := o.TargetPos.GreaterThan(e.Position)
	switch o.Type {
	case OrderMarket:
		return candle.Open, true
	case OrderLimit:
		if !o.HasLimit {
			return decimal.Decimal{}, false
		}
		if isBuy {
			if candle.Low.LessThanOrEqual(o.LimitPrice) {
				return decimal.Min(candle.Open, o.LimitPrice), true
			}
		} else {
			if candle.High.GreaterThanOrEqual(o.LimitPrice) {
				return decimal.Max(candle.Open, o.LimitPrice), true
			}
		}
	}
	return decimal.Decimal{}, false
}

// matchAgainstTick crosses resting orders against one incoming tick,
// using the tick's volume as the available liquidity for this match —
// the PAPER-mode analogue of the candle matcher, operating tick-by-tick
// instead of bar-by-bar.
func (e *Engine) matchAgainstTick(tick domain.OrderFlowTick) {
	if len(e.Orders) == 0 || tick.Type != domain.TickTrade || !tick.Volume.IsPositive() {
		return
	}
	available := tick.Volume
	var remaining []Order
	for _, o := range e.Orders {
		if available.LessThanOrEqual(decimal.Zero) {
			remaining = append(remaining, o)
			continue
		}
		isBuy := o.TargetPos.GreaterThan(e.Position)
		if o.Type == OrderLimit && o.HasLimit {
			if isBuy && tick.Price.GreaterThan(o.LimitPrice) {
				remaining = append(remaining, o)
				continue
			}
			if !isBuy && tick.Price.LessThan(o.LimitPrice) {
				remaining = append(remaining, o)
				continue
			}
		}
		desired := o.TargetPos.Sub(e.Position).Abs()
		tradeVol := decimal.Min(desired, available)
		if tradeVol.LessThanOrEqual(mustDecimal(minTradeVolume)) {
			remaining = append(remaining, o)
			continue
		}
		e.executeTrade(tradeVol, tick.Price, isBuy)
		available = available.Sub(tradeVol)
		if e.Position.Sub(o.TargetPos).Abs().GreaterThan(mustDecimal(minTradeVolume)) {
			remaining = append(remaining, o)
		}
	}
	e.Orders = remaining
}

func (e *Engine) executeTrade(vol, price decimal.Decimal, isBuy bool) {
	value := vol.Mul(price)
	if isBuy {
		e.Cash = e.Cash.Sub(value)
		e.Position = e.Position.Add(vol)
	} else {
		e.Cash = e.Cash.Add(value)
		e.Position = e.Position.Sub(vol)
	}

	impact := decimal.NewFromInt(1).Add(vol.Div(decimal.NewFromInt(10)).Mul(decimal.NewFromFloat(0.5)))
	slippage := price.Mul(mustDecimal(baseSlippageRate)).Mul(impact).Mul(vol)
	e.Cash = e.Cash.Sub(slippage)
	e.Stats.TotalSlippage = e.Stats.TotalSlippage.Add(slippage)

	fee := vol.Mul(mustDecimal(feeRatePerMWh))
	e.Cash = e.Cash.Sub(fee)
	e.Stats.TotalFees = e.Stats.TotalFees.Add(fee)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("live: invalid constant decimal %q: %v", s, err))
	}
	return d
}

// StrategyAdapter is the seam between the engine and a trading strategy.
// The engine provides only the plumbing a real strategy would hook into.
type StrategyAdapter interface {
	OnCandle(candle domain.MarketCandle, eng *Engine)
	OnTick(tick domain.OrderFlowTick, eng *Engine)
}
