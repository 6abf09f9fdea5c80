package live

import "github.com/nordflow/ingest/internal/domain"

// NoopStrategy is the default StrategyAdapter wired by the daemon when no
// external strategy is configured: the engine still runs its own matching
// against candles/ticks, but never places new orders on its own.
type NoopStrategy struct{}

func (NoopStrategy) OnCandle(domain.MarketCandle, *Engine) {}
func (NoopStrategy) OnTick(domain.OrderFlowTick, *Engine)  {}
