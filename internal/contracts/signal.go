package contracts

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SignalType is the action recommended by upstream analysis
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// IsActionable reports whether the signal can turn into an order
func (t SignalType) IsActionable() bool {
	return t == SignalBuy || t == SignalSell
}

// Side maps an actionable signal to an order side
func (t SignalType) Side() (OrderSide, bool) {
	switch t {
	case SignalBuy:
		return OrderSideBuy, true
	case SignalSell:
		return OrderSideSell, true
	}
	return "", false
}

// Signal represents a trade recommendation awaiting consumption
// ⭐ SSOT: 시그널 큐 → 마켓 루프 데이터 전달
type Signal struct {
	ID          int64           `json:"id"`
	Symbol      string          `json:"symbol"`
	Market      Market          `json:"market"`
	Broker      Broker          `json:"broker"`
	Type        SignalType      `json:"signal_type"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	TargetPrice decimal.Decimal `json:"target_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	Confidence  decimal.Decimal `json:"confidence"` // 0.0 ~ 1.0
	CreatedAt   time.Time       `json:"created_at"`
	ConsumedAt  *time.Time      `json:"consumed_at,omitempty"`
}

// IsConsumed reports whether the scheduler already processed the signal
func (s *Signal) IsConsumed() bool {
	return s.ConsumedAt != nil
}

// SortSignals orders signals for processing: confidence desc, actionable first on ties,
// then oldest first.
func SortSignals(signals []*Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if c := a.Confidence.Cmp(b.Confidence); c != 0 {
			return c > 0
		}
		if a.Type.IsActionable() != b.Type.IsActionable() {
			return a.Type.IsActionable()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
