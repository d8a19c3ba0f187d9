package contracts

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Market identifies a trading venue group with its own loop and session hours
type Market string

const (
	MarketCrypto Market = "CRYPTO"
	MarketKRX    Market = "KRX"
	MarketUS     Market = "US"
)

// AllMarkets lists every market the scheduler knows about
var AllMarkets = []Market{MarketCrypto, MarketKRX, MarketUS}

// ParseMarket converts a config value into a Market
func ParseMarket(s string) (Market, bool) {
	m := Market(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MarketCrypto, MarketKRX, MarketUS:
		return m, true
	}
	return "", false
}

// HomeCurrency is the currency of AccountSnapshot.Cash
const HomeCurrency = "KRW"

// QuoteCurrency is the cash symbol of the market. It is never a position to liquidate.
func (m Market) QuoteCurrency() string {
	if m == MarketUS {
		return "USD"
	}
	return HomeCurrency
}

// MarketsOf returns the markets served by broker, in AllMarkets order
func MarketsOf(b Broker) []Market {
	var out []Market
	for _, m := range AllMarkets {
		if BrokerFor(m) == b {
			out = append(out, m)
		}
	}
	return out
}

// IsEquity reports whether quantities trade in whole shares
func (m Market) IsEquity() bool {
	return m == MarketKRX || m == MarketUS
}

// Broker identifies a broker client in the registry
type Broker string

const (
	BrokerKIS   Broker = "KIS"   // 한국투자증권 (KRX, US)
	BrokerUpbit Broker = "UPBIT" // 업비트 (CRYPTO)
)

// ParseBroker converts a CLI/config value into a Broker
func ParseBroker(s string) (Broker, bool) {
	b := Broker(strings.ToUpper(strings.TrimSpace(s)))
	switch b {
	case BrokerKIS, BrokerUpbit:
		return b, true
	}
	return "", false
}

// BrokerFor returns the default broker for a market
func BrokerFor(m Market) Broker {
	if m == MarketCrypto {
		return BrokerUpbit
	}
	return BrokerKIS
}

// IsQuoteCurrency reports whether symbol is a cash balance rather than a holding
func IsQuoteCurrency(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "KRW", "USD":
		return true
	}
	return false
}

// Session time zones. tzdata is embedded so containers without zoneinfo still load them.
var (
	Seoul   = mustLoadLocation("Asia/Seoul")
	NewYork = mustLoadLocation("America/New_York")
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("load location %s: %v", name, err))
	}
	return loc
}

// TradingDayStart returns 00:00 Asia/Seoul of the day containing t.
// Daily P&L, order budgets and equity marks all reset at this boundary.
func TradingDayStart(t time.Time) time.Time {
	s := t.In(Seoul)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, Seoul)
}
