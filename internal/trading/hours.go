package trading

import (
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// session is a regular trading session in the exchange's local time
type session struct {
	loc    *time.Location
	openH  int
	openM  int
	closeH int
	closeM int
}

var sessions = map[contracts.Market]session{
	contracts.MarketKRX: {loc: contracts.Seoul, openH: 9, openM: 0, closeH: 15, closeM: 30},
	contracts.MarketUS:  {loc: contracts.NewYork, openH: 9, openM: 30, closeH: 16, closeM: 0},
}

// IsMarketOpen reports whether the market's regular session is open at t.
// CRYPTO never closes. Exchange holidays are not modelled.
func IsMarketOpen(market contracts.Market, t time.Time) bool {
	s, ok := sessions[market]
	if !ok {
		return market == contracts.MarketCrypto
	}

	local := t.In(s.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	open := time.Date(local.Year(), local.Month(), local.Day(), s.openH, s.openM, 0, 0, s.loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), s.closeH, s.closeM, 0, 0, s.loc)
	return !local.Before(open) && local.Before(closeAt)
}
