package kis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// TR IDs for quotations
const (
	TRIDDomesticPrice = "FHKST01010100" // 국내주식 현재가
	TRIDOverseasPrice = "HHDFS00000300" // 해외주식 현재체결가
)

// usSymbol is a US ticker with its KIS exchange codes.
// Symbols are written as "NAS:AAPL"; a bare ticker defaults to NASDAQ.
type usSymbol struct {
	quoteExchange string // NAS, NYS, AMS (시세)
	orderExchange string // NASD, NYSE, AMEX (주문)
	ticker        string
}

func parseUSSymbol(symbol string) usSymbol {
	exchange, ticker := "NAS", symbol
	if i := strings.IndexByte(symbol, ':'); i > 0 {
		exchange, ticker = strings.ToUpper(symbol[:i]), symbol[i+1:]
	}
	s := usSymbol{quoteExchange: exchange, ticker: ticker}
	switch exchange {
	case "NYS":
		s.orderExchange = "NYSE"
	case "AMS":
		s.orderExchange = "AMEX"
	default:
		s.quoteExchange = "NAS"
		s.orderExchange = "NASD"
	}
	return s
}

// GetCurrentPrice gets real-time current price for a KRX or US symbol
func (c *Client) GetCurrentPrice(ctx context.Context, market contracts.Market, symbol string) (decimal.Decimal, error) {
	switch market {
	case contracts.MarketKRX:
		return c.domesticPrice(ctx, symbol)
	case contracts.MarketUS:
		return c.overseasPrice(ctx, symbol)
	default:
		return decimal.Zero, fmt.Errorf("%w: KIS does not quote %s", contracts.ErrInvalidInput, market)
	}
}

func (c *Client) domesticPrice(ctx context.Context, code string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", "J")
	params.Set("fid_input_iscd", code)

	var result domesticPriceResponse
	path := "/uapi/domestic-stock/v1/quotations/inquire-price?" + params.Encode()
	if err := c.request(ctx, http.MethodGet, path, TRIDDomesticPrice, nil, "", &result); err != nil {
		return decimal.Zero, err
	}
	if !result.ok() {
		return decimal.Zero, fmt.Errorf("%w: price API error: %s - %s", contracts.ErrDataIntegrity, result.MsgCd, result.Msg1)
	}
	return positivePrice(code, result.Output.CurrentPrice)
}

func (c *Client) overseasPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	us := parseUSSymbol(symbol)
	params := url.Values{}
	params.Set("AUTH", "")
	params.Set("EXCD", us.quoteExchange)
	params.Set("SYMB", us.ticker)

	var result overseasPriceResponse
	path := "/uapi/overseas-price/v1/quotations/price?" + params.Encode()
	if err := c.request(ctx, http.MethodGet, path, TRIDOverseasPrice, nil, "", &result); err != nil {
		return decimal.Zero, err
	}
	if !result.ok() {
		return decimal.Zero, fmt.Errorf("%w: price API error: %s - %s", contracts.ErrDataIntegrity, result.MsgCd, result.Msg1)
	}
	return positivePrice(symbol, result.Output.Last)
}

// positivePrice: 빈 값이나 0은 시세 누락으로 처리
func positivePrice(symbol, raw string) (decimal.Decimal, error) {
	price, err := parseDecimal("price", raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", contracts.ErrDataIntegrity, symbol)
	}
	return price, nil
}
