package kis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// TR IDs for balance queries
const (
	TRIDBalanceReal            = "TTTC8434R"
	TRIDBalanceVirtual         = "VTTC8434R"
	TRIDOverseasBalanceReal    = "TTTS3012R"
	TRIDOverseasBalanceVirtual = "VTTS3012R"
	TRIDOverseasDepositReal    = "CTRP6504R"
	TRIDOverseasDepositVirtual = "VTRP6504R"
)

// GetAccount returns the KRW deposit, the USD deposit and KRX/US holdings.
// The two deposits stay separate: US orders are sized in dollars only.
func (c *Client) GetAccount(ctx context.Context) (*contracts.AccountSnapshot, error) {
	cano, prdt, err := c.accountParts()
	if err != nil {
		return nil, err
	}

	snap, err := c.domesticBalance(ctx, cano, prdt)
	if err != nil {
		return nil, err
	}

	overseas, err := c.overseasHoldings(ctx, cano, prdt)
	if err != nil {
		return nil, err
	}
	snap.Holdings = append(snap.Holdings, overseas...)

	foreign, err := c.overseasDeposits(ctx, cano, prdt)
	if err != nil {
		return nil, err
	}
	snap.ForeignCash = foreign

	c.logger.WithFields(map[string]interface{}{
		"cash":     snap.Cash.String(),
		"usd_cash": snap.CashFor(contracts.MarketUS).String(),
		"holdings": len(snap.Holdings),
	}).Debug("Balance fetched")

	return snap, nil
}

func (c *Client) domesticBalance(ctx context.Context, cano, prdt string) (*contracts.AccountSnapshot, error) {
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", prdt)
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("OFL_YN", "")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	params.Set("PRCS_DVSN", "00")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	var result domesticBalanceResponse
	path := "/uapi/domestic-stock/v1/trading/inquire-balance?" + params.Encode()
	if err := c.request(ctx, http.MethodGet, path, c.trID(TRIDBalanceReal, TRIDBalanceVirtual), nil, "", &result); err != nil {
		return nil, fmt.Errorf("balance request: %w", err)
	}
	if !result.ok() {
		return nil, fmt.Errorf("%w: balance API error: %s - %s", contracts.ErrDataIntegrity, result.MsgCd, result.Msg1)
	}
	if len(result.Output2) == 0 {
		return nil, fmt.Errorf("%w: balance response without deposit summary", contracts.ErrDataIntegrity)
	}

	cash, err := parseDecimal("dnca_tot_amt", result.Output2[0].DncaTotAmt)
	if err != nil {
		return nil, err
	}

	snap := &contracts.AccountSnapshot{Cash: cash, Holdings: make([]contracts.Holding, 0, len(result.Output1))}
	for _, out := range result.Output1 {
		qty, err := parseDecimal("hldg_qty", out.HldgQty)
		if err != nil {
			return nil, err
		}
		if !qty.IsPositive() {
			continue // Skip zero quantity positions
		}
		avg, err := parseDecimal("pchs_avg_pric", out.PchsAvgPric)
		if err != nil {
			return nil, err
		}
		snap.Holdings = append(snap.Holdings, contracts.Holding{
			Market:   contracts.MarketKRX,
			Symbol:   out.Pdno,
			Qty:      qty,
			AvgPrice: avg,
		})
	}
	return snap, nil
}

func (c *Client) overseasHoldings(ctx context.Context, cano, prdt string) ([]contracts.Holding, error) {
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", prdt)
	params.Set("OVRS_EXCG_CD", "NASD")
	params.Set("TR_CRCY_CD", "USD")
	params.Set("CTX_AREA_FK200", "")
	params.Set("CTX_AREA_NK200", "")

	var result overseasBalanceResponse
	path := "/uapi/overseas-stock/v1/trading/inquire-balance?" + params.Encode()
	trID := c.trID(TRIDOverseasBalanceReal, TRIDOverseasBalanceVirtual)
	if err := c.request(ctx, http.MethodGet, path, trID, nil, "", &result); err != nil {
		return nil, fmt.Errorf("overseas balance request: %w", err)
	}
	if !result.ok() {
		return nil, fmt.Errorf("%w: overseas balance API error: %s - %s", contracts.ErrDataIntegrity, result.MsgCd, result.Msg1)
	}

	holdings := make([]contracts.Holding, 0, len(result.Output1))
	for _, out := range result.Output1 {
		qty, err := parseDecimal("ovrs_cblc_qty", out.CblcQty)
		if err != nil {
			return nil, err
		}
		if !qty.IsPositive() {
			continue
		}
		avg, err := parseDecimal("pchs_avg_pric", out.PchsAvgPric)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, contracts.Holding{
			Market:   contracts.MarketUS,
			Symbol:   usSymbolFromExchange(out.OvrsExcgCd, out.OvrsPdno),
			Qty:      qty,
			AvgPrice: avg,
		})
	}
	return holdings, nil
}

// overseasDeposits returns foreign deposits per currency (외화예수금)
func (c *Client) overseasDeposits(ctx context.Context, cano, prdt string) (map[string]decimal.Decimal, error) {
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", prdt)
	params.Set("WCRC_FRCR_DVSN_CD", "02") // 외화 기준
	params.Set("NATN_CD", "840")          // 미국
	params.Set("TR_MKET_CD", "00")
	params.Set("INQR_DVSN_CD", "00")

	var result overseasDepositResponse
	path := "/uapi/overseas-stock/v1/trading/inquire-present-balance?" + params.Encode()
	trID := c.trID(TRIDOverseasDepositReal, TRIDOverseasDepositVirtual)
	if err := c.request(ctx, http.MethodGet, path, trID, nil, "", &result); err != nil {
		return nil, fmt.Errorf("overseas deposit request: %w", err)
	}
	if !result.ok() {
		return nil, fmt.Errorf("%w: overseas deposit API error: %s - %s", contracts.ErrDataIntegrity, result.MsgCd, result.Msg1)
	}

	deposits := make(map[string]decimal.Decimal, len(result.Output2))
	for _, out := range result.Output2 {
		if out.CrcyCd == "" {
			continue
		}
		amt, err := parseDecimal("frcr_dncl_amt_2", out.FrcrDnclAmt2)
		if err != nil {
			return nil, err
		}
		deposits[out.CrcyCd] = deposits[out.CrcyCd].Add(amt)
	}
	return deposits, nil
}

// usSymbolFromExchange converts an order exchange code back to the "NAS:AAPL" form
func usSymbolFromExchange(exchange, ticker string) string {
	switch exchange {
	case "NYSE":
		return "NYS:" + ticker
	case "AMEX":
		return "AMS:" + ticker
	default:
		return "NAS:" + ticker
	}
}
