package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// TR IDs for order operations
const (
	// 국내 매수/매도
	TRIDBuyReal     = "TTTC0802U"
	TRIDBuyVirtual  = "VTTC0802U"
	TRIDSellReal    = "TTTC0801U"
	TRIDSellVirtual = "VTTC0801U"

	// 해외 매수/매도
	TRIDOverseasBuyReal     = "TTTT1002U"
	TRIDOverseasBuyVirtual  = "VTTT1002U"
	TRIDOverseasSellReal    = "TTTT1006U"
	TRIDOverseasSellVirtual = "VTTT1001U"
)

// PlaceOrder submits exactly one order. KIS has no client idempotency key;
// the caller must not resubmit on error.
func (c *Client) PlaceOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.OrderResult, error) {
	cano, prdt, err := c.accountParts()
	if err != nil {
		return nil, err
	}
	if !req.Qty.Equal(req.Qty.Floor()) {
		return nil, fmt.Errorf("%w: fractional quantity %s for %s", contracts.ErrInvalidInput, req.Qty, req.Symbol)
	}

	var (
		path string
		trID string
		body interface{}
	)
	switch req.Market {
	case contracts.MarketKRX:
		path = "/uapi/domestic-stock/v1/trading/order-cash"
		if req.Side == contracts.OrderSideBuy {
			trID = c.trID(TRIDBuyReal, TRIDBuyVirtual)
		} else {
			trID = c.trID(TRIDSellReal, TRIDSellVirtual)
		}
		// 00=지정가, 01=시장가
		ordDvsn, unitPrice := "01", "0"
		if req.Type == contracts.OrderTypeLimit {
			ordDvsn, unitPrice = "00", req.Price.Floor().String()
		}
		body = domesticOrderBody{
			CANO:         cano,
			ACNT_PRDT_CD: prdt,
			PDNO:         req.Symbol,
			ORD_DVSN:     ordDvsn,
			ORD_QTY:      req.Qty.String(),
			ORD_UNPR:     unitPrice,
		}
	case contracts.MarketUS:
		// 해외주식은 지정가만 지원: 기준가로 주문
		if !req.Price.IsPositive() {
			return nil, fmt.Errorf("%w: US order requires a reference price", contracts.ErrInvalidInput)
		}
		path = "/uapi/overseas-stock/v1/trading/order"
		if req.Side == contracts.OrderSideBuy {
			trID = c.trID(TRIDOverseasBuyReal, TRIDOverseasBuyVirtual)
		} else {
			trID = c.trID(TRIDOverseasSellReal, TRIDOverseasSellVirtual)
		}
		us := parseUSSymbol(req.Symbol)
		body = overseasOrderBody{
			CANO:            cano,
			ACNT_PRDT_CD:    prdt,
			OVRS_EXCG_CD:    us.orderExchange,
			PDNO:            us.ticker,
			ORD_QTY:         req.Qty.String(),
			OVRS_ORD_UNPR:   req.Price.StringFixed(2),
			ORD_SVR_DVSN_CD: "0",
			ORD_DVSN:        "00",
		}
	default:
		return nil, fmt.Errorf("%w: KIS does not trade %s", contracts.ErrInvalidInput, req.Market)
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal order body: %w", err)
	}

	hashkey, err := c.getHashkey(ctx, jsonBody)
	if err != nil {
		return nil, fmt.Errorf("get hashkey: %w", err)
	}

	var result orderResponse
	if err := c.request(ctx, http.MethodPost, path, trID, jsonBody, hashkey, &result); err != nil {
		return nil, fmt.Errorf("place order request: %w", err)
	}

	log := c.logger.WithFields(map[string]interface{}{
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty.String(),
		"client_order_id": req.ClientOrderID,
	})

	if !result.ok() {
		log.WithField("error", result.Msg1).Error("Order placement failed")
		return &contracts.OrderResult{
			Status:  contracts.OrderFailed,
			Message: fmt.Sprintf("%s - %s", result.MsgCd, result.Msg1),
		}, nil
	}

	log.WithField("order_no", result.Output.ODNO).Info("Order placed successfully")
	return &contracts.OrderResult{
		Status:        contracts.OrderSuccess,
		OrderID:       result.Output.ODNO,
		ExecutedPrice: req.Price,
		ExecutedQty:   req.Qty,
		Message:       result.Msg1,
	}, nil
}

// getHashkey generates hashkey for POST requests
func (c *Client) getHashkey(ctx context.Context, body []byte) (string, error) {
	var result hashkeyResponse
	if err := c.request(ctx, http.MethodPost, "/uapi/hashkey", "", body, "", &result); err != nil {
		return "", err
	}
	if result.Hash == "" {
		return "", fmt.Errorf("%w: empty hashkey", contracts.ErrDataIntegrity)
	}
	return result.Hash, nil
}
