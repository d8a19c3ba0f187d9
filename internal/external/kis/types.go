package kis

// ============================================================
// KIS API Request/Response Types (Internal)
// ============================================================

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// envelope is embedded in every KIS response (rt_cd / msg_cd / msg1)
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// ok: rt_cd "0" 이 정상
func (e *envelope) ok() bool { return e.RtCd == "0" }

type domesticPriceResponse struct {
	envelope
	Output struct {
		StockCode    string `json:"stck_shrn_iscd"`
		CurrentPrice string `json:"stck_prpr"` // 현재가
	} `json:"output"`
}

type overseasPriceResponse struct {
	envelope
	Output struct {
		Last string `json:"last"` // 현재가
	} `json:"output"`
}

// domesticBalanceResponse represents KIS balance API response
type domesticBalanceResponse struct {
	envelope
	Output1 []struct {
		Pdno        string `json:"pdno"`          // 종목코드
		PrdtName    string `json:"prdt_name"`     // 종목명
		HldgQty     string `json:"hldg_qty"`      // 보유수량
		PchsAvgPric string `json:"pchs_avg_pric"` // 매입평균가
	} `json:"output1"`
	Output2 []struct {
		DncaTotAmt string `json:"dnca_tot_amt"` // 예수금총금액
		TotEvluAmt string `json:"tot_evlu_amt"` // 총평가금액
	} `json:"output2"`
}

type overseasBalanceResponse struct {
	envelope
	Output1 []struct {
		OvrsPdno    string `json:"ovrs_pdno"`     // 종목코드
		OvrsExcgCd  string `json:"ovrs_excg_cd"`  // 거래소코드
		CblcQty     string `json:"ovrs_cblc_qty"` // 잔고수량
		PchsAvgPric string `json:"pchs_avg_pric"` // 매입평균가
	} `json:"output1"`
}

type overseasDepositResponse struct {
	envelope
	Output2 []struct {
		CrcyCd       string `json:"crcy_cd"`         // 통화코드
		FrcrDnclAmt2 string `json:"frcr_dncl_amt_2"` // 외화예수금액
	} `json:"output2"`
}

// domesticOrderBody represents KIS domestic cash order request body
type domesticOrderBody struct {
	CANO         string `json:"CANO"`         // 계좌번호
	ACNT_PRDT_CD string `json:"ACNT_PRDT_CD"` // 계좌상품코드
	PDNO         string `json:"PDNO"`         // 종목코드
	ORD_DVSN     string `json:"ORD_DVSN"`     // 00:지정가, 01:시장가
	ORD_QTY      string `json:"ORD_QTY"`      // 주문수량
	ORD_UNPR     string `json:"ORD_UNPR"`     // 주문단가
}

// overseasOrderBody represents KIS overseas order request body (지정가만 지원)
type overseasOrderBody struct {
	CANO            string `json:"CANO"`
	ACNT_PRDT_CD    string `json:"ACNT_PRDT_CD"`
	OVRS_EXCG_CD    string `json:"OVRS_EXCG_CD"` // NASD, NYSE, AMEX
	PDNO            string `json:"PDNO"`
	ORD_QTY         string `json:"ORD_QTY"`
	OVRS_ORD_UNPR   string `json:"OVRS_ORD_UNPR"`
	ORD_SVR_DVSN_CD string `json:"ORD_SVR_DVSN_CD"` // "0"
	ORD_DVSN        string `json:"ORD_DVSN"`        // 00:지정가
}

// orderResponse represents KIS order response
type orderResponse struct {
	envelope
	Output struct {
		KRX_FWDG_ORD_ORGNO string `json:"KRX_FWDG_ORD_ORGNO"`
		ODNO               string `json:"ODNO"`    // 주문번호
		ORD_TMD            string `json:"ORD_TMD"` // 주문시각
	} `json:"output"`
}

// hashkeyResponse represents KIS hashkey response
type hashkeyResponse struct {
	Hash string `json:"HASH"`
}
