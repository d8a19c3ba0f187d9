package contracts

import (
	"errors"

	"github.com/wonny/aegis-trader/pkg/config"
)

// ⭐ SSOT: 에러 분류는 여기서만 정의
// 검증 거부(ValidationRejection)는 에러가 아니라 RiskValidationResult로 표현
var (
	// ErrInvalidInput: 사이징 입력 오류 (stop == entry 등)
	ErrInvalidInput = errors.New("invalid input")

	// ErrDataIntegrity: 시세/잔고 누락, 잘못된 브로커 응답. 절대 0으로 간주하지 않음
	ErrDataIntegrity = errors.New("data integrity failure")

	// ErrTransientBroker: 네트워크/5xx/레이트리밋
	ErrTransientBroker = errors.New("transient broker failure")

	// ErrGuardBlocked: 거래 비활성, 쿨다운, 일일 예산 소진
	ErrGuardBlocked = errors.New("guard blocked")

	// ErrFatalConfig: 시작 시 필수 설정 누락
	ErrFatalConfig = config.ErrFatalConfig

	ErrAlreadyConsumed   = errors.New("signal already consumed")
	ErrOutcomeAlreadySet = errors.New("ace outcome already set")
	ErrNotFound          = errors.New("not found")
	ErrUnknownBroker     = errors.New("unknown broker")
)
