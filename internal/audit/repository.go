package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// Repository handles audit data persistence (ace_logs, risk_events)
// ⭐ SSOT: Audit 데이터 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertACE inserts a new ACE record
func (r *Repository) InsertACE(ctx context.Context, log *contracts.ACELog) error {
	aspiration, err := json.Marshal(log.Aspiration)
	if err != nil {
		return fmt.Errorf("failed to marshal aspiration: %w", err)
	}
	capability, err := json.Marshal(log.Capability)
	if err != nil {
		return fmt.Errorf("failed to marshal capability: %w", err)
	}

	query := `
		INSERT INTO ace_logs (
			id, signal_id, symbol, market, broker, aspiration, capability, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.pool.Exec(ctx, query,
		log.ID, log.SignalID, log.Symbol, log.Market, log.Broker,
		aspiration, capability, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ace log: %w", err)
	}
	return nil
}

// SetExecution writes the execution once
func (r *Repository) SetExecution(ctx context.Context, id string, exec contracts.ACEExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE ace_logs SET execution = $1 WHERE id = $2 AND execution IS NULL`, data, id)
	if err != nil {
		return fmt.Errorf("failed to update ace execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionAlreadySet
	}
	return nil
}

// SetOutcome writes the outcome once
func (r *Repository) SetOutcome(ctx context.Context, id string, outcome contracts.ACEOutcome, closedAt time.Time) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE ace_logs SET outcome = $1, closed_at = $2 WHERE id = $3 AND outcome IS NULL`,
		data, closedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update ace outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contracts.ErrOutcomeAlreadySet
	}
	return nil
}

// FindOpenEntries returns executed BUY records without outcome, oldest first
func (r *Repository) FindOpenEntries(ctx context.Context, broker contracts.Broker, symbol string) ([]*contracts.ACELog, error) {
	query := `
		SELECT id, signal_id, symbol, market, broker, aspiration, capability, execution, created_at
		FROM ace_logs
		WHERE broker = $1 AND symbol = $2
		  AND outcome IS NULL
		  AND execution->>'status' = 'SUCCESS'
		  AND aspiration->>'signal_type' = 'BUY'
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, broker, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query open ace logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*contracts.ACELog, 0)
	for rows.Next() {
		var (
			entry                            contracts.ACELog
			aspiration, capability, execution []byte
		)
		if err := rows.Scan(&entry.ID, &entry.SignalID, &entry.Symbol, &entry.Market, &entry.Broker,
			&aspiration, &capability, &execution, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ace log: %w", err)
		}
		if err := json.Unmarshal(aspiration, &entry.Aspiration); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aspiration: %w", err)
		}
		if err := json.Unmarshal(capability, &entry.Capability); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capability: %w", err)
		}
		if len(execution) > 0 {
			var exec contracts.ACEExecution
			if err := json.Unmarshal(execution, &exec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
			}
			entry.Execution = &exec
		}
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ace logs: %w", err)
	}
	return logs, nil
}

// InsertRiskEvent appends a risk event
func (r *Repository) InsertRiskEvent(ctx context.Context, event *contracts.RiskEvent) error {
	details := event.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal risk event details: %w", err)
	}

	query := `
		INSERT INTO risk_events (event_type, severity, market, broker, symbol, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = r.pool.QueryRow(ctx, query,
		event.Type, event.Severity, event.Market, event.Broker, event.Symbol,
		event.Message, data, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert risk event: %w", err)
	}
	return nil
}

// RecentRiskEvents returns the latest events, newest first
func (r *Repository) RecentRiskEvents(ctx context.Context, limit int) ([]*contracts.RiskEvent, error) {
	query := `
		SELECT id, event_type, severity, market, broker, symbol, message, details, created_at
		FROM risk_events
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk events: %w", err)
	}
	defer rows.Close()

	events := make([]*contracts.RiskEvent, 0)
	for rows.Next() {
		var (
			e       contracts.RiskEvent
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Severity, &e.Market, &e.Broker, &e.Symbol,
			&e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate risk events: %w", err)
	}
	return events, nil
}
