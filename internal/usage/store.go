// Package usage records token usage and cost for every model call made
// during a profiling session, and reports totals over a time window or a
// single session.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zealscott/autoprofiler/internal/config"
	"github.com/zealscott/autoprofiler/internal/llm"
)

// Record is one model call's token usage and cost.
type Record struct {
	ID           string
	Timestamp    time.Time
	SessionID    string
	Agent        string // profiler, retriever, summarizer, evaluator
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Totals aggregates a set of records.
type Totals struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Group is the totals for one value of a Dimension.
type Group struct {
	Key string `json:"key"`
	Totals
}

// Dimension is a column records can be grouped by.
type Dimension string

// Dimensions accepted by Breakdown.
const (
	ByModel   Dimension = "model"
	ByAgent   Dimension = "agent"
	BySession Dimension = "session_id"
)

// Filter selects records. Zero fields do not constrain.
type Filter struct {
	Since     time.Time // inclusive
	Until     time.Time // exclusive
	SessionID string
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if !f.Since.IsZero() {
		conds = append(conds, "ts_ms >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "ts_ms < ?")
		args = append(args, f.Until.UnixMilli())
	}
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Store is an append-only usage table on a shared database handle.
type Store struct {
	db *sql.DB
}

// NewStore creates the schema on db if needed. The caller owns db.
func NewStore(db *sql.DB) (*Store, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS usage_calls (
		id            TEXT PRIMARY KEY,
		ts_ms         INTEGER NOT NULL,
		session_id    TEXT NOT NULL DEFAULT '',
		agent         TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd      REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_calls_ts ON usage_calls(ts_ms);
	CREATE INDEX IF NOT EXISTS idx_usage_calls_session ON usage_calls(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record persists rec, filling a missing ID with a UUIDv7 and a zero
// timestamp with the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_calls (id, ts_ms, session_id, agent, model, input_tokens, output_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixMilli(), rec.SessionID, rec.Agent, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

const totalsColumns = `COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)`

// Totals aggregates every record matching f.
func (s *Store) Totals(ctx context.Context, f Filter) (Totals, error) {
	where, args := f.where()
	var t Totals
	err := s.db.QueryRowContext(ctx, `SELECT `+totalsColumns+` FROM usage_calls`+where, args...).
		Scan(&t.Calls, &t.InputTokens, &t.OutputTokens, &t.CostUSD)
	if err != nil {
		return Totals{}, fmt.Errorf("query usage totals: %w", err)
	}
	return t, nil
}

// Breakdown groups records matching f by dim, most expensive first and
// then by key.
func (s *Store) Breakdown(ctx context.Context, f Filter, dim Dimension) ([]Group, error) {
	switch dim {
	case ByModel, ByAgent, BySession:
	default:
		return nil, fmt.Errorf("unknown usage dimension %q", dim)
	}
	where, args := f.where()
	col := string(dim)
	query := `SELECT ` + col + `, ` + totalsColumns + ` FROM usage_calls` + where +
		` GROUP BY ` + col + ` ORDER BY SUM(cost_usd) DESC, ` + col

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", dim, err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Key, &g.Calls, &g.InputTokens, &g.OutputTokens, &g.CostUSD); err != nil {
			return nil, fmt.Errorf("scan usage group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ComputeCost prices a call from the per-million-token table. Models
// missing from the table (local models) cost nothing.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion) / 1e6
}

type sessionKey struct{}

// WithSession tags ctx so calls made under it are attributed to id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session id set by WithSession, or "".
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Ledger writes a Record for every observed model call.
type Ledger struct {
	store   *Store
	pricing map[string]config.PricingEntry
	logger  *slog.Logger
}

// NewLedger creates a call observer backed by store.
func NewLedger(store *Store, pricing map[string]config.PricingEntry, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, pricing: pricing, logger: logger.With("component", "usage")}
}

// ObserveCall records resp. Write failures are logged, not returned,
// since losing a usage row must not abort a session.
func (l *Ledger) ObserveCall(ctx context.Context, agent, model string, resp *llm.ChatResponse) {
	if resp == nil {
		return
	}
	if resp.Model != "" {
		model = resp.Model
	}
	rec := Record{
		SessionID:    SessionFrom(ctx),
		Agent:        agent,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      ComputeCost(model, resp.InputTokens, resp.OutputTokens, l.pricing),
	}
	if err := l.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("failed to record usage", "agent", agent, "model", model, "error", err)
	}
	l.logger.Debug("model call",
		"session_id", rec.SessionID,
		"agent", agent,
		"model", model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
	)
}
