package chread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse dispatch_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the dispatch_events table.
type EventRow struct {
	RequestID      string    `json:"requestId"`
	Timestamp      time.Time `json:"timestamp"`
	Query          string    `json:"query"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	State          string    `json:"state"`
	Success        bool      `json:"success"`
	SelectedTool   string    `json:"selectedTool,omitempty"`
	ParametersJSON string    `json:"parametersJson,omitempty"`
	FailureKind    string    `json:"failureKind,omitempty"`
	LatencyMs      float32   `json:"latencyMs"`
	Source         string    `json:"source"`
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	Tool        *string
	Success     *bool
	FailureKind *string
	StartTime   *time.Time
	EndTime     *time.Time
	Page        int
	PageSize    int
}

// Normalize clamps pagination to sane bounds.
func (p *ListEventsParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 50
	}
	if p.PageSize > 500 {
		p.PageSize = 500
	}
}

// buildWhere renders the filter conditions and their named arguments.
func (p ListEventsParams) buildWhere() (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if p.Tool != nil {
		conditions = append(conditions, "selected_tool = @tool")
		args = append(args, clickhouse.Named("tool", *p.Tool))
	}
	if p.Success != nil {
		var v uint8
		if *p.Success {
			v = 1
		}
		conditions = append(conditions, "success = @success")
		args = append(args, clickhouse.Named("success", v))
	}
	if p.FailureKind != nil {
		conditions = append(conditions, "failure_kind = @failure_kind")
		args = append(args, clickhouse.Named("failure_kind", *p.FailureKind))
	}
	if p.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *p.StartTime))
	}
	if p.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *p.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListEvents returns paginated, filtered dispatch events (newest first) and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	params.Normalize()
	where, args := params.buildWhere()
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM dispatch_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT request_id, timestamp, query, provider, model, state, success, "+
			"selected_tool, parameters_json, failure_kind, latency_ms, source "+
			"FROM dispatch_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []EventRow{}
	for rows.Next() {
		var e EventRow
		var success uint8
		if err := rows.Scan(
			&e.RequestID, &e.Timestamp, &e.Query, &e.Provider, &e.Model, &e.State, &success,
			&e.SelectedTool, &e.ParametersJSON, &e.FailureKind, &e.LatencyMs, &e.Source,
		); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		e.Success = success == 1
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}
