package journal

import (
	"database/sql"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Journal is the append-only audit record of orders and fills, backed by
// DuckDB. Orders are upserted on every state change so the journal always
// holds the latest view; fills are written once.
type Journal struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewJournal opens the journal database. An empty path uses an in-memory
// database, which lives only as long as the process.
func NewJournal(path string, log *logger.Logger) (*Journal, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeJournalInitFailed, err, "failed to open journal database %s", path)
	}

	journal := &Journal{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := journal.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return journal, nil
}

func (j *Journal) initialize() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			idempotency_key TEXT PRIMARY KEY,
			exchange_order_id TEXT,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			quantity DOUBLE,
			filled_quantity DOUBLE,
			status TEXT,
			signal_sequence UBIGINT,
			attempts INTEGER,
			submitted_at TIMESTAMP,
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to create orders table", err)
	}

	_, err = j.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			fill_id TEXT PRIMARY KEY,
			idempotency_key TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			filled_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to create fills table", err)
	}

	return nil
}

// RecordOrder upserts the current state of an order.
func (j *Journal) RecordOrder(order types.Order) error {
	query := j.sq.
		Insert("orders").
		Options("OR REPLACE").
		Columns(
			"idempotency_key", "exchange_order_id", "symbol", "side", "order_type",
			"quantity", "filled_quantity", "status", "signal_sequence", "attempts",
			"submitted_at", "updated_at",
		).
		Values(
			order.IdempotencyKey, order.ExchangeOrderID, order.Symbol, string(order.Side),
			string(order.Type), order.Quantity, order.FilledQuantity, string(order.Status),
			order.SignalSequence, order.Attempts, order.SubmittedAt, order.UpdatedAt,
		).
		RunWith(j.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeJournalWriteFailed, err, "failed to journal order %s", order.IdempotencyKey)
	}

	return nil
}

// RecordFill writes one fill. Replaying a fill ID overwrites the identical
// row, so at-least-once delivery does not duplicate journal entries.
func (j *Journal) RecordFill(fill types.FillEvent) error {
	query := j.sq.
		Insert("fills").
		Options("OR REPLACE").
		Columns("fill_id", "idempotency_key", "symbol", "side", "quantity", "price", "filled_at").
		Values(fill.FillID, fill.IdempotencyKey, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, fill.Time).
		RunWith(j.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeJournalWriteFailed, err, "failed to journal fill %s", fill.FillID)
	}

	return nil
}

// Orders returns journaled orders for a symbol, newest first. An empty
// symbol returns orders across all instruments.
func (j *Journal) Orders(symbol string, limit int) ([]types.Order, error) {
	query := j.sq.
		Select(
			"idempotency_key", "exchange_order_id", "symbol", "side", "order_type",
			"quantity", "filled_quantity", "status", "signal_sequence", "attempts",
			"submitted_at", "updated_at",
		).
		From("orders").
		OrderBy("submitted_at DESC")

	if symbol != "" {
		query = query.Where(squirrel.Eq{"symbol": symbol})
	}

	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	rows, err := query.RunWith(j.db).Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to query orders", err)
	}
	defer rows.Close()

	var result []types.Order

	for rows.Next() {
		var order types.Order

		err := rows.Scan(
			&order.IdempotencyKey, &order.ExchangeOrderID, &order.Symbol, &order.Side,
			&order.Type, &order.Quantity, &order.FilledQuantity, &order.Status,
			&order.SignalSequence, &order.Attempts, &order.SubmittedAt, &order.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to scan order row", err)
		}

		result = append(result, order)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "order row iteration failed", err)
	}

	return result, nil
}

// Fills returns journaled fills for an order key, oldest first.
func (j *Journal) Fills(idempotencyKey string) ([]types.FillEvent, error) {
	query := j.sq.
		Select("fill_id", "idempotency_key", "symbol", "side", "quantity", "price", "filled_at").
		From("fills").
		Where(squirrel.Eq{"idempotency_key": idempotencyKey}).
		OrderBy("filled_at ASC").
		RunWith(j.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to query fills", err)
	}
	defer rows.Close()

	var result []types.FillEvent

	for rows.Next() {
		var fill types.FillEvent

		err := rows.Scan(&fill.FillID, &fill.IdempotencyKey, &fill.Symbol, &fill.Side, &fill.Quantity, &fill.Price, &fill.Time)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to scan fill row", err)
		}

		result = append(result, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "fill row iteration failed", err)
	}

	return result, nil
}

// RealizedVolume returns the total executed quantity per symbol.
func (j *Journal) RealizedVolume() (map[string]float64, error) {
	query := j.sq.
		Select("symbol", "SUM(quantity)").
		From("fills").
		GroupBy("symbol").
		RunWith(j.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to query fill volume", err)
	}
	defer rows.Close()

	result := make(map[string]float64)

	for rows.Next() {
		var (
			symbol string
			volume float64
		)

		if err := rows.Scan(&symbol, &volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to scan volume row", err)
		}

		result[symbol] = volume
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "volume row iteration failed", err)
	}

	return result, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		j.logger.Error("failed to close journal", zap.Error(err))

		return err
	}

	return nil
}
