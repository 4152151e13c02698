// Package postgres persists aggregator state in PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

type Store struct {
	db *sql.DB
}

var _ port.Store = (*Store)(nil)

// NewStore opens the pool and runs the schema migration. The migration is
// also the connectivity probe, so pass a ctx with a deadline.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS broker_connections (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  connected BOOLEAN NOT NULL,
  last_connected BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS last_ticks (
  venue TEXT NOT NULL,
  symbol TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  PRIMARY KEY(venue, symbol)
);
CREATE INDEX IF NOT EXISTS idx_last_ticks_symbol ON last_ticks(symbol);
`)
	return err
}

func (s *Store) SaveConnection(ctx context.Context, conn domain.BrokerConnection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_connections(id, name, type, connected, last_connected)
		VALUES($1, $2, $3, $4, $5)
		ON CONFLICT(id) DO UPDATE SET
		name=excluded.name, type=excluded.type, connected=excluded.connected, last_connected=excluded.last_connected
	`, conn.ID, conn.Name, string(conn.Type), conn.Connected, conn.LastConnected.UnixMilli())
	return err
}

func (s *Store) GetConnection(ctx context.Context, id string) (*domain.BrokerConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, connected, last_connected FROM broker_connections WHERE id=$1`, id)
	conn, err := scanConnection(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *Store) ListConnections(ctx context.Context) ([]domain.BrokerConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, connected, last_connected FROM broker_connections ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BrokerConnection
	for rows.Next() {
		conn, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broker_connections WHERE id=$1`, id)
	return err
}

func scanConnection(scan func(dest ...any) error) (domain.BrokerConnection, error) {
	var (
		conn      domain.BrokerConnection
		venueType string
		lastMs    int64
	)
	if err := scan(&conn.ID, &conn.Name, &venueType, &conn.Connected, &lastMs); err != nil {
		return domain.BrokerConnection{}, err
	}
	conn.Type = domain.VenueType(venueType)
	conn.LastConnected = time.UnixMilli(lastMs)
	return conn, nil
}

func (s *Store) UpsertLastTick(ctx context.Context, tick domain.LastTick) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_ticks(venue, symbol, price, ts_ms)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(venue, symbol) DO UPDATE SET
		price=excluded.price, ts_ms=excluded.ts_ms
	`, tick.Venue, tick.Symbol, tick.Price, tick.Ts.UnixMilli())
	return err
}

func (s *Store) GetLastTick(ctx context.Context, venue, symbol string) (*domain.LastTick, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT venue, symbol, price, ts_ms FROM last_ticks WHERE venue=$1 AND symbol=$2`, venue, symbol)

	var (
		tick domain.LastTick
		tsMs int64
	)
	err := row.Scan(&tick.Venue, &tick.Symbol, &tick.Price, &tsMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tick.Ts = time.UnixMilli(tsMs)
	return &tick, nil
}

func (s *Store) ListLastTicks(ctx context.Context) ([]domain.LastTick, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT venue, symbol, price, ts_ms FROM last_ticks ORDER BY venue, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LastTick
	for rows.Next() {
		var (
			tick domain.LastTick
			tsMs int64
		)
		if err := rows.Scan(&tick.Venue, &tick.Symbol, &tick.Price, &tsMs); err != nil {
			return nil, err
		}
		tick.Ts = time.UnixMilli(tsMs)
		out = append(out, tick)
	}
	return out, rows.Err()
}
