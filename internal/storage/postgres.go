package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-holder/internal/config"
)

// ErrNoLedger is returned when no ledger matches the query.
var ErrNoLedger = errors.New("no ledger stored")

type Store struct {
	pool    *pgxpool.Pool
	channel string
}

type LedgerRow struct {
	Seq        uint32
	Hash       string
	ParentHash string
	CloseTime  time.Time
	TotalCoins uint64
	Validated  bool
	Entries    []EntryRow
}

type EntryRow struct {
	Key   string
	Value []byte
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const latestLedgerSQL = `
	SELECT l.seq, l.hash, l.parent_hash, l.close_time, l.total_coins, l.validated
	FROM ledgers l
	WHERE ($1 = false OR l.validated)
	ORDER BY l.seq DESC
	LIMIT 1`

const entriesSQL = `
	SELECT e.key, e.value
	FROM ledger_entries e
	WHERE e.ledger_seq = $1
	ORDER BY e.key`

// LoadLatestLedger loads the highest-sequence ledger and its entries.
// With validated set, only ledgers marked validated are considered.
func (s *Store) LoadLatestLedger(ctx context.Context, validated bool) (LedgerRow, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// header and entries must come from the same database snapshot
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return LedgerRow{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		row   LedgerRow
		seq   int64
		coins int64
	)
	err = tx.QueryRow(ctx, latestLedgerSQL, validated).
		Scan(&seq, &row.Hash, &row.ParentHash, &row.CloseTime, &coins, &row.Validated)
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerRow{}, ErrNoLedger
	}
	if err != nil {
		return LedgerRow{}, fmt.Errorf("query ledger: %w", err)
	}
	if row.Seq, err = seqOf(seq); err != nil {
		return LedgerRow{}, err
	}
	if row.TotalCoins, err = coinsOf(coins); err != nil {
		return LedgerRow{}, fmt.Errorf("ledger %d: %w", seq, err)
	}

	rows, err := tx.Query(ctx, entriesSQL, seq)
	if err != nil {
		return LedgerRow{}, fmt.Errorf("query entries: %w", err)
	}
	row.Entries, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (EntryRow, error) {
		var e EntryRow
		err := r.Scan(&e.Key, &e.Value)
		return e, err
	})
	if err != nil {
		return LedgerRow{}, fmt.Errorf("scan entries: %w", err)
	}

	return row, nil
}

func seqOf(v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("ledger seq %d out of range", v)
	}
	return uint32(v), nil
}

func coinsOf(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("total coins %d is negative", v)
	}
	return uint64(v), nil
}

func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "ledger_advanced"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
