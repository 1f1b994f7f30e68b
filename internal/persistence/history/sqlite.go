// Package history keeps a queryable SQLite record of ledger changes and
// purchases/sales. It is a secondary index: writes are queued and dropped when
// the writer falls behind, and the save file stays the source of truth.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"villagecraft.ai/internal/economy/ledger"
)

type TradeKind string

const (
	Purchase TradeKind = "PURCHASE"
	Sale     TradeKind = "SALE"
)

type Trade struct {
	Kind       TradeKind
	InstanceID string
	CatalogID  string
	Amount     int64
	Balance    int64
	At         time.Time
}

type BalanceChange struct {
	Kind    ledger.Kind
	Delta   int64
	Balance int64
	At      time.Time
}

type Totals struct {
	Purchases int64
	Spent     int64
	Sales     int64
	Refunded  int64
}

type reqKind int

const (
	reqChange reqKind = iota + 1
	reqTrade
)

type req struct {
	kind   reqKind
	change BalanceChange
	trade  Trade
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, 4096)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			digest TEXT PRIMARY KEY,
			entries INTEGER NOT NULL,
			first_seen TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS balance_changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			delta INTEGER NOT NULL,
			balance INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			catalog_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			balance INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_catalog ON trades(catalog_id, kind);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports how many records were discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// ObserveLedger matches ledger.Observer.
func (s *SQLiteIndex) ObserveLedger(c ledger.Change) {
	s.enqueue(req{kind: reqChange, change: BalanceChange{Kind: c.Kind, Delta: c.Delta, Balance: c.Balance, At: time.Now()}})
}

func (s *SQLiteIndex) RecordTrade(t Trade) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	s.enqueue(req{kind: reqTrade, trade: t})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// RecordCatalog notes the catalog digest the process started with.
func (s *SQLiteIndex) RecordCatalog(ctx context.Context, digest string, entries int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO catalogs(digest,entries,first_seen) VALUES(?,?,?)`,
		digest, entries, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteIndex) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at,kind,instance_id,catalog_id,amount,balance FROM trades ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var t Trade
		var at, kind string
		if err := rows.Scan(&at, &kind, &t.InstanceID, &t.CatalogID, &t.Amount, &t.Balance); err != nil {
			return nil, err
		}
		t.Kind = TradeKind(kind)
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) RecentChanges(ctx context.Context, limit int) ([]BalanceChange, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at,kind,delta,balance FROM balance_changes ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceChange
	for rows.Next() {
		var c BalanceChange
		var at, kind string
		if err := rows.Scan(&at, &kind, &c.Delta, &c.Balance); err != nil {
			return nil, err
		}
		c.Kind = ledger.Kind(kind)
		c.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN kind='PURCHASE' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN kind='PURCHASE' THEN amount ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN kind='SALE' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN kind='SALE' THEN amount ELSE 0 END),0)
		FROM trades`).Scan(&t.Purchases, &t.Spent, &t.Sales, &t.Refunded)
	return t, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChange, _ := s.db.Prepare(`INSERT INTO balance_changes(at,kind,delta,balance) VALUES(?,?,?,?)`)
	insertTrade, _ := s.db.Prepare(`INSERT INTO trades(at,kind,instance_id,catalog_id,amount,balance) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertChange != nil {
			_ = insertChange.Close()
		}
		if insertTrade != nil {
			_ = insertTrade.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqChange:
			c := r.change
			if insertChange == nil {
				continue
			}
			if _, err := tx.Stmt(insertChange).Exec(c.At.UTC().Format(time.RFC3339Nano), string(c.Kind), c.Delta, c.Balance); err != nil {
				rollback()
				continue
			}
			opCount++
		case reqTrade:
			t := r.trade
			if insertTrade == nil {
				continue
			}
			if _, err := tx.Stmt(insertTrade).Exec(t.At.UTC().Format(time.RFC3339Nano), string(t.Kind), t.InstanceID, t.CatalogID, t.Amount, t.Balance); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		// The village writes rarely, so commit as soon as the queue is idle.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
