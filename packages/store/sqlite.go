package store

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                INTEGER PRIMARY KEY,
	response_time     TEXT NOT NULL,
	transaction_value TEXT NOT NULL,
	transaction_date  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cards (
	id    INTEGER PRIMARY KEY,
	title TEXT NOT NULL
);
`

// SQLiteStore keeps records in SQLite. The default DSN is a shared-cache
// in-memory database, so nothing outlives the process unless a file DSN is
// configured.
type SQLiteStore struct {
	conn    *sql.DB
	catalog *Catalog
}

func OpenSQLite(dsn string, cat *Catalog) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection keeps an in-memory database alive and serialises writers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	s := &SQLiteStore{conn: conn, catalog: cat}
	if err := s.seed(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// seed loads the catalog rows into empty tables.
func (s *SQLiteStore) seed() error {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return errors.Wrap(err, "failed to count transactions")
	}
	if n == 0 {
		for _, rec := range s.catalog.Transactions {
			_, err := s.conn.Exec(`
				INSERT INTO transactions (id, response_time, transaction_value, transaction_date)
				VALUES (?, ?, ?, ?)`,
				rec.ID, rec.ResponseTime, rec.TransactionValue, rec.TransactionDate,
			)
			if err != nil {
				return errors.Wrapf(err, "failed to seed transaction %d", rec.ID)
			}
		}
	}

	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return errors.Wrap(err, "failed to count cards")
	}
	if n == 0 {
		for _, card := range s.catalog.Cards {
			if _, err := s.conn.Exec(`INSERT INTO cards (id, title) VALUES (?, ?)`, card.ID, card.Title); err != nil {
				return errors.Wrapf(err, "failed to seed card %d", card.ID)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]TransactionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, response_time, transaction_value, transaction_date
		FROM transactions ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transactions")
	}
	defer rows.Close()

	records := []TransactionRecord{}
	for rows.Next() {
		var rec TransactionRecord
		if err := rows.Scan(&rec.ID, &rec.ResponseTime, &rec.TransactionValue, &rec.TransactionDate); err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction")
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "failed to iterate transactions")
}

func (s *SQLiteStore) get(ctx context.Context, q queryRower, id int) (*TransactionRecord, error) {
	var rec TransactionRecord
	err := q.QueryRowContext(ctx, `
		SELECT id, response_time, transaction_value, transaction_date
		FROM transactions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ResponseTime, &rec.TransactionValue, &rec.TransactionDate)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	return &rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int) (*TestCaseDetail, error) {
	rec, err := s.get(ctx, s.conn, id)
	if err != nil {
		return nil, err
	}
	return s.catalog.detail(*rec), nil
}

func (s *SQLiteStore) Create(ctx context.Context, fields RecordFields) (*TransactionRecord, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var last int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM transactions`).Scan(&last); err != nil {
		return nil, errors.Wrap(err, "failed to read last id")
	}

	rec := TransactionRecord{
		ID:               last + 1,
		ResponseTime:     fields.ResponseTime,
		TransactionValue: fields.TransactionValue,
		TransactionDate:  fields.TransactionDate,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, response_time, transaction_value, transaction_date)
		VALUES (?, ?, ?, ?)`,
		rec.ID, rec.ResponseTime, rec.TransactionValue, rec.TransactionDate,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transaction")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return &rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id int, patch RecordPatch) (*TransactionRecord, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rec, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	patch.apply(rec)

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET response_time = ?, transaction_value = ?, transaction_date = ?
		WHERE id = ?`,
		rec.ResponseTime, rec.TransactionValue, rec.TransactionDate, rec.ID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update transaction")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return rec, nil
}

func (s *SQLiteStore) ListCards(ctx context.Context) ([]Card, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, title FROM cards ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cards")
	}
	defer rows.Close()

	cards := []Card{}
	for rows.Next() {
		var card Card
		if err := rows.Scan(&card.ID, &card.Title); err != nil {
			return nil, errors.Wrap(err, "failed to scan card")
		}
		cards = append(cards, card)
	}
	return cards, errors.Wrap(rows.Err(), "failed to iterate cards")
}

func (s *SQLiteStore) CreateCard(ctx context.Context, title string) (*Card, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var last int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM cards`).Scan(&last); err != nil {
		return nil, errors.Wrap(err, "failed to read last card id")
	}
	card := Card{ID: last + 1, Title: title}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cards (id, title) VALUES (?, ?)`, card.ID, card.Title); err != nil {
		return nil, errors.Wrap(err, "failed to create card")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit card")
	}
	return &card, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
