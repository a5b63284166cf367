package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type blobRow struct {
	bun.BaseModel `bun:"table:blobs"`

	Key       string    `bun:"blob_key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLiteStore keeps blobs in a single sqlite table.
type SQLiteStore struct {
	db *bun.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// is accepted.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("blob: sqlite path is empty")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?mode=rwc"
	}

	raw, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("blob: open sqlite: %w", err)
	}
	// Single writer; also keeps a :memory: database on one connection.
	raw.SetMaxOpenConns(1)

	db := bun.NewDB(raw, sqlitedialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.FromEnv("BUNDEBUG"),
	))

	st, err := NewSQLiteStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// NewSQLiteStore wraps an already opened bun database. The blobs table
// is created if missing.
func NewSQLiteStore(ctx context.Context, db *bun.DB) (*SQLiteStore, error) {
	if _, err := db.NewCreateTable().
		Model((*blobRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("blob: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row blobRow
	err := s.db.NewSelect().
		Model(&row).
		Where("blob_key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(row.Value), true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	row := &blobRow{
		Key:       key,
		Value:     string(value),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (blob_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
