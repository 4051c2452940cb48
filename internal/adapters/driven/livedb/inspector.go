package livedb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// Ensure SQLiteInspector implements the interface.
var _ driven.DatabaseInspector = (*SQLiteInspector)(nil)

// sqliteHeader opens every SQLite 3 database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// SQLiteInspector checkpoints and verifies SQLite database files.
type SQLiteInspector struct{}

// NewSQLiteInspector creates an inspector.
func NewSQLiteInspector() *SQLiteInspector {
	return &SQLiteInspector{}
}

// Checkpoint folds the write-ahead log into the main file and truncates
// the log. Files without a non-empty -wal sidecar are left alone.
func (i *SQLiteInspector) Checkpoint(ctx context.Context, path string) error {
	info, err := os.Stat(path + "-wal")
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: stat wal: %w", domain.ErrIOFailure, err)
	}

	ok, err := HasSQLiteHeader(path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	if !ok {
		return nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("%w: open for checkpoint: %w", domain.ErrIOFailure, err)
	}
	defer db.Close()

	var busy, logFrames, checkpointed int
	row := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("%w: checkpoint: %w", domain.ErrIOFailure, err)
	}
	if busy != 0 {
		return fmt.Errorf("%w: checkpoint blocked by an open reader", domain.ErrIOFailure)
	}

	logger.Debug("livedb: checkpointed %d of %d wal frames", checkpointed, logFrames)
	return nil
}

// Verify checks the header and runs PRAGMA quick_check on a standalone
// copy. The file is opened immutable so no sidecars are created next to it.
func (i *SQLiteInspector) Verify(ctx context.Context, path string) error {
	ok, err := HasSQLiteHeader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a SQLite database", domain.ErrCorrupt, path)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return fmt.Errorf("%w: open for verify: %w", domain.ErrIOFailure, err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", domain.ErrCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: quick_check: %s", domain.ErrCorrupt, result)
	}
	return nil
}

// HasSQLiteHeader reports whether path starts with the SQLite 3 magic.
// Short files report false.
func HasSQLiteHeader(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(buf, sqliteHeader), nil
}
