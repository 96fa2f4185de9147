package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/chazu/bvm/vm"
)

// SQLite is a durable vm.Repository backed by a single SQLite database
// file, for demonstrations where documents should survive process
// restarts. It is not part of the vm package itself -- §1's Non-goals
// exclude persistent storage from the core -- but gives cmd/bvmrun's
// "--store" flag somewhere real to point.
//
// Grounded on manifest/manifest.go's Load's read-file/wrap-error idiom for
// Open's error handling; the two-table draft/commit split mirrors Memory's
// shape.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed repository at
// path. Pass ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: opening sqlite database %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	tag TEXT NOT NULL,
	version TEXT NOT NULL,
	document BLOB NOT NULL,
	PRIMARY KEY (tag, version)
);
CREATE TABLE IF NOT EXISTS commits (
	digest TEXT PRIMARY KEY,
	document BLOB NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: creating schema in %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) FetchDocument(ctx context.Context, ref vm.Reference) (vm.Value, error) {
	var data []byte
	var err error
	if ref.IsDraft() {
		row := s.db.QueryRowContext(ctx, `SELECT document FROM drafts WHERE tag = ? AND version = ?`, ref.RefTag, ref.Version)
		err = row.Scan(&data)
	} else {
		row := s.db.QueryRowContext(ctx, `SELECT document FROM commits WHERE digest = ?`, ref.Digest)
		err = row.Scan(&data)
	}
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository: no document for %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: fetching %s: %w", ref, err)
	}
	return vm.UnmarshalValue(data)
}

func (s *SQLite) SaveDraft(ctx context.Context, ref vm.Reference, doc vm.Value) error {
	data, err := vm.MarshalValue(doc)
	if err != nil {
		return fmt.Errorf("repository: encoding draft %s: %w", ref, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (tag, version, document) VALUES (?, ?, ?)
		 ON CONFLICT(tag, version) DO UPDATE SET document = excluded.document`,
		ref.RefTag, ref.Version, data)
	if err != nil {
		return fmt.Errorf("repository: saving draft %s: %w", ref, err)
	}
	return nil
}

func (s *SQLite) CommitDocument(ctx context.Context, ref vm.Reference, doc vm.Value) (vm.Reference, error) {
	data, err := vm.MarshalValue(doc)
	if err != nil {
		return vm.Reference{}, fmt.Errorf("repository: encoding commit %s: %w", ref, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vm.Reference{}, fmt.Errorf("repository: beginning commit transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commits (digest, document) VALUES (?, ?) ON CONFLICT(digest) DO NOTHING`,
		digest, data); err != nil {
		return vm.Reference{}, fmt.Errorf("repository: committing %s: %w", ref, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE tag = ? AND version = ?`, ref.RefTag, ref.Version); err != nil {
		return vm.Reference{}, fmt.Errorf("repository: clearing draft for %s: %w", ref, err)
	}
	if err := tx.Commit(); err != nil {
		return vm.Reference{}, fmt.Errorf("repository: committing transaction for %s: %w", ref, err)
	}
	return vm.Reference{RefTag: ref.RefTag, Version: ref.Version, Digest: digest}, nil
}
