// Package store provides a SQLite-backed reference implementation of
// internal/sync.Store: one table holding every collection's records as
// an opaque JSON blob plus the bookkeeping (class, server id, client
// id, dirty flag) the Sync driver's ApplyBatch/PendingChanges/
// MarkSynced cycle needs. It is deliberately collection-agnostic — the
// record shape is whatever internal/email, internal/contacts, or
// internal/calendar hand it, round-tripped through a RecordDecoder
// registered per class.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/easync/internal/sync"
)

// RecordDecoder reconstructs a collection-specific record (an
// *email.Message, *contacts.Record, *calendar.Event, ...) from the
// JSON bytes Store persisted for it. CollectionCodec implementations
// register one of these per class so ApplyBatch and PendingChanges can
// stay generic rather than switching on collection class themselves.
type RecordDecoder func(data []byte) (any, error)

// Store persists Sync ChangeBatch entries across exchanges. All public
// methods are safe for concurrent use; ApplyBatch commits an entire
// batch atomically, matching spec.md's requirement that a partially
// applied batch never be observable.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	decoders map[string]RecordDecoder
}

// NewStore creates a record store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, logger: logger, decoders: make(map[string]RecordDecoder)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// RegisterCollection associates a collection class with the decoder
// used to reconstruct its records from stored JSON. Must be called
// once per class before PendingChanges is used for that class.
func (s *Store) RegisterCollection(class string, decode RecordDecoder) {
	s.decoders[class] = decode
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
			class      TEXT NOT NULL,
			server_id  TEXT NOT NULL DEFAULT '',
			client_id  TEXT NOT NULL DEFAULT '',
			data       BLOB NOT NULL,
			dirty      INTEGER NOT NULL DEFAULT 0,
			deleted_at TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_records_server
			ON records(class, server_id) WHERE server_id != '';
		CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(class, dirty);
	`)
	return err
}

// Stage queues a locally originated change for upsync: a new record
// (serverID empty, clientID set), an edit to a known record (serverID
// set), or a deletion (op == sync.OpDelete). It marks the row dirty so
// the next PendingChanges call for this collection picks it up.
func (s *Store) Stage(ctx context.Context, class string, op sync.ChangeOp, serverID, clientID string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("stage: marshal record: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var deletedAt sql.NullString
	if op == sync.OpDelete {
		deletedAt = sql.NullString{String: now, Valid: true}
	}

	if serverID == "" {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO records (class, server_id, client_id, data, dirty, deleted_at, updated_at)
			VALUES (?, '', ?, ?, 1, ?, ?)
		`, class, clientID, data, deletedAt, now)
		if err != nil {
			return fmt.Errorf("stage: insert: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET data = ?, dirty = 1, deleted_at = ?, updated_at = ?
		WHERE class = ? AND server_id = ?
	`, data, deletedAt, now, class, serverID)
	if err != nil {
		return fmt.Errorf("stage: update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO records (class, server_id, client_id, data, dirty, deleted_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
		`, class, serverID, clientID, data, deletedAt, now)
		if err != nil {
			return fmt.Errorf("stage: insert on missing update target: %w", err)
		}
	}
	return nil
}

// ApplyBatch implements sync.Store. Adds are matched back to a
// previously staged local row via ClientID when present (resolving the
// server's assigned ServerID onto it); otherwise each entry is applied
// as a fresh insert, update, or row delete keyed by ServerID.
func (s *Store) ApplyBatch(ctx context.Context, batch *sync.ChangeBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply batch: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	class := batch.Collection.Class
	now := time.Now().UTC().Format(time.RFC3339)

	for _, e := range batch.Entries {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("apply batch: marshal %s entry: %w", e.Op, err)
		}

		switch e.Op {
		case sync.OpDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE class = ? AND server_id = ?`,
				class, e.ServerID); err != nil {
				return fmt.Errorf("apply batch: delete %s: %w", e.ServerID, err)
			}

		case sync.OpAdd:
			if e.ClientID != "" {
				res, err := tx.ExecContext(ctx, `
					UPDATE records SET server_id = ?, data = ?, dirty = 0, updated_at = ?
					WHERE class = ? AND client_id = ? AND server_id = ''
				`, e.ServerID, data, now, class, e.ClientID)
				if err != nil {
					return fmt.Errorf("apply batch: resolve client id %s: %w", e.ClientID, err)
				}
				if affected, _ := res.RowsAffected(); affected > 0 {
					continue
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO records (class, server_id, client_id, data, dirty, updated_at)
				VALUES (?, ?, ?, ?, 0, ?)
				ON CONFLICT(class, server_id) WHERE server_id != ''
				DO UPDATE SET data = excluded.data, dirty = 0, updated_at = excluded.updated_at
			`, class, e.ServerID, e.ClientID, data, now); err != nil {
				return fmt.Errorf("apply batch: add %s: %w", e.ServerID, err)
			}

		case sync.OpChange, sync.OpFetch:
			res, err := tx.ExecContext(ctx, `
				UPDATE records SET data = ?, dirty = 0, updated_at = ?
				WHERE class = ? AND server_id = ?
			`, data, now, class, e.ServerID)
			if err != nil {
				return fmt.Errorf("apply batch: %s %s: %w", e.Op, e.ServerID, err)
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO records (class, server_id, client_id, data, dirty, updated_at)
					VALUES (?, ?, '', ?, 0, ?)
				`, class, e.ServerID, data, now); err != nil {
					return fmt.Errorf("apply batch: insert on missing %s %s: %w", e.Op, e.ServerID, err)
				}
			}
		}
	}

	return tx.Commit()
}

// Wipe implements sync.Store: delete every row for a collection class.
// Used when the server reports an invalid sync key — the only valid
// recovery is to discard local state and restart from a clean
// baseline.
func (s *Store) Wipe(ctx context.Context, collection sync.Collection) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE class = ?`, collection.Class); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	return nil
}

// LookupRecord implements sync.RecordLookup: fetch the current stored
// record for one server id, decoded via the class's registered
// RecordDecoder. Returns (nil, nil) if no such row exists.
func (s *Store) LookupRecord(ctx context.Context, class, serverID string) (any, error) {
	decode, ok := s.decoders[class]
	if !ok {
		return nil, fmt.Errorf("lookup record: no decoder registered for class %q", class)
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM records WHERE class = ? AND server_id = ? AND deleted_at IS NULL
	`, class, serverID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup record: query: %w", err)
	}
	return decode(data)
}

// PendingChanges implements sync.Store.
func (s *Store) PendingChanges(ctx context.Context, collection sync.Collection) (*sync.ChangeBatch, error) {
	decode, ok := s.decoders[collection.Class]
	if !ok {
		return nil, fmt.Errorf("pending changes: no decoder registered for class %q", collection.Class)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, client_id, data, deleted_at
		FROM records
		WHERE class = ? AND dirty = 1
		ORDER BY rowid
	`, collection.Class)
	if err != nil {
		return nil, fmt.Errorf("pending changes: query: %w", err)
	}
	defer rows.Close()

	batch := &sync.ChangeBatch{Collection: collection}
	for rows.Next() {
		var serverID, clientID string
		var data []byte
		var deletedAt sql.NullString
		if err := rows.Scan(&serverID, &clientID, &data, &deletedAt); err != nil {
			return nil, fmt.Errorf("pending changes: scan: %w", err)
		}

		op := sync.OpChange
		switch {
		case deletedAt.Valid:
			op = sync.OpDelete
		case serverID == "":
			op = sync.OpAdd
		}

		var record any
		if op != sync.OpDelete {
			record, err = decode(data)
			if err != nil {
				return nil, fmt.Errorf("pending changes: decode %s: %w", serverID, err)
			}
		}

		batch.Entries = append(batch.Entries, sync.ChangeEntry{
			Op:       op,
			ServerID: serverID,
			ClientID: clientID,
			Data:     record,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}

	return batch, nil
}

// MarkSynced implements sync.Store. Deletes are removed outright now
// that the server has acknowledged them; everything else just has its
// dirty flag cleared.
func (s *Store) MarkSynced(ctx context.Context, batch *sync.ChangeBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark synced: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	class := batch.Collection.Class
	for _, e := range batch.Entries {
		if e.Op == sync.OpDelete {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE class = ? AND server_id = ?`,
				class, e.ServerID); err != nil {
				return fmt.Errorf("mark synced: delete %s: %w", e.ServerID, err)
			}
			continue
		}

		id := e.ServerID
		col, val := "server_id", id
		if id == "" {
			col, val = "client_id", e.ClientID
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE records SET dirty = 0 WHERE class = ? AND %s = ?
		`, col), class, val); err != nil {
			return fmt.Errorf("mark synced: clear dirty %s: %w", val, err)
		}
	}

	return tx.Commit()
}
