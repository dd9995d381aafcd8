// Package store is the sole authority on durable state: buckets, the file
// queue, and service state. Every mutation goes through one of the
// functions below under the store's write mutex, so the claim-exclusivity
// and ledger-fidelity invariants hold under concurrent callers in this
// process. Operations that touch several rows issue one statement per
// row rather than one transaction, so a crash partway through leaves the
// rows already written in place.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moisa13/file-copy/internal/ledger"
	"github.com/moisa13/file-copy/internal/logging"
	"github.com/moisa13/file-copy/internal/model"
	"github.com/moisa13/file-copy/pkg/bucketerrors"
)

// Open opens the sqlite database at path. It does not migrate it; call
// Init on the returned handle for that.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One writer at a time is the discipline sqlite wants anyway; the
	// Store additionally serializes its own writes with mu so the
	// ledger update and the row mutation land together.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Store is the Queue Store. mu serializes every write transaction with
// its matching ledger mutation, so readers of the ledger never observe a
// state the durable rows haven't reached yet.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	ledger *ledger.Ledger
	log    logging.Logger

	folderCacheMu sync.Mutex
	folderCache   map[int64]folderCacheEntry
	folderTTL     time.Duration
}

type folderCacheEntry struct {
	at    time.Time
	stats map[string]map[model.EntryStatus]model.StatusCounts
}

// New opens the store's tables (via Init, which must already have run on
// db), runs the crash-recovery sweep, and rebuilds the stats ledger from
// ground truth. folderTTL is the short TTL used by FolderStatsCached.
func New(db *sql.DB, log logging.Logger, folderTTL time.Duration) (*Store, error) {
	if log == nil {
		log = logging.NewNop()
	}

	s := &Store{
		db:          db,
		ledger:      ledger.New(),
		log:         log,
		folderCache: make(map[int64]folderCacheEntry),
		folderTTL:   folderTTL,
	}

	if err := s.recoverCrashed(); err != nil {
		return nil, fmt.Errorf("store: crash recovery: %w", err)
	}
	if err := s.rebuildLedger(); err != nil {
		return nil, fmt.Errorf("store: rebuild ledger: %w", err)
	}

	return s, nil
}

// recoverCrashed reverts every surviving in_progress row to pending,
// clearing worker ownership. Run once at startup.
func (s *Store) recoverCrashed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE file_queue
		SET status = ?, worker_id = '', started_at = NULL, claim_until = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = ?`,
		string(model.EntryPending), string(model.EntryInProgress),
	)
	if err != nil {
		return fmt.Errorf("recover in_progress rows: %w", err)
	}
	return nil
}

// rebuildLedger reloads the ledger from a GROUP BY over file_queue. Safe
// to call any time; under steady state it is a no-op relative to the
// ledger's own incremental bookkeeping.
func (s *Store) rebuildLedger() error {
	rows, err := s.db.Query(`
		SELECT bucket_id, status, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM file_queue
		GROUP BY bucket_id, status`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var out []ledger.Row
	for rows.Next() {
		var r ledger.Row
		var statusStr string
		if err := rows.Scan(&r.BucketID, &statusStr, &r.Count, &r.TotalSize); err != nil {
			return err
		}
		r.Status = model.EntryStatus(statusStr)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.ledger.Rebuild(out)
	return nil
}

// Reconcile is the externally-triggerable re-sync of the ledger against
// ground truth.
func (s *Store) Reconcile() error {
	return s.rebuildLedger()
}

// ---- Buckets ----

// CreateBucket inserts a new bucket in the stopped state.
func (s *Store) CreateBucket(name string, sourceRoots []string, destination string, workerCount int) (model.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sourcesJSON, err := json.Marshal(sourceRoots)
	if err != nil {
		return model.Bucket{}, fmt.Errorf("store: marshal source_folders: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO buckets (name, source_folders, destination_folder, worker_count, status)
		VALUES (?, ?, ?, ?, ?)`,
		name, string(sourcesJSON), destination, workerCount, string(model.BucketStopped),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return model.Bucket{}, bucketerrors.ErrDuplicateBucketName
		}
		return model.Bucket{}, fmt.Errorf("store: insert bucket: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Bucket{}, fmt.Errorf("store: last insert id: %w", err)
	}

	return s.getBucketLocked(id)
}

// GetBucket fetches a single bucket by id.
func (s *Store) GetBucket(id int64) (model.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBucketLocked(id)
}

func (s *Store) getBucketLocked(id int64) (model.Bucket, error) {
	row := s.db.QueryRow(`
		SELECT id, name, source_folders, destination_folder, worker_count, status, created_at, updated_at
		FROM buckets WHERE id = ?`, id)
	return scanBucket(row)
}

func scanBucket(row *sql.Row) (model.Bucket, error) {
	var b model.Bucket
	var sourcesJSON, statusStr, createdAt, updatedAt string

	err := row.Scan(&b.ID, &b.Name, &sourcesJSON, &b.Destination, &b.WorkerCount, &statusStr, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return model.Bucket{}, bucketerrors.ErrBucketNotFound
	}
	if err != nil {
		return model.Bucket{}, fmt.Errorf("scan bucket: %w", err)
	}

	if err := json.Unmarshal([]byte(sourcesJSON), &b.SourceRoots); err != nil {
		return model.Bucket{}, fmt.Errorf("unmarshal source_folders: %w", err)
	}
	b.Status = model.BucketStatus(statusStr)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return b, nil
}

// ListBuckets returns every bucket, ordered by id.
func (s *Store) ListBuckets() ([]model.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, name, source_folders, destination_folder, worker_count, status, created_at, updated_at
		FROM buckets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list buckets: %w", err)
	}
	defer rows.Close()

	var out []model.Bucket
	for rows.Next() {
		var b model.Bucket
		var sourcesJSON, statusStr, createdAt, updatedAt string
		if err := rows.Scan(&b.ID, &b.Name, &sourcesJSON, &b.Destination, &b.WorkerCount, &statusStr, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan bucket: %w", err)
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &b.SourceRoots); err != nil {
			return nil, fmt.Errorf("store: unmarshal source_folders: %w", err)
		}
		b.Status = model.BucketStatus(statusStr)
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBucketSources changes a bucket's source roots and destination.
// Only valid while the bucket's persisted status is stopped.
func (s *Store) UpdateBucketSources(id int64, sourceRoots []string, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.getBucketLocked(id)
	if err != nil {
		return err
	}
	if b.Status != model.BucketStopped {
		return bucketerrors.ErrSchedulerRunning
	}

	sourcesJSON, err := json.Marshal(sourceRoots)
	if err != nil {
		return fmt.Errorf("store: marshal source_folders: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE buckets SET source_folders = ?, destination_folder = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(sourcesJSON), destination, id)
	if err != nil {
		return fmt.Errorf("store: update bucket sources: %w", err)
	}
	return nil
}

// UpdateBucketWorkerCount changes the worker cap live.
func (s *Store) UpdateBucketWorkerCount(id int64, workerCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE buckets SET worker_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, workerCount, id)
	if err != nil {
		return fmt.Errorf("store: update worker count: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return bucketerrors.ErrBucketNotFound
	}
	return nil
}

// UpdateBucketStatus persists a scheduler's operational status so it
// survives restarts.
func (s *Store) UpdateBucketStatus(id int64, status model.BucketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE buckets SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("store: update bucket status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return bucketerrors.ErrBucketNotFound
	}
	return nil
}

// DeleteBucket removes a bucket and cascades to its queue rows (the
// schema's ON DELETE CASCADE) and to the ledger's entries for it.
// Requires the bucket's persisted status to be stopped.
func (s *Store) DeleteBucket(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.getBucketLocked(id)
	if err != nil {
		return err
	}
	if b.Status != model.BucketStopped {
		return bucketerrors.ErrSchedulerRunning
	}

	if _, err := s.db.Exec(`DELETE FROM buckets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete bucket: %w", err)
	}

	s.ledger.DropBucket(id)
	s.invalidateFolderCache(id)
	return nil
}

// ---- Queue entries ----

// NewEntry is the pre-insert shape of a queue row, as produced by the
// (out-of-scope) filesystem scanner.
type NewEntry struct {
	SourcePath      string
	SourceFolder    string
	RelativePath    string
	DestinationPath string
	FileSize        int64
}

// InsertMany bulk-inserts rows for bucketID, deduplicating on the
// (source_path, destination_path, bucket_id) uniqueness triple. Returns
// the count of rows actually added.
func (s *Store) InsertMany(bucketID int64, rows []NewEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, r := range rows {
		res, err := s.db.Exec(`
			INSERT OR IGNORE INTO file_queue
				(bucket_id, source_path, source_folder, relative_path, destination_path, file_size, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bucketID, r.SourcePath, r.SourceFolder, r.RelativePath, r.DestinationPath, r.FileSize, string(model.EntryPending),
		)
		if err != nil {
			return added, fmt.Errorf("store: insert queue row: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 1 {
			added++
			s.ledger.Add(bucketID, model.EntryPending, 1, r.FileSize)
		}
	}

	if added > 0 {
		s.invalidateFolderCache(bucketID)
	}

	return added, nil
}

// FastPathResult reports how InsertManyFastPath disposed of each row.
type FastPathResult struct {
	Added         int
	FastCompleted int
}

// InsertManyFastPath is the opt-in scanner mode: a same-size pre-existing
// destination is inserted directly as completed, skipping the worker's
// hash check. existsSameSize is supplied
// by the caller (normally backed by os.Stat) so this package stays free
// of filesystem access.
func (s *Store) InsertManyFastPath(bucketID int64, rows []NewEntry, existsSameSize func(destPath string, size int64) bool) (FastPathResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out FastPathResult
	for _, r := range rows {
		if existsSameSize != nil && existsSameSize(r.DestinationPath, r.FileSize) {
			res, err := s.db.Exec(`
				INSERT OR IGNORE INTO file_queue
					(bucket_id, source_path, source_folder, relative_path, destination_path, file_size, status, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
				bucketID, r.SourcePath, r.SourceFolder, r.RelativePath, r.DestinationPath, r.FileSize, string(model.EntryCompleted),
			)
			if err != nil {
				return out, fmt.Errorf("store: fast-path insert: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				out.FastCompleted++
				s.ledger.Add(bucketID, model.EntryCompleted, 1, r.FileSize)
			}
			continue
		}

		res, err := s.db.Exec(`
			INSERT OR IGNORE INTO file_queue
				(bucket_id, source_path, source_folder, relative_path, destination_path, file_size, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bucketID, r.SourcePath, r.SourceFolder, r.RelativePath, r.DestinationPath, r.FileSize, string(model.EntryPending),
		)
		if err != nil {
			return out, fmt.Errorf("store: insert queue row: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			out.Added++
			s.ledger.Add(bucketID, model.EntryPending, 1, r.FileSize)
		}
	}

	if out.Added > 0 || out.FastCompleted > 0 {
		s.invalidateFolderCache(bucketID)
	}

	return out, nil
}

// Claim selects up to limit rows for bucketID (optionally scoped to
// folder), ordered ascending by id, and atomically transitions each one
// to in_progress stamped with workerID and a fresh claim_until lease.
// A candidate row is either pending, or in_progress with an expired
// lease: the latter is how a stale claim left behind by a worker that
// died without crashing the whole process gets reclaimed without
// waiting for a restart's crash-recovery sweep. Rows stolen by a
// concurrent Claim are skipped silently; only the rows that actually
// transitioned are returned.
func (s *Store) Claim(bucketID int64, folder string, limit int, workerID string, lease time.Duration) ([]model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, source_path, source_folder, relative_path, destination_path, file_size, status
		FROM file_queue
		WHERE bucket_id = ?
		AND (
			(status = ? AND (next_run_at IS NULL OR next_run_at <= CURRENT_TIMESTAMP))
			OR (status = ? AND claim_until IS NOT NULL AND claim_until <= CURRENT_TIMESTAMP)
		)`
	args := []any{bucketID, string(model.EntryPending), string(model.EntryInProgress)}

	if folder != "" {
		query += ` AND source_folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: fetch claimable rows: %w", err)
	}

	type candidate struct {
		id                                      int64
		sourcePath, sourceFolder, relativePath  string
		destinationPath                         string
		fileSize                                int64
		fromStatus                              string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.sourcePath, &c.sourceFolder, &c.relativePath, &c.destinationPath, &c.fileSize, &c.fromStatus); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan claimable row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	leaseOffset := sqliteOffset(lease)

	var claimed []model.QueueEntry
	for _, c := range candidates {
		res, err := s.db.Exec(`
			UPDATE file_queue
			SET status = ?, worker_id = ?, started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP,
				claim_until = datetime('now', ?)
			WHERE id = ? AND status = ?`,
			string(model.EntryInProgress), workerID, leaseOffset, c.id, c.fromStatus,
		)
		if err != nil {
			return claimed, fmt.Errorf("store: claim row %d: %w", c.id, err)
		}
		n, _ := res.RowsAffected()
		if n != 1 {
			// Stolen or removed between select and update: skip silently.
			continue
		}

		if c.fromStatus == string(model.EntryPending) {
			s.ledger.Move(bucketID, model.EntryPending, model.EntryInProgress, c.fileSize)
		}

		claimed = append(claimed, model.QueueEntry{
			ID:              c.id,
			BucketID:        bucketID,
			SourcePath:      c.sourcePath,
			SourceFolder:    c.sourceFolder,
			RelativePath:    c.relativePath,
			DestinationPath: c.destinationPath,
			FileSize:        c.fileSize,
			Status:          model.EntryInProgress,
			WorkerID:        workerID,
		})
	}

	if len(claimed) > 0 {
		s.invalidateFolderCache(bucketID)
	}

	return claimed, nil
}

// sqliteOffset formats lease as a datetime('now', ?) offset modifier. A
// non-positive lease disables expiry-based reclaim entirely: it binds
// NULL, so datetime() yields NULL, claim_until stays NULL, and only the
// startup crash-recovery sweep reverts the row.
func sqliteOffset(lease time.Duration) any {
	if lease <= 0 {
		return nil
	}
	return fmt.Sprintf("+%d seconds", int(lease.Seconds()))
}

// Outcome is the terminal disposition the scheduler passes to Commit,
// translated from a copier.Result.
type Outcome struct {
	Status          model.EntryStatus
	SourceHash      string
	DestinationHash string
	ErrorMessage    string
}

// Commit sets a claimed row's terminal status plus hash/error fields. It
// reads the row's current status and bucket id atomically (a single
// SELECT under the store's write lock) so the ledger delta is correct,
// then performs the guarded UPDATE.
func (s *Store) Commit(entryID int64, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bucketID int64
	var fileSize int64
	var fromStatus string
	err := s.db.QueryRow(`SELECT bucket_id, file_size, status FROM file_queue WHERE id = ?`, entryID).
		Scan(&bucketID, &fileSize, &fromStatus)
	if err == sql.ErrNoRows {
		return bucketerrors.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read entry %d: %w", entryID, err)
	}

	var query string
	var args []any
	if outcome.Status == model.EntryError {
		// Read the row's current attempt count so the backoff delay
		// grows with repeated failures.
		var attempts int
		if err := s.db.QueryRow(`SELECT attempts FROM file_queue WHERE id = ?`, entryID).Scan(&attempts); err != nil {
			return fmt.Errorf("store: read attempts for %d: %w", entryID, err)
		}
		attempts++
		delaySeconds := 1 << minInt(attempts, 10)

		query = `
			UPDATE file_queue
			SET status = ?, source_hash = ?, destination_hash = ?, error_message = ?,
			    attempts = ?, next_run_at = datetime('now', ?), claim_until = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?`
		args = []any{
			string(outcome.Status), nullIfEmpty(outcome.SourceHash), nullIfEmpty(outcome.DestinationHash),
			nullIfEmpty(outcome.ErrorMessage), attempts, fmt.Sprintf("+%d seconds", delaySeconds), entryID, fromStatus,
		}
	} else {
		query = `
			UPDATE file_queue
			SET status = ?, source_hash = ?, destination_hash = ?, error_message = ?,
			    completed_at = CURRENT_TIMESTAMP, claim_until = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?`
		args = []any{
			string(outcome.Status), nullIfEmpty(outcome.SourceHash), nullIfEmpty(outcome.DestinationHash),
			nullIfEmpty(outcome.ErrorMessage), entryID, fromStatus,
		}
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("store: commit entry %d: %w", entryID, err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return fmt.Errorf("store: commit entry %d: status changed concurrently", entryID)
	}

	s.ledger.Move(bucketID, model.EntryStatus(fromStatus), outcome.Status, fileSize)
	s.invalidateFolderCache(bucketID)

	return nil
}

// ConflictAction is the operator-directed resolution for a conflict row.
type ConflictAction string

const (
	ActionOverwrite ConflictAction = "overwrite"
	ActionSkip      ConflictAction = "skip"
)

// ResolveConflict applies action to the conflict row (bucketID, entryID).
// overwrite -> pending (clearing the destination hash so the worker
// re-copies); skip -> completed. Fails silently (no error) if the row is
// not currently in conflict.
func (s *Store) ResolveConflict(bucketID, entryID int64, action ConflictAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveConflictLocked(bucketID, entryID, action)
}

func (s *Store) resolveConflictLocked(bucketID, entryID int64, action ConflictAction) error {
	var fileSize int64
	err := s.db.QueryRow(`
		SELECT file_size FROM file_queue WHERE id = ? AND bucket_id = ? AND status = ?`,
		entryID, bucketID, string(model.EntryConflict)).Scan(&fileSize)
	if err == sql.ErrNoRows {
		return nil // not in conflict: silent no-op per spec
	}
	if err != nil {
		return fmt.Errorf("store: read conflict row %d: %w", entryID, err)
	}

	var to model.EntryStatus
	var clearDestHash bool
	switch action {
	case ActionOverwrite:
		to = model.EntryPending
		clearDestHash = true
	case ActionSkip:
		to = model.EntryCompleted
	default:
		return fmt.Errorf("store: unrecognized conflict action %q", action)
	}

	query := `UPDATE file_queue SET status = ?, updated_at = CURRENT_TIMESTAMP`
	if clearDestHash {
		query += `, destination_hash = NULL`
	}
	if to == model.EntryCompleted {
		query += `, completed_at = CURRENT_TIMESTAMP`
	}
	query += ` WHERE id = ? AND bucket_id = ? AND status = ?`

	res, err := s.db.Exec(query, string(to), entryID, bucketID, string(model.EntryConflict))
	if err != nil {
		return fmt.Errorf("store: resolve conflict %d: %w", entryID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil
	}

	s.ledger.Move(bucketID, model.EntryConflict, to, fileSize)
	s.invalidateFolderCache(bucketID)
	return nil
}

// ResolveConflictsBulk applies action to every conflict row, optionally
// scoped to one bucket. Returns the number resolved.
func (s *Store) ResolveConflictsBulk(bucketID *int64, action ConflictAction) (int, error) {
	s.mu.Lock()
	ids, err := s.conflictIDsLocked(bucketID)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		bID := id.bucketID
		if err := s.ResolveConflict(bID, id.entryID, action); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type scopedID struct {
	bucketID, entryID int64
}

func (s *Store) conflictIDsLocked(bucketID *int64) ([]scopedID, error) {
	query := `SELECT id, bucket_id FROM file_queue WHERE status = ?`
	args := []any{string(model.EntryConflict)}
	if bucketID != nil {
		query += ` AND bucket_id = ?`
		args = append(args, *bucketID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list conflict rows: %w", err)
	}
	defer rows.Close()

	var out []scopedID
	for rows.Next() {
		var sid scopedID
		if err := rows.Scan(&sid.entryID, &sid.bucketID); err != nil {
			return nil, err
		}
		out = append(out, sid)
	}
	return out, rows.Err()
}

// RetryError transitions one error row (scoped to bucketID as a
// defense-in-depth check against cross-bucket entry IDs) back to pending.
// Silent no-op if the row is not currently in error.
func (s *Store) RetryError(bucketID, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryErrorLocked(bucketID, entryID)
}

func (s *Store) retryErrorLocked(bucketID, entryID int64) error {
	var fileSize int64
	err := s.db.QueryRow(`
		SELECT file_size FROM file_queue WHERE id = ? AND bucket_id = ? AND status = ?`,
		entryID, bucketID, string(model.EntryError)).Scan(&fileSize)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read error row %d: %w", entryID, err)
	}

	res, err := s.db.Exec(`
		UPDATE file_queue
		SET status = ?, error_message = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND bucket_id = ? AND status = ?`,
		string(model.EntryPending), entryID, bucketID, string(model.EntryError),
	)
	if err != nil {
		return fmt.Errorf("store: retry error row %d: %w", entryID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil
	}

	s.ledger.Move(bucketID, model.EntryError, model.EntryPending, fileSize)
	s.invalidateFolderCache(bucketID)
	return nil
}

// RetryErrorsBulk transitions every error row, optionally scoped to one
// bucket, back to pending. Returns the number retried.
func (s *Store) RetryErrorsBulk(bucketID *int64) (int, error) {
	s.mu.Lock()
	query := `SELECT id, bucket_id FROM file_queue WHERE status = ?`
	args := []any{string(model.EntryError)}
	if bucketID != nil {
		query += ` AND bucket_id = ?`
		args = append(args, *bucketID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("store: list error rows: %w", err)
	}
	var ids []scopedID
	for rows.Next() {
		var sid scopedID
		if err := rows.Scan(&sid.entryID, &sid.bucketID); err != nil {
			rows.Close()
			s.mu.Unlock()
			return 0, err
		}
		ids = append(ids, sid)
	}
	closeErr := rows.Close()
	s.mu.Unlock()
	if closeErr != nil {
		return 0, closeErr
	}

	n := 0
	for _, id := range ids {
		if err := s.RetryError(id.bucketID, id.entryID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ---- Stats ----

// Stats returns the ledger snapshot for one bucket. O(1).
func (s *Store) Stats(bucketID int64) map[model.EntryStatus]model.StatusCounts {
	return s.ledger.Stats(bucketID)
}

// GlobalStats returns the ledger's global snapshot. O(1).
func (s *Store) GlobalStats() map[model.EntryStatus]model.StatusCounts {
	return s.ledger.GlobalStats()
}

// LedgerForMetrics exposes the underlying ledger to the metrics
// exporter, which only ever reads snapshots through its public methods.
func (s *Store) LedgerForMetrics() *ledger.Ledger {
	return s.ledger
}

// ---- Folder views ----

// FolderActiveCounts returns pending/in_progress counts per source
// folder for bucketID, used by the scheduler to pick the next folder to
// drain index).
func (s *Store) FolderActiveCounts(bucketID int64) (map[string]model.FolderCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT source_folder, status, COUNT(*)
		FROM file_queue
		WHERE bucket_id = ? AND status IN (?, ?)
		GROUP BY source_folder, status`,
		bucketID, string(model.EntryPending), string(model.EntryInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("store: folder active counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.FolderCounts)
	for rows.Next() {
		var folder, statusStr string
		var count int
		if err := rows.Scan(&folder, &statusStr, &count); err != nil {
			return nil, err
		}
		fc := out[folder]
		switch model.EntryStatus(statusStr) {
		case model.EntryPending:
			fc.Pending = count
		case model.EntryInProgress:
			fc.InProgress = count
		}
		out[folder] = fc
	}
	return out, rows.Err()
}

// FolderStatsCached returns a per-folder breakdown by status for
// bucketID, cached with the store's folderTTL to absorb operator-driven
// polling.
func (s *Store) FolderStatsCached(bucketID int64) (map[string]map[model.EntryStatus]model.StatusCounts, error) {
	s.folderCacheMu.Lock()
	if entry, ok := s.folderCache[bucketID]; ok && time.Since(entry.at) < s.folderTTL {
		s.folderCacheMu.Unlock()
		return entry.stats, nil
	}
	s.folderCacheMu.Unlock()

	stats, err := s.computeFolderStats(bucketID)
	if err != nil {
		return nil, err
	}

	s.folderCacheMu.Lock()
	s.folderCache[bucketID] = folderCacheEntry{at: time.Now(), stats: stats}
	s.folderCacheMu.Unlock()

	return stats, nil
}

func (s *Store) computeFolderStats(bucketID int64) (map[string]map[model.EntryStatus]model.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT source_folder, status, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM file_queue
		WHERE bucket_id = ?
		GROUP BY source_folder, status`, bucketID)
	if err != nil {
		return nil, fmt.Errorf("store: compute folder stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[model.EntryStatus]model.StatusCounts)
	for rows.Next() {
		var folder, statusStr string
		var count, total int64
		if err := rows.Scan(&folder, &statusStr, &count, &total); err != nil {
			return nil, err
		}
		if out[folder] == nil {
			out[folder] = make(map[model.EntryStatus]model.StatusCounts)
		}
		out[folder][model.EntryStatus(statusStr)] = model.StatusCounts{Count: count, TotalSize: total}
	}
	return out, rows.Err()
}

func (s *Store) invalidateFolderCache(bucketID int64) {
	s.folderCacheMu.Lock()
	delete(s.folderCache, bucketID)
	s.folderCacheMu.Unlock()
}

// ---- helpers ----

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
