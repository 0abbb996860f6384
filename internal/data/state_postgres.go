package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

const (
	postgresStateTable     = "relay_state"
	postgresStateKey       = "default"
	postgresBackupKey      = postgresStateKey + ".backup"
	postgresOperationLimit = 5 * time.Second
	// Arbitrary application-wide advisory lock id for state writes
	postgresStateLockID = 0x72656c6179
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

var errAdvisoryLockBusy = errors.New("advisory lock busy")

// PostgresStateRepo stores the relay state document in a single JSONB row.
// Writes are serialized with a transaction-scoped advisory lock; readers see
// whole rows only, so no read lock is needed.
type PostgresStateRepo struct {
	dsn          string
	pollInterval time.Duration
	lockPolicy   retry.Policy
	openDB       sqlOpenFunc
	backup       func(ctx context.Context, payload string) error
	log          zerolog.Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStateRepo creates a Postgres state repository; the connection is opened lazily
func NewPostgresStateRepo(dsn string, pollInterval time.Duration, lockPolicy retry.Policy, log zerolog.Logger) (*PostgresStateRepo, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	r := &PostgresStateRepo{
		dsn:          dsn,
		pollInterval: pollInterval,
		lockPolicy:   lockPolicy,
		openDB:       sql.Open,
		log:          log,
	}
	r.backup = r.moveToBackup
	return r, nil
}

// Load reads the stored document, a missing row yields a fresh state.
// A document that no longer decodes is moved to the backup row and a fresh state returned.
func (r *PostgresStateRepo) Load(ctx context.Context) (*domain.RelayState, error) {
	if err := r.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationLimit)
	defer cancel()

	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot::text FROM `+postgresStateTable+` WHERE state_key = $1`, postgresStateKey,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewRelayState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return r.restore(ctx, payload)
}

// restore decodes payload, quarantining it when it does not decode
func (r *PostgresStateRepo) restore(ctx context.Context, payload string) (*domain.RelayState, error) {
	state, err := decodeState([]byte(payload))
	if err == nil {
		return state, nil
	}
	// JSONB rejects invalid JSON on write, so this only happens on schema drift
	if backupErr := r.backup(ctx, payload); backupErr != nil {
		return nil, fmt.Errorf("failed to quarantine corrupted state: %w", backupErr)
	}
	r.log.Error().Err(err).
		Str("key", postgresStateKey).
		Str("backup", postgresBackupKey).
		Msg("Relay state corrupted, moved aside and starting fresh")
	return domain.NewRelayState(), nil
}

// moveToBackup copies the document to the backup row and deletes it, unless a
// writer replaced it after payload was read
func (r *PostgresStateRepo) moveToBackup(ctx context.Context, payload string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+postgresStateTable+` (state_key, snapshot, updated_at)
		SELECT $2, snapshot, NOW() FROM `+postgresStateTable+`
		WHERE state_key = $1 AND snapshot::text = $3
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		postgresStateKey, postgresBackupKey, payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM `+postgresStateTable+` WHERE state_key = $1 AND snapshot::text = $2`,
		postgresStateKey, payload)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Save upserts the document inside a transaction holding the advisory lock.
// A busy lock is retried per the lock policy.
func (r *PostgresStateRepo) Save(ctx context.Context, state *domain.RelayState) error {
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := r.ensureReady(ctx); err != nil {
		return err
	}

	policy := r.lockPolicy
	policy.Retryable = func(err error) bool { return errors.Is(err, errAdvisoryLockBusy) }
	err = retry.Do(ctx, policy, func(int) error {
		return r.save(ctx, payload)
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("%w: advisory lock %d after %d attempts", ErrLockTimeout, postgresStateLockID, exhausted.Attempts)
	}
	return err
}

func (r *PostgresStateRepo) save(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationLimit)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state transaction: %w", err)
	}
	defer tx.Rollback()

	var locked bool
	if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, postgresStateLockID).Scan(&locked); err != nil {
		return fmt.Errorf("failed to lock state: %w", err)
	}
	if !locked {
		return errAdvisoryLockBusy
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+postgresStateTable+` (state_key, snapshot, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		postgresStateKey, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return tx.Commit()
}

// Watch polls updated_at and calls onChange when it moves
func (r *PostgresStateRepo) Watch(ctx context.Context, onChange func()) error {
	if err := r.ensureReady(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var updated time.Time
			err := r.db.QueryRowContext(ctx,
				`SELECT updated_at FROM `+postgresStateTable+` WHERE state_key = $1`, postgresStateKey,
			).Scan(&updated)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				r.log.Warn().Err(err).Msg("Failed to poll state version")
				continue
			}
			if !updated.Equal(last) {
				last = updated
				onChange()
			}
		}
	}
}

// Close closes the database connection
func (r *PostgresStateRepo) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PostgresStateRepo) ensureReady(ctx context.Context) error {
	r.initOnce.Do(func() {
		db, err := r.openDB("postgres", r.dsn)
		if err != nil {
			r.initErr = fmt.Errorf("failed to open postgres: %w", err)
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresOperationLimit)
		defer cancel()

		_, err = db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS `+postgresStateTable+` (
				state_key TEXT PRIMARY KEY,
				snapshot JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`)
		if err != nil {
			_ = db.Close()
			r.initErr = fmt.Errorf("failed to create state table: %w", err)
			return
		}
		r.db = db
	})
	return r.initErr
}
