package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

const watchDebounce = 50 * time.Millisecond

// FileStateRepo stores the relay state as a JSON document guarded by flock(2).
// Readers take a shared lock, the writer an exclusive one, both on a sibling
// lock file so the lock survives the atomic rename of the document itself.
type FileStateRepo struct {
	path       string
	lockPath   string
	lockPolicy retry.Policy
	log        zerolog.Logger
}

// NewFileStateRepo creates a file state repository at path
func NewFileStateRepo(path string, lockPolicy retry.Policy, log zerolog.Logger) (*FileStateRepo, error) {
	if path == "" {
		return nil, errors.New("state path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateRepo{
		path:       abs,
		lockPath:   abs + ".lock",
		lockPolicy: lockPolicy,
		log:        log,
	}, nil
}

// Path returns the state document path
func (r *FileStateRepo) Path() string {
	return r.path
}

// BackupPath returns where a corrupted document is quarantined
func (r *FileStateRepo) BackupPath() string {
	return r.path + ".backup"
}

// Load reads the state under a shared lock.
// A corrupted document is quarantined under an exclusive lock and a fresh state returned.
func (r *FileStateRepo) Load(ctx context.Context) (*domain.RelayState, error) {
	unlock, err := r.lock(ctx, unix.LOCK_SH)
	if err != nil {
		return nil, err
	}
	state, raw, err := r.read()
	unlock()
	if err == nil {
		return state, nil
	}
	if raw == nil {
		return nil, err
	}

	// Re-check under the exclusive lock: the writer may have replaced the document meanwhile
	unlock, lockErr := r.lock(ctx, unix.LOCK_EX)
	if lockErr != nil {
		return nil, lockErr
	}
	defer unlock()

	state, raw, err = r.read()
	if err == nil {
		return state, nil
	}
	if raw == nil {
		return nil, err
	}
	if renameErr := os.Rename(r.path, r.BackupPath()); renameErr != nil {
		return nil, fmt.Errorf("failed to quarantine corrupted state: %w", renameErr)
	}
	r.log.Error().Err(err).
		Str("path", r.path).
		Str("backup", r.BackupPath()).
		Msg("Relay state corrupted, moved aside and starting fresh")
	return domain.NewRelayState(), nil
}

// read returns the parsed state, or the raw bytes alongside a decode error
func (r *FileStateRepo) read() (*domain.RelayState, []byte, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewRelayState(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read state: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, data, errors.New("state document is empty")
	}
	state, err := decodeState(data)
	if err != nil {
		return nil, data, fmt.Errorf("failed to decode state: %w", err)
	}
	return state, nil, nil
}

// Save atomically replaces the document under an exclusive lock
func (r *FileStateRepo) Save(ctx context.Context, state *domain.RelayState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	unlock, err := r.lock(ctx, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	if err := writeFileAtomic(r.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Watch reports changes to the document made by any process.
// The directory is watched since the document is replaced by rename.
func (r *FileStateRepo) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(watchDebounce)
		case <-debounce:
			debounce = nil
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("State watcher error")
		}
	}
}

// Close is a no-op, locks are only held for the duration of a call
func (r *FileStateRepo) Close() error {
	return nil
}

// lock acquires a flock of the given kind with bounded non-blocking retries
func (r *FileStateRepo) lock(ctx context.Context, how int) (func(), error) {
	f, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open state lock: %w", err)
	}

	policy := r.lockPolicy
	policy.Retryable = func(err error) bool {
		return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
	}
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("State lock busy, retrying")
	}

	err = retry.Do(ctx, policy, func(int) error {
		return unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	})
	if err != nil {
		f.Close()
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, r.lockPath, exhausted.Attempts)
		}
		return nil, fmt.Errorf("failed to lock state: %w", err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// writeFileAtomic writes data to a temp file in the same directory, fsyncs it,
// renames it over path and fsyncs the directory
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
