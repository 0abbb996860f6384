package data

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

// StateOptions selects and configures a state backend
type StateOptions struct {
	Path         string // JSON document path used when DSN is empty
	DSN          string // file://path, memory://, postgres://...
	PollInterval time.Duration
	LockPolicy   retry.Policy
}

// NewStateRepo builds the state repository selected by the DSN scheme
func NewStateRepo(opts StateOptions, log zerolog.Logger) (repo.StateRepo, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return NewFileStateRepo(opts.Path, opts.LockPolicy, log)
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		path := dsn
		if parsed.Scheme != "" {
			path = parsed.Host + parsed.Path
		}
		if path == "" {
			path = opts.Path
		}
		return NewFileStateRepo(path, opts.LockPolicy, log)
	case "memory", "mem":
		return NewMemoryStateRepo(), nil
	case "postgres", "postgresql":
		return NewPostgresStateRepo(dsn, opts.PollInterval, opts.LockPolicy, log)
	default:
		return nil, fmt.Errorf("unsupported state backend %q", parsed.Scheme)
	}
}
