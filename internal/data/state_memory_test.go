package data

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

func TestMemoryStateRepo_LoadReturnsPrivateCopy(t *testing.T) {
	repo := NewMemoryStateRepo()
	ctx := context.Background()

	if err := repo.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first, _ := repo.Load(ctx)
	first.Conversations["iMessage;-;+15551234"].Cursor = 1000

	second, _ := repo.Load(ctx)
	if second.Conversations["iMessage;-;+15551234"].Cursor != 42 {
		t.Errorf("Expected stored cursor 42, got %d", second.Conversations["iMessage;-;+15551234"].Cursor)
	}
}

func TestMemoryStateRepo_WatchFiresOnSave(t *testing.T) {
	repo := NewMemoryStateRepo()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	go repo.Watch(ctx, func() { changed <- struct{}{} })

	deadline := time.After(2 * time.Second)
	for {
		_ = repo.Save(ctx, sampleState())
		select {
		case <-changed:
			return
		case <-deadline:
			t.Fatal("Expected watch callback")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewStateRepo(t *testing.T) {
	dir := t.TempDir()
	policy := retry.FixedPolicy(10, time.Millisecond)

	tests := []struct {
		name    string
		opts    StateOptions
		check   func(t *testing.T, r interface{})
		wantErr bool
	}{
		{
			name: "empty dsn uses path",
			opts: StateOptions{Path: filepath.Join(dir, "a.json"), LockPolicy: policy},
			check: func(t *testing.T, r interface{}) {
				fr, ok := r.(*FileStateRepo)
				if !ok || fr.Path() != filepath.Join(dir, "a.json") {
					t.Errorf("Expected file repo at a.json, got %#v", r)
				}
			},
		},
		{
			name: "file scheme",
			opts: StateOptions{DSN: "file://" + filepath.Join(dir, "b.json"), LockPolicy: policy},
			check: func(t *testing.T, r interface{}) {
				fr, ok := r.(*FileStateRepo)
				if !ok || fr.Path() != filepath.Join(dir, "b.json") {
					t.Errorf("Expected file repo at b.json, got %#v", r)
				}
			},
		},
		{
			name: "memory",
			opts: StateOptions{DSN: "memory://"},
			check: func(t *testing.T, r interface{}) {
				if _, ok := r.(*MemoryStateRepo); !ok {
					t.Errorf("Expected memory repo, got %T", r)
				}
			},
		},
		{
			name: "postgres",
			opts: StateOptions{DSN: "postgres://relay@localhost/relay?sslmode=disable"},
			check: func(t *testing.T, r interface{}) {
				if _, ok := r.(*PostgresStateRepo); !ok {
					t.Errorf("Expected postgres repo, got %T", r)
				}
			},
		},
		{
			name:    "unsupported",
			opts:    StateOptions{DSN: "redis://localhost"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewStateRepo(tt.opts, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tt.check(t, r)
		})
	}
}
