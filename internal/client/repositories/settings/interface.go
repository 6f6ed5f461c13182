package settings

import (
	"context"
	"time"
)

// Well-known keys.
const (
	KeyLastSyncTime = "last_sync_time"
	KeyLastError    = "last_sync_error"
	KeyPullCursor   = "entries_pull_cursor"
)

// Repository is a small key/value store for engine state that must survive
// restarts.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}
