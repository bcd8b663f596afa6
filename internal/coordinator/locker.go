// ABOUTME: Named exclusive locks shared across instances via per-key lock files
// ABOUTME: Advisory waiting/slow callbacks observe lock pressure without ever aborting work

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when a caller opted into an acquire deadline
// and the lock could not be taken in time. The default policy waits
// indefinitely and never produces this error.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// LockKey names one mutual-exclusion domain. No call site holds more than
// one key at a time, so deadlock is impossible by construction.
type LockKey string

const (
	// KeyMeta serializes chat metadata, group and hierarchy mutations.
	KeyMeta LockKey = "meta"
	// KeyGlobal serializes settings writes and destructive whole-store
	// operations against every other keyed operation.
	KeyGlobal LockKey = "global"
)

// KeyChatContent returns the per-chat content lock key. Content and
// metadata use separate keys so editing one chat never blocks another.
func KeyChatContent(chatID string) LockKey {
	return LockKey("chat-content:" + chatID)
}

// LockOptions tune the advisory callbacks. Both thresholds are purely
// observational; lock holders are never cancelled for being slow, because
// some operations (large migrations) are legitimately slow.
type LockOptions struct {
	// WaitingThreshold fires OnWaiting once acquisition has blocked this
	// long. Zero disables the callback.
	WaitingThreshold time.Duration
	// SlowThreshold fires OnSlow once the held task has run this long.
	// Zero disables the callback.
	SlowThreshold time.Duration
	// AcquireTimeout, when set, bounds acquisition and surfaces
	// ErrLockTimeout. Zero means wait indefinitely.
	AcquireTimeout time.Duration

	OnWaiting func(key LockKey)
	OnSlow    func(key LockKey)
}

// Locker serializes tasks by named key.
type Locker interface {
	// WithLock runs fn while holding the exclusive lock for key.
	WithLock(ctx context.Context, key LockKey, fn func(ctx context.Context) error) error
}

// lockRetryInterval is how often a blocked file-lock acquisition retries.
const lockRetryInterval = 25 * time.Millisecond

// FileLocker implements Locker with one lock file per key, giving true
// mutual exclusion among writers in different processes. Within one
// process, a per-key mutex serializes requests in arrival order before the
// file lock is taken.
type FileLocker struct {
	dir    string
	opts   LockOptions
	logger *slog.Logger

	mu    sync.Mutex
	local map[LockKey]*sync.Mutex
}

// NewFileLocker creates a locker storing lock files under dir.
func NewFileLocker(dir string, opts LockOptions, logger *slog.Logger) (*FileLocker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &FileLocker{
		dir:    dir,
		opts:   opts,
		logger: logger.With("component", "locker"),
		local:  make(map[LockKey]*sync.Mutex),
	}, nil
}

// lockPath maps a key to its lock file, sanitizing separators.
func (l *FileLocker) lockPath(key LockKey) string {
	name := strings.NewReplacer(":", "-", "/", "-", "\\", "-").Replace(string(key))
	return filepath.Join(l.dir, name+".lock")
}

func (l *FileLocker) localMutex(key LockKey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.local[key]
	if !ok {
		m = &sync.Mutex{}
		l.local[key] = m
	}
	return m
}

// WithLock implements Locker.
func (l *FileLocker) WithLock(ctx context.Context, key LockKey, fn func(ctx context.Context) error) error {
	local := l.localMutex(key)
	local.Lock()
	defer local.Unlock()

	fl := flock.New(l.lockPath(key))
	if err := l.acquire(ctx, key, fl); err != nil {
		return err
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			l.logger.Warn("releasing lock failed", "key", string(key), "error", err)
		}
	}()

	return l.runHeld(ctx, key, fn)
}

// acquire takes the file lock, firing the waiting callback when blocked
// past the threshold.
func (l *FileLocker) acquire(ctx context.Context, key LockKey, fl *flock.Flock) error {
	acquireCtx := ctx
	if l.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, l.opts.AcquireTimeout)
		defer cancel()
	}

	var waitingTimer *time.Timer
	if l.opts.WaitingThreshold > 0 && l.opts.OnWaiting != nil {
		waitingTimer = time.AfterFunc(l.opts.WaitingThreshold, func() {
			l.logger.Info("waiting on lock", "key", string(key))
			l.opts.OnWaiting(key)
		})
		defer waitingTimer.Stop()
	}

	ok, err := fl.TryLockContext(acquireCtx, lockRetryInterval)
	if err != nil {
		if acquireCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: key %s", ErrLockTimeout, key)
		}
		return fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("acquiring lock %s: not acquired", key)
	}
	return nil
}

// runHeld runs fn with the slow-task advisory timer armed.
func (l *FileLocker) runHeld(ctx context.Context, key LockKey, fn func(ctx context.Context) error) error {
	if l.opts.SlowThreshold > 0 && l.opts.OnSlow != nil {
		slowTimer := time.AfterFunc(l.opts.SlowThreshold, func() {
			l.logger.Info("lock held longer than slow threshold", "key", string(key))
			l.opts.OnSlow(key)
		})
		defer slowTimer.Stop()
	}
	return fn(ctx)
}

// NoopLocker runs tasks unsynchronized, for hosts without a usable lock
// primitive. This is a documented gap, not a silently patched one: callers
// on such hosts get no cross-instance exclusion.
type NoopLocker struct{}

// WithLock implements Locker by calling fn directly.
func (NoopLocker) WithLock(ctx context.Context, key LockKey, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
