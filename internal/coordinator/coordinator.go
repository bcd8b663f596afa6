// ABOUTME: Coordinator ties named locking to the dual-channel change broadcast
// ABOUTME: One instance per process; Publish fans out in-process and through the shared key

package coordinator

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/emberchat/ember/internal/model"
)

// Options configure a Coordinator.
type Options struct {
	// DataDir is the application data root; locks and the shared event
	// key live in subdirectories of it.
	DataDir string
	// Lock tunes the advisory callbacks and the optional acquire timeout.
	Lock LockOptions
	// Logger is optional.
	Logger *slog.Logger
}

// Coordinator provides the two cross-instance mechanisms the storage
// service needs: named exclusive locks and change-event broadcast over two
// parallel channels (in-process fan-out plus the watched shared key).
// Neither channel is reliable in every hosting context, which is exactly
// why both exist; subscribers are idempotent so duplicates are harmless.
type Coordinator struct {
	locker      Locker
	broadcaster *broadcaster
	notifier    *notifier
	logger      *slog.Logger
}

// New creates and starts a Coordinator rooted at opts.DataDir.
func New(opts Options) (*Coordinator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	locker, err := NewFileLocker(filepath.Join(opts.DataDir, "locks"), opts.Lock, logger)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(filepath.Join(opts.DataDir, "events"), logger)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		locker:      locker,
		broadcaster: newBroadcaster(logger),
		notifier:    notifier,
		logger:      logger.With("component", "coordinator"),
	}
	if err := notifier.watch(c.broadcaster.publish); err != nil {
		return nil, err
	}
	return c, nil
}

// WithLock runs fn while holding the named exclusive lock.
func (c *Coordinator) WithLock(ctx context.Context, key LockKey, fn func(ctx context.Context) error) error {
	return c.locker.WithLock(ctx, key, fn)
}

// Publish broadcasts a committed change through both channels. The shared
// key write is best-effort: its failure is logged, never propagated,
// because the mutation it describes has already committed.
func (c *Coordinator) Publish(event *model.ChangeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		c.logger.Error("refusing to publish invalid event", "error", err)
		return
	}
	if err := c.notifier.write(event); err != nil {
		c.logger.Warn("shared-key notify failed", "type", string(event.Type), "error", err)
	}
	c.broadcaster.publish(event)
}

// Subscribe registers for change events from both channels. The channel is
// closed when ctx is cancelled or the coordinator shuts down.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan *model.ChangeEvent {
	ch, _ := c.broadcaster.subscribe(ctx)
	return ch
}

// Close stops the watcher and closes all subscriptions.
func (c *Coordinator) Close() {
	c.notifier.close()
	c.broadcaster.close()
}
