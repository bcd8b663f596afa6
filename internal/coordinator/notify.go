// ABOUTME: Shared-key fallback change channel: events written to a watched file
// ABOUTME: Other instances observe the key with fsnotify even without a structured channel

package coordinator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/emberchat/ember/internal/fsutil"
	"github.com/emberchat/ember/internal/model"
)

const notifyFileName = "latest.json"

// notifier is the second broadcast channel: every published event is
// serialized into one shared, externally observable file. Instances watch
// the file with fsnotify and treat any change as "decode and dispatch".
// The channel is best-effort by design: a fast sequence of writes may
// overwrite an unobserved event, which costs a subscriber one refresh at
// most because subscribers are idempotent.
type notifier struct {
	dir    string
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	seq    uint64          // highest sequence this instance has written or seen
	mine   map[uint64]bool // sequences written by this instance, for echo suppression
	recent []uint64        // foreign sequences already delivered

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newNotifier(dir string, logger *slog.Logger) (*notifier, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating events directory: %w", err)
	}
	n := &notifier{
		dir:    dir,
		path:   filepath.Join(dir, notifyFileName),
		logger: logger.With("component", "notifier"),
		mine:   make(map[uint64]bool),
		done:   make(chan struct{}),
	}
	// Seed the sequence from whatever a previous instance left behind.
	if data, err := os.ReadFile(n.path); err == nil {
		if e, err := model.DecodeEvent(data); err == nil {
			n.seq = e.Seq
		}
	}
	return n, nil
}

// write publishes an event through the shared file. The stored sequence is
// bumped past anything seen so far; collisions between racing instances
// cost at most one missed refresh.
func (n *notifier) write(event *model.ChangeEvent) error {
	n.mu.Lock()
	n.seq++
	event.Seq = n.seq
	n.mine[event.Seq] = true
	// keep the echo set bounded
	if len(n.mine) > 1024 {
		for s := range n.mine {
			if s+1024 < n.seq {
				delete(n.mine, s)
			}
		}
	}
	n.mu.Unlock()

	data, err := model.EncodeEvent(event)
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(n.path, data, 0644)
}

// watch starts observing the shared file, delivering foreign events to
// deliver until stop is called.
func (n *notifier) watch(deliver func(*model.ChangeEvent)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: the atomic rename replaces the file inode, and
	// directory watches survive that.
	if err := w.Add(n.dir); err != nil {
		w.Close()
		return fmt.Errorf("watching events directory: %w", err)
	}
	n.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != notifyFileName {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
					continue
				}
				n.dispatch(deliver)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				n.logger.Warn("watcher error", "error", err)
			case <-n.done:
				return
			}
		}
	}()
	return nil
}

// dispatch reads the current shared event and delivers it unless this
// instance wrote it or already saw it.
func (n *notifier) dispatch(deliver func(*model.ChangeEvent)) {
	data, err := os.ReadFile(n.path)
	if err != nil {
		return
	}
	event, err := model.DecodeEvent(data)
	if err != nil {
		n.logger.Warn("malformed event in shared key", "error", err)
		return
	}

	n.mu.Lock()
	if n.mine[event.Seq] || event.Seq <= 0 {
		n.mu.Unlock()
		return
	}
	if event.Seq <= n.seq && !n.firstObservation(event.Seq) {
		n.mu.Unlock()
		return
	}
	if event.Seq > n.seq {
		n.seq = event.Seq
	}
	n.seen(event.Seq)
	n.mu.Unlock()

	deliver(event)
}

// seenSet tracks foreign sequences already delivered. Kept small; the
// channel only needs to suppress immediate duplicates from multiple
// fsnotify events for one write.
const seenWindow = 64

func (n *notifier) firstObservation(seq uint64) bool {
	for _, s := range n.recent {
		if s == seq {
			return false
		}
	}
	return true
}

func (n *notifier) seen(seq uint64) {
	n.recent = append(n.recent, seq)
	if len(n.recent) > seenWindow {
		n.recent = n.recent[len(n.recent)-seenWindow:]
	}
}

func (n *notifier) close() {
	close(n.done)
	if n.watcher != nil {
		n.watcher.Close()
	}
}
