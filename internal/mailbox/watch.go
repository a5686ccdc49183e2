package mailbox

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher surfaces mailbox changes to readers that would otherwise poll.
// It coalesces bursts of file events into single notifications. Consumers
// must keep a polling fallback; the watcher is a latency optimization, not a
// correctness mechanism.
type Watcher struct {
	inner   *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
}

// NewWatcher watches the given directories. Returns an error only if the
// underlying watcher cannot be created; directories that cannot be added are
// skipped (they may not exist yet).
func NewWatcher(dirs ...string) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		_ = inner.Add(dir)
	}

	w := &Watcher{
		inner:   inner,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Changes returns a channel that receives a signal after mailbox files
// change. Signals are coalesced; one signal may cover many writes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.inner.Close()
}

func (w *Watcher) run() {
	// Debounce window: renames produce create+rename pairs per document.
	const quiet = 50 * time.Millisecond

	var pending bool
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case _, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if !pending {
				pending = true
				timer = time.NewTimer(quiet)
				fire = timer.C
			}
		case _, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			// Watch errors degrade to polling; nothing to do here.
		case <-fire:
			pending = false
			fire = nil
			timer = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}
