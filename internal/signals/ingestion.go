package signals

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"tradebridge/internal/metrics"
	"tradebridge/internal/types"
)

const (
	maxSeen    = 1000
	retainSeen = 500
	maxReparse = 5
)

// ApprovalSink is the single operation the ingestion loop needs from
// the approval state machine — declared locally so this package
// doesn't depend on approval's full surface.
type ApprovalSink interface {
	Enqueue(types.Signal)
}

// Loop owns the journal path's fsnotify watch, its own "seen" id set,
// and the coarser polling backup pass. It is the only owner of that
// set: no other goroutine touches it.
type Loop struct {
	path          string
	debounce      time.Duration
	checkInterval time.Duration

	sink    ApprovalSink
	logger  zerolog.Logger
	metrics *metrics.Metrics

	seen  map[string]struct{}
	order []string // insertion order, for the eviction rule
}

// New constructs a Loop. Call Run to start watching; Run blocks until
// ctx is cancelled.
func New(path string, debounce, checkInterval time.Duration, sink ApprovalSink, logger zerolog.Logger, m *metrics.Metrics) *Loop {
	return &Loop{
		path:          path,
		debounce:      debounce,
		checkInterval: checkInterval,
		sink:          sink,
		logger:        logger.With().Str("component", "signal_ingestion").Logger(),
		metrics:       m,
		seen:          make(map[string]struct{}),
	}
}

// Run watches the journal's parent directory for changes to path,
// debounces bursts, and additionally polls every checkInterval as a
// backup against missed filesystem events. It returns when ctx is
// cancelled or the watcher cannot be established.
func (l *Loop) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		l.logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch journal directory, relying on polling only")
	}

	l.processOnce()

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	pollTicker := time.NewTicker(l.checkInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if !matchesJournal(event.Name, l.path) {
				continue
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(l.debounce)
				debounceC = debounceTimer.C
			} else {
				debounceTimer.Reset(l.debounce)
			}

		case <-debounceC:
			debounceTimer = nil
			debounceC = nil
			l.processOnce()

		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			l.logger.Warn().Err(err).Msg("journal watcher error")

		case <-pollTicker.C:
			l.processOnce()
		}
	}
}

// processOnce reads the journal, retries on parse failure up to
// maxReparse, and ingests any entries not already in seen.
func (l *Loop) processOnce() {
	var entries []journalEntry
	var err error

	for attempt := 0; attempt < maxReparse; attempt++ {
		entries, err = readJournal(l.path)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		l.metrics.JournalErrors.Inc()
		l.logger.Warn().Err(err).Msg("journal read/parse failed after retries")
		return
	}

	for _, entry := range entries {
		if entry.SignalID == "" {
			continue
		}
		if _, ok := l.seen[entry.SignalID]; ok {
			continue
		}

		sig, verr := entry.validate()
		if verr != nil {
			l.metrics.SignalsInvalid.Inc()
			l.logger.Warn().Err(verr).Str("signal_id", entry.SignalID).Msg("journal entry failed validation")
			l.markSeen(entry.SignalID)
			continue
		}

		sig.ReceivedAt = time.Now()
		l.markSeen(entry.SignalID)
		l.metrics.SignalsIngested.Inc()
		l.sink.Enqueue(sig)
	}
}

// markSeen records id as seen, evicting down to the most recent
// retainSeen ids once the set exceeds maxSeen.
func (l *Loop) markSeen(id string) {
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.order) <= maxSeen {
		return
	}
	drop := l.order[:len(l.order)-retainSeen]
	for _, old := range drop {
		delete(l.seen, old)
	}
	l.order = l.order[len(l.order)-retainSeen:]
}

func matchesJournal(eventPath, journalPath string) bool {
	return filepath.Clean(eventPath) == filepath.Clean(journalPath)
}
