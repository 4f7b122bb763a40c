package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/itiky/chatsync/cache"
	"github.com/itiky/chatsync/checkpoint"
	"github.com/itiky/chatsync/model"
	"github.com/itiky/chatsync/storage"
)

type (
	// Listener receives session change notifications in application order.
	// Listeners are called on the syncing goroutine and must not block for long.
	Listener func(event storage.ChangeEvent)

	// CheckpointStore persists the session state between runs.
	CheckpointStore interface {
		Save(key string, cp checkpoint.Checkpoint) error
		Load(key string) (checkpoint.Checkpoint, bool, error)
	}

	// SessionOptions keeps optional Session settings, zero values are replaced with defaults.
	SessionOptions struct {
		// Max number of polls per second
		PollRate rate.Limit
		// Retry backoff bounds
		BackoffMin time.Duration
		BackoffMax time.Duration
		// Number of messages per history page
		HistoryPageLimit int
		// Persisted state storage (optional)
		Checkpoints CheckpointStore
		// Raw history page cache (optional)
		HistoryCache cache.HistoryCache
	}

	// Session keeps a visitor chat session in sync with the server:
	// polls deltas, applies them to the local state and notifies listeners.
	Session struct {
		sync.Mutex
		// Config
		name      string
		opts      SessionOptions
		transport Transport
		limiter   *rate.Limiter
		// State
		tracker   *storage.Tracker
		history   *HistoryFetcher
		polling   atomic.Bool
		closed    atomic.Bool
		listeners map[int]Listener
		listenSeq int
		// Sent messages (client-side id) not yet received back with a delta
		pending map[string]bool
		//
		stopCh chan struct{}
		doneCh chan struct{}
	}
)

// String implements the stringer interface.
func (s *Session) String() string {
	return fmt.Sprintf("Session (%s)", s.name)
}

// CurrentSnapshot returns the current state copy.
func (s *Session) CurrentSnapshot() *storage.Snapshot {
	return s.tracker.Snapshot()
}

// CurrentCursor returns the revision the next poll is sent with.
func (s *Session) CurrentCursor() (model.Revision, bool) {
	return s.tracker.CurrentCursor()
}

// Subscribe registers a listener, the returned func unregisters it.
func (s *Session) Subscribe(l Listener) func() {
	s.Lock()
	defer s.Unlock()

	s.listenSeq++
	id := s.listenSeq
	s.listeners[id] = l

	return func() {
		s.Lock()
		defer s.Unlock()

		delete(s.listeners, id)
	}
}

// Sync performs a single poll cycle: poll, decode, apply and notify.
// Transport and decoding failures are returned as *RetryableError leaving the state untouched,
// the next cycle is sent with the same cursor.
func (s *Session) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.polling.CompareAndSwap(false, true) {
		return ErrPollInFlight
	}
	defer s.polling.Store(false)

	cursor, _ := s.tracker.CurrentCursor()
	authToken, pageID := s.tracker.Credentials()
	req := model.DeltaRequest{
		Since:     cursor,
		AuthToken: authToken,
		PageID:    pageID,
	}

	opStart := time.Now()
	raw, err := s.transport.Poll(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		monitor.SyncFailed("transport")
		return &RetryableError{Op: "poll", Err: err}
	}

	resp, err := model.DecodeDeltaResponse(raw)
	if err != nil {
		monitor.SyncFailed("malformed")
		return &RetryableError{Op: "decode", Err: err}
	}

	// Cancelled cycle must not be committed
	if err := ctx.Err(); err != nil {
		return err
	}

	prevSessionID := s.tracker.SessionID()
	res := s.tracker.ApplyResponse(resp)
	opDur := time.Since(opStart)

	if res.Reset {
		s.history.Invalidate(context.WithoutCancel(ctx), prevSessionID, s.tracker.SessionID())
		log.Printf("%s: [%v] full update received: revision %s", s.String(), opDur, res.Revision)
	}
	if res.Skipped > 0 {
		log.Printf("%s: revision %s: %d items skipped", s.String(), res.Revision, res.Skipped)
	}
	monitor.SyncCommitted(res.Applied, res.Skipped, len(raw), res.Reset, opDur)

	s.saveCheckpoint()
	s.matchPending(res.Events)
	s.emit(res.Events)

	return nil
}

// Run repeats Sync until the context is cancelled or a non retryable error occurs.
// Polls are paced by the rate limiter, retryable failures are retried with an exponential backoff.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.opts.BackoffMin
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		err := s.Sync(ctx)
		switch {
		case err == nil:
			backoff = s.opts.BackoffMin
			continue
		case errors.Is(err, ErrPollInFlight):
			continue
		case !IsRetryable(err):
			return err
		}

		log.Printf("%s: sync failed (retry in %v): %v", s.String(), backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > s.opts.BackoffMax {
			backoff = s.opts.BackoffMax
		}
	}
}

// RequestHistoryPage requests a history page (see HistoryFetcher.FetchPage).
func (s *Session) RequestHistoryPage(ctx context.Context, cursor HistoryCursor, direction model.HistoryDirection) (HistoryPage, error) {
	if s.closed.Load() {
		return HistoryPage{}, ErrSessionClosed
	}

	return s.history.FetchPage(ctx, cursor, direction)
}

// Resume restores the persisted state (if any) and notifies listeners with a session reset.
// The bool result is false if there is nothing to restore.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	if s.opts.Checkpoints == nil {
		return false, nil
	}
	if s.closed.Load() {
		return false, ErrSessionClosed
	}
	if !s.polling.CompareAndSwap(false, true) {
		return false, ErrPollInFlight
	}
	defer s.polling.Store(false)

	cp, found, err := s.opts.Checkpoints.Load(s.name)
	if err != nil {
		return false, fmt.Errorf("loading checkpoint: %w", err)
	}
	if !found {
		return false, nil
	}

	snapshot := storage.NewSnapshotFromFullUpdate(cp.State)
	s.tracker.Restore(cp.Revision, snapshot)
	s.history.Invalidate(ctx, snapshot.SessionID)

	log.Printf("%s: resumed from revision %s (saved at %s): %d messages", s.String(), cp.Revision, cp.SavedAt.Format(time.RFC3339), snapshot.MessagesCount())
	s.emit([]storage.ChangeEvent{storage.ResetEvent(snapshot)})

	return true, nil
}

// Start starts the Session worker.
func (s *Session) Start() {
	s.Lock()
	defer s.Unlock()

	if s.stopCh != nil || s.closed.Load() {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	monitor.Start()
	go s.worker(s.stopCh, s.doneCh)
}

// Stop stops the Session worker and closes the Session.
func (s *Session) Stop() {
	s.Lock()
	if s.closed.Load() {
		s.Unlock()
		return
	}
	s.closed.Store(true)
	stopCh, doneCh := s.stopCh, s.doneCh
	s.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
		monitor.Stop()
	}
}

// worker does the actual job.
func (s *Session) worker(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	log.Printf("%s: start", s.String())
	log.Printf("%s: pollRate:   %v", s.String(), s.opts.PollRate)
	log.Printf("%s: backoff:    %v - %v", s.String(), s.opts.BackoffMin, s.opts.BackoffMax)
	log.Printf("%s: pageLimit:  %d", s.String(), s.opts.HistoryPageLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSessionClosed) {
		log.Printf("%s: sync loop: %v", s.String(), err)
	}
	log.Printf("%s: stop", s.String())
}

// emit notifies listeners in the subscription order.
func (s *Session) emit(events []storage.ChangeEvent) {
	if len(events) == 0 {
		return
	}

	s.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.Unlock()

	for _, event := range events {
		for _, l := range listeners {
			l(event)
		}
	}
}

// saveCheckpoint persists the committed state.
func (s *Session) saveCheckpoint() {
	if s.opts.Checkpoints == nil {
		return
	}

	rev, snapshot := s.tracker.State()
	cp := checkpoint.Checkpoint{
		Revision: rev,
		State:    snapshot.ExportFullUpdate(),
		SavedAt:  time.Now(),
	}
	if err := s.opts.Checkpoints.Save(s.name, cp); err != nil {
		log.Printf("%s: saving checkpoint: %v", s.String(), err)
	}
}

// NewSession creates a new Session object, name is also used as the checkpoint key.
func NewSession(name string, transport Transport, opts SessionOptions) (*Session, error) {
	const (
		defPollRate         = rate.Limit(10)
		defBackoffMin       = 250 * time.Millisecond
		defBackoffMax       = 30 * time.Second
		defHistoryPageLimit = 100
	)

	if name == "" {
		return nil, fmt.Errorf("%s: empty", "name")
	}
	if transport == nil {
		return nil, fmt.Errorf("%s: nil", "transport")
	}

	if opts.PollRate <= 0 {
		opts.PollRate = defPollRate
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = defBackoffMin
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defBackoffMax
	}
	if opts.BackoffMax < opts.BackoffMin {
		return nil, fmt.Errorf("%s: must be GTE %s", "BackoffMax", "BackoffMin")
	}
	if opts.HistoryPageLimit <= 0 {
		opts.HistoryPageLimit = defHistoryPageLimit
	}

	tracker := storage.NewTracker()
	history, err := NewHistoryFetcher(transport, tracker, opts.HistoryCache, opts.HistoryPageLimit)
	if err != nil {
		return nil, fmt.Errorf("history fetcher: %w", err)
	}

	return &Session{
		name:      name,
		opts:      opts,
		transport: transport,
		limiter:   rate.NewLimiter(opts.PollRate, 1),
		tracker:   tracker,
		history:   history,
		listeners: make(map[int]Listener),
		pending:   make(map[string]bool),
	}, nil
}
