package client

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/itiky/chatsync/cache"
	"github.com/itiky/chatsync/model"
	"github.com/itiky/chatsync/storage"
)

type (
	// HistoryCursor is the page boundary: BeforeTs for model.HistoryBackward, Since for model.HistoryForward.
	HistoryCursor struct {
		BeforeTs float64
		Since    model.Revision
	}

	// HistoryPage is a deduplicated history page.
	HistoryPage struct {
		Direction model.HistoryDirection
		// Messages absent in the live state and in the previous pages
		Messages []model.Message
		HasMore  bool
		// Pagination cursor for model.HistoryForward
		Revision model.Revision
		// Number of duplicates dropped
		Duplicates int
		// Oldest timestamp of the page as received, duplicates included
		OldestTs float64
	}

	// HistoryFetcher requests history pages merging them with the live state without duplicates.
	// A direction with no more pages is exhausted until Invalidate.
	HistoryFetcher struct {
		sync.Mutex
		// Config
		transport Transport
		tracker   *storage.Tracker
		cache     cache.HistoryCache
		pageLimit int
		// State
		generation int
		exhausted  map[model.HistoryDirection]bool
		seen       map[string]bool
	}
)

// NextCursor returns the cursor to request the page following this one in the same direction.
func (p HistoryPage) NextCursor(prev HistoryCursor) HistoryCursor {
	next := prev
	switch p.Direction {
	case model.HistoryBackward:
		// A page made of duplicates only still moves the cursor
		if p.OldestTs > 0 {
			next.BeforeTs = p.OldestTs
			break
		}
		for _, msg := range p.Messages {
			if next.BeforeTs == 0 || msg.Timestamp < next.BeforeTs {
				next.BeforeTs = msg.Timestamp
			}
		}
	case model.HistoryForward:
		if !p.Revision.IsZero() {
			next.Since = p.Revision
		}
	}

	return next
}

// FetchPage requests a page. Transport and decoding failures are returned as *RetryableError.
// The live state is only read, it is never modified.
func (f *HistoryFetcher) FetchPage(ctx context.Context, cursor HistoryCursor, direction model.HistoryDirection) (HistoryPage, error) {
	if !direction.Valid() {
		return HistoryPage{}, fmt.Errorf("%s: unknown (%s)", "direction", direction)
	}

	f.Lock()
	if f.exhausted[direction] {
		f.Unlock()
		return HistoryPage{}, ErrHistoryExhausted
	}
	generation := f.generation
	f.Unlock()

	authToken, pageID := f.tracker.Credentials()
	req := model.HistoryRequest{
		Direction: direction,
		BeforeTs:  cursor.BeforeTs,
		Since:     cursor.Since,
		Limit:     f.pageLimit,
		AuthToken: authToken,
		PageID:    pageID,
	}
	if err := req.Validate(); err != nil {
		return HistoryPage{}, fmt.Errorf("request validation: %w", err)
	}

	opStart := time.Now()
	raw, cached, err := f.request(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return HistoryPage{}, ctxErr
		}
		monitor.HistoryFailed()
		return HistoryPage{}, &RetryableError{Op: "history", Err: err}
	}

	data, err := model.DecodeHistoryResponse(raw)
	if err != nil {
		monitor.HistoryFailed()
		return HistoryPage{}, &RetryableError{Op: "history decode", Err: err}
	}
	if !cached {
		f.cacheSet(ctx, req, raw)
	}

	page := HistoryPage{
		Direction: direction,
		Messages:  make([]model.Message, 0, len(data.Messages)),
		HasMore:   data.HasMore,
		Revision:  data.Revision,
	}

	f.Lock()
	defer f.Unlock()

	// Invalidated while the request was in flight: the page is still valid for the caller,
	// but must not affect the new context
	current := generation == f.generation

	for _, msg := range data.Messages {
		if msg.Timestamp > 0 && (page.OldestTs == 0 || msg.Timestamp < page.OldestTs) {
			page.OldestTs = msg.Timestamp
		}

		msgID := msg.ID.String()
		// The live copy is always newer than the history one
		if f.tracker.HasMessage(msgID) || (current && f.seen[msgID]) {
			page.Duplicates++
			continue
		}
		if current {
			f.seen[msgID] = true
		}
		page.Messages = append(page.Messages, msg)
	}
	if current && !page.HasMore {
		f.exhausted[direction] = true
	}

	monitor.HistoryReceived(len(page.Messages), time.Since(opStart))

	return page, nil
}

// Exhausted checks if the direction has no more pages.
func (f *HistoryFetcher) Exhausted(direction model.HistoryDirection) bool {
	f.Lock()
	defer f.Unlock()

	return f.exhausted[direction]
}

// Invalidate resets the pagination state (the session context has been replaced) and drops the cached pages of scopes.
func (f *HistoryFetcher) Invalidate(ctx context.Context, scopes ...string) {
	f.Lock()
	f.generation++
	f.exhausted = make(map[model.HistoryDirection]bool)
	f.seen = make(map[string]bool)
	f.Unlock()

	if f.cache == nil {
		return
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if err := f.cache.Invalidate(ctx, scope); err != nil {
			log.Printf("HistoryFetcher: cache invalidation (%s): %v", scope, err)
		}
	}
}

// request reads the page from the cache falling back to the Transport.
func (f *HistoryFetcher) request(ctx context.Context, req model.HistoryRequest) ([]byte, bool, error) {
	if f.cache != nil {
		if scope := f.tracker.SessionID(); scope != "" {
			raw, found, err := f.cache.Get(ctx, scope, historyCacheKey(req))
			if err != nil {
				log.Printf("HistoryFetcher: cache read: %v", err)
			}
			if found {
				return raw, true, nil
			}
		}
	}

	raw, err := f.transport.History(ctx, req)

	return raw, false, err
}

func (f *HistoryFetcher) cacheSet(ctx context.Context, req model.HistoryRequest, raw []byte) {
	if f.cache == nil {
		return
	}
	scope := f.tracker.SessionID()
	if scope == "" {
		return
	}

	if err := f.cache.Set(ctx, scope, historyCacheKey(req), raw); err != nil {
		log.Printf("HistoryFetcher: cache write: %v", err)
	}
}

func historyCacheKey(req model.HistoryRequest) string {
	switch req.Direction {
	case model.HistoryForward:
		return fmt.Sprintf("%s:%s:%d", req.Direction, req.Since, req.Limit)
	default:
		return fmt.Sprintf("%s:%s:%d", req.Direction, strconv.FormatFloat(req.BeforeTs, 'f', -1, 64), req.Limit)
	}
}

// NewHistoryFetcher creates a new HistoryFetcher object, historyCache is optional.
func NewHistoryFetcher(transport Transport, tracker *storage.Tracker, historyCache cache.HistoryCache, pageLimit int) (*HistoryFetcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("%s: nil", "transport")
	}
	if tracker == nil {
		return nil, fmt.Errorf("%s: nil", "tracker")
	}
	if pageLimit <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "pageLimit")
	}

	return &HistoryFetcher{
		transport: transport,
		tracker:   tracker,
		cache:     historyCache,
		pageLimit: pageLimit,
		exhausted: make(map[model.HistoryDirection]bool),
		seen:      make(map[string]bool),
	}, nil
}
