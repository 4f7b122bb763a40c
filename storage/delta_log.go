package storage

import (
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/itiky/chatsync/model"
)

type (
	// DeltaLog keeps the server side revision history alongside the latest state used to serve client requests.
	DeltaLog struct {
		sync.RWMutex
		applier *Applier
		// List of revisions, entries[0] is the base state
		entries []LogEntry
		// State at entries[0]
		base *Snapshot
		// Latest revision state
		snapshot *Snapshot
		// Message id -> revision of the last message change
		msgRevisions map[string]int64
		// Max number of messages included into a full update
		fullUpdateMsgLimit int
		// Closed and replaced on every new revision (long-poll wakeup)
		changedCh chan struct{}
	}

	// LogEntry is a single revision.
	LogEntry struct {
		Revision int64
		// Items to apply on the previous revision state in order to upgrade it
		Items []model.DeltaItem
	}
)

// Latest returns the latest revision.
func (l *DeltaLog) Latest() model.Revision {
	l.RLock()
	defer l.RUnlock()

	return l.latestRevision()
}

// Changed returns a channel closed once a new revision is added.
// The channel must be taken before reading the state it is waiting to change.
func (l *DeltaLog) Changed() <-chan struct{} {
	l.RLock()
	defer l.RUnlock()

	return l.changedCh
}

// AddRevision applies items to the latest state and adds a new revision.
// Items failing to apply are dropped from the revision.
func (l *DeltaLog) AddRevision(items ...model.DeltaItem) model.Revision {
	if len(items) == 0 {
		return l.Latest()
	}

	l.Lock()
	defer l.Unlock()

	newRevision := l.entries[len(l.entries)-1].Revision + 1

	applied := make([]model.DeltaItem, 0, len(items))
	for _, item := range items {
		if _, err := l.applier.Apply(l.snapshot, item); err != nil {
			log.Printf("DeltaLog: revision %d: item dropped: %v", newRevision, err)
			continue
		}
		if item.ObjectType == model.ObjectTypeChatMessage {
			l.msgRevisions[item.ID] = newRevision
		}
		applied = append(applied, item)
	}
	if len(applied) == 0 {
		return l.latestRevision()
	}

	l.entries = append(l.entries, LogEntry{
		Revision: newRevision,
		Items:    applied,
	})

	close(l.changedCh)
	l.changedCh = make(chan struct{})

	return l.latestRevision()
}

// DeltaSince returns the response for a client with the since revision.
// Unknown or empty since gets a full update. The bool result is false if there is nothing new for the client.
func (l *DeltaLog) DeltaSince(since model.Revision) (model.DeltaResponse, bool) {
	l.RLock()
	defer l.RUnlock()

	latest := l.entries[len(l.entries)-1].Revision
	resp := model.DeltaResponse{
		Revision: l.latestRevision(),
	}

	sinceIdx, ok := l.entryIdx(since)
	if !ok {
		fu := l.fullUpdate()
		resp.FullUpdate = &fu
		return resp, true
	}
	if l.entries[sinceIdx].Revision == latest {
		return resp, false
	}

	resp.DeltaList = make([]model.DeltaItem, 0)
	for i := sinceIdx + 1; i < len(l.entries); i++ {
		resp.DeltaList = append(resp.DeltaList, l.entries[i].Items...)
	}

	return resp, true
}

// FullUpdate returns the latest revision and the authoritative session state.
func (l *DeltaLog) FullUpdate() (model.Revision, model.FullUpdate) {
	l.RLock()
	defer l.RUnlock()

	return l.latestRevision(), l.fullUpdate()
}

// HistoryBefore returns up to limit latest messages with timestamp LT beforeTs (zero means no bound), oldest first.
// Messages sharing a timestamp are never split between pages (the page may exceed the limit),
// so the oldest timestamp of a page is a safe beforeTs for the next one.
func (l *DeltaLog) HistoryBefore(beforeTs float64, limit int) model.HistoryResponseData {
	l.RLock()
	defer l.RUnlock()

	list := l.snapshot.messages.list
	end := len(list)
	if beforeTs > 0 {
		end = sort.Search(len(list), func(i int) bool {
			return list[i].Timestamp >= beforeTs
		})
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
		for start > 0 && list[start-1].Timestamp == list[start].Timestamp {
			start--
		}
	}

	page := model.HistoryResponseData{
		Messages: make([]model.Message, 0, end-start),
		HasMore:  start > 0,
	}
	for _, msg := range list[start:end] {
		page.Messages = append(page.Messages, msg.Clone())
	}

	return page
}

// HistorySince returns messages changed after the since revision, in change order.
// A page never splits a revision unless a single revision exceeds the limit.
func (l *DeltaLog) HistorySince(since model.Revision, limit int) model.HistoryResponseData {
	l.RLock()
	defer l.RUnlock()

	sinceRev := int64(-1)
	if !since.IsZero() {
		v, err := strconv.ParseInt(since.String(), 10, 64)
		if err == nil {
			sinceRev = v
		}
	}

	type changedMsg struct {
		msg      *model.Message
		revision int64
	}
	changed := make([]changedMsg, 0)
	for _, msg := range l.snapshot.messages.list {
		rev := l.msgRevisions[msg.ID.String()]
		if rev > sinceRev {
			changed = append(changed, changedMsg{msg: msg, revision: rev})
		}
	}
	sort.SliceStable(changed, func(i, j int) bool {
		return changed[i].revision < changed[j].revision
	})

	end := len(changed)
	if limit > 0 && end > limit {
		end = limit
		lastRev := changed[end-1].revision
		if changed[end].revision == lastRev {
			// Cut on the revision boundary
			cut := end
			for cut > 0 && changed[cut-1].revision == lastRev {
				cut--
			}
			if cut > 0 {
				end = cut
			} else {
				for end < len(changed) && changed[end].revision == lastRev {
					end++
				}
			}
		}
	}

	page := model.HistoryResponseData{
		Messages: make([]model.Message, 0, end),
		HasMore:  end < len(changed),
		Revision: l.latestRevision(),
	}
	for _, c := range changed[:end] {
		page.Messages = append(page.Messages, c.msg.Clone())
	}
	if page.HasMore {
		page.Revision = model.Revision(strconv.FormatInt(changed[end-1].revision, 10))
	}

	return page
}

// BuildSnapshot builds a Snapshot for the specified revision.
// Makes possible to build a snapshot for all previous revisions.
func (l *DeltaLog) BuildSnapshot(rev model.Revision) *Snapshot {
	l.RLock()
	defer l.RUnlock()

	idx, ok := l.entryIdx(rev)
	if !ok {
		return nil
	}

	snapshot := l.base.Clone()
	for i := 1; i <= idx; i++ {
		l.applier.ApplyAll(snapshot, l.entries[i].Items...)
	}

	return snapshot
}

// IsRevisionValid checks if the revision exists.
func (l *DeltaLog) IsRevisionValid(rev model.Revision) bool {
	l.RLock()
	defer l.RUnlock()

	_, ok := l.entryIdx(rev)
	return ok
}

// entryIdx converts a revision into the entries index.
func (l *DeltaLog) entryIdx(rev model.Revision) (int, bool) {
	if rev.IsZero() {
		return 0, false
	}

	v, err := strconv.ParseInt(rev.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	idx := int(v - l.entries[0].Revision)
	if idx < 0 || idx >= len(l.entries) {
		return 0, false
	}

	return idx, true
}

// latestRevision returns the latest revision in the wire form.
func (l *DeltaLog) latestRevision() model.Revision {
	return model.Revision(strconv.FormatInt(l.entries[len(l.entries)-1].Revision, 10))
}

// fullUpdate exports the latest state limiting the number of chat messages.
func (l *DeltaLog) fullUpdate() model.FullUpdate {
	fu := l.snapshot.exportFullUpdate(l.fullUpdateMsgLimit)
	historyRev := l.entries[len(l.entries)-1].Revision
	fu.HistoryRevision = &historyRev

	return fu
}

// NewDeltaLog creates a new DeltaLog object with the base state as the first revision.
func NewDeltaLog(baseRevision int64, base *Snapshot, fullUpdateMsgLimit int) *DeltaLog {
	if base == nil {
		base = NewSnapshot()
	}

	return &DeltaLog{
		applier: NewApplier(),
		entries: []LogEntry{
			{Revision: baseRevision},
		},
		base:               base.Clone(),
		snapshot:           base.Clone(),
		msgRevisions:       make(map[string]int64),
		fullUpdateMsgLimit: fullUpdateMsgLimit,
		changedCh:          make(chan struct{}),
	}
}
