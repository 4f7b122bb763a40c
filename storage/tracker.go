package storage

import (
	"log"
	"sync"

	"github.com/itiky/chatsync/model"
)

type (
	// Tracker owns the session revision cursor and the Snapshot.
	// All mutations go through ApplyFullUpdate / RecordRevision / ApplyResponse, readers get copies.
	Tracker struct {
		sync.RWMutex
		applier *Applier
		// Last revision received (empty before the first response)
		revision model.Revision
		// Current session state
		snapshot *Snapshot
	}

	// ApplyResult describes a committed DeltaResponse.
	ApplyResult struct {
		// Change notifications in application order
		Events []ChangeEvent
		// Full update has replaced the snapshot
		Reset bool
		// Number of delta items applied / skipped (skipped by decoder included)
		Applied int
		Skipped int
		// Revision recorded
		Revision model.Revision
	}
)

// ApplyFullUpdate replaces the snapshot wholesale: fields absent in the update are cleared.
func (t *Tracker) ApplyFullUpdate(fu model.FullUpdate) []ChangeEvent {
	t.Lock()
	defer t.Unlock()

	snapshot, events := t.resetSnapshot(fu)
	t.snapshot = snapshot

	return events
}

// RecordRevision overwrites the revision cursor.
// There is no ordering check: the cursor arrival order is the only ordering.
func (t *Tracker) RecordRevision(rev model.Revision) {
	t.Lock()
	defer t.Unlock()

	t.revision = rev
}

// CurrentCursor returns the revision to send with the next poll.
func (t *Tracker) CurrentCursor() (model.Revision, bool) {
	t.RLock()
	defer t.RUnlock()

	return t.revision, !t.revision.IsZero()
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() *Snapshot {
	t.RLock()
	defer t.RUnlock()

	return t.snapshot.Clone()
}

// State returns the revision and the Snapshot copy taken at the same moment.
func (t *Tracker) State() (model.Revision, *Snapshot) {
	t.RLock()
	defer t.RUnlock()

	return t.revision, t.snapshot.Clone()
}

// Credentials returns the session credentials the requests are sent with.
func (t *Tracker) Credentials() (authToken, pageID string) {
	t.RLock()
	defer t.RUnlock()

	return t.snapshot.AuthToken, t.snapshot.PageID
}

// SessionID returns the visit session id (empty before a full update).
func (t *Tracker) SessionID() string {
	t.RLock()
	defer t.RUnlock()

	return t.snapshot.SessionID
}

// HasMessage checks the live state for the message id without copying the snapshot.
func (t *Tracker) HasMessage(id string) bool {
	t.RLock()
	defer t.RUnlock()

	return t.snapshot.HasMessage(id)
}

// Restore seeds the Tracker with a persisted state.
func (t *Tracker) Restore(rev model.Revision, snapshot *Snapshot) {
	t.Lock()
	defer t.Unlock()

	t.revision = rev
	if snapshot == nil {
		t.snapshot = NewSnapshot()
		return
	}
	t.snapshot = snapshot.Clone()
}

// ApplyResponse applies a decoded DeltaResponse: full update first, then delta items in list order,
// then the revision. The work is done on a copy which is swapped in at the end,
// so readers observe either the previous or the new state.
func (t *Tracker) ApplyResponse(resp model.DeltaResponse) ApplyResult {
	t.Lock()
	defer t.Unlock()

	res := ApplyResult{
		Skipped:  resp.Skipped,
		Revision: resp.Revision,
	}

	var snapshot *Snapshot
	if resp.FullUpdate != nil {
		snapshot, res.Events = t.resetSnapshot(*resp.FullUpdate)
		res.Reset = true
	} else {
		snapshot = t.snapshot.Clone()
	}

	for _, item := range resp.DeltaList {
		itemEvents, err := t.applier.Apply(snapshot, item)
		if err != nil {
			log.Printf("Tracker: revision %s: item skipped: %v", resp.Revision, err)
			res.Skipped++
			continue
		}
		res.Applied++
		res.Events = append(res.Events, itemEvents...)
	}

	if resp.Revision != t.revision {
		res.Events = append(res.Events, ChangeEvent{Kind: ChangeRevision, Revision: resp.Revision})
	}

	t.snapshot = snapshot
	t.revision = resp.Revision

	return res
}

// resetSnapshot builds a new Snapshot from the FullUpdate and the session-reset notification.
func (t *Tracker) resetSnapshot(fu model.FullUpdate) (*Snapshot, []ChangeEvent) {
	snapshot := NewSnapshotFromFullUpdate(fu)

	return snapshot, []ChangeEvent{ResetEvent(snapshot)}
}

// ResetEvent builds the session-reset notification carrying the whole Snapshot state.
func ResetEvent(s *Snapshot) ChangeEvent {
	return ChangeEvent{
		Kind:              ChangeSessionReset,
		ID:                s.SessionID,
		Messages:          s.Messages(),
		Chat:              s.Chat.Clone(),
		Departments:       model.CloneDepartments(s.Departments),
		VisitSessionState: s.VisitSessionState,
	}
}

// NewTracker creates a new Tracker object with an empty ("no session") state.
func NewTracker() *Tracker {
	return &Tracker{
		applier:  NewApplier(),
		snapshot: NewSnapshot(),
	}
}
