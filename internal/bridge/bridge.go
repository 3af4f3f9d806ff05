// Package bridge moves the context of a setup triggered in a group
// scope across to the private flow that completes it, via a transient
// record in the durable shared data. Nothing is held in memory: every
// operation round-trips through the store, because no process state
// survives between invocations.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"groupbuy-bot/internal/domain"
)

const keyPrefix = "handoff:"

// SharedStore is the slice of the persistence adapter the bridge needs.
type SharedStore interface {
	LoadShared(ctx context.Context) map[string]string
	SaveShared(ctx context.Context, data map[string]string)
}

// Bridge reads and writes handoff records keyed by participant id.
type Bridge struct {
	shared SharedStore
	log    *slog.Logger
}

// New creates a Bridge over the given shared store.
func New(shared SharedStore, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{shared: shared, log: log}
}

// Key returns the shared-data key for a participant's handoff record.
// Namespacing by participant id prevents collision across participants;
// a participant retriggering the group entry overwrites their earlier
// record (last write wins).
func Key(participantID int64) string {
	return keyPrefix + strconv.FormatInt(participantID, 10)
}

// Put stores the handoff record for the participant, replacing any
// earlier one.
func (b *Bridge) Put(ctx context.Context, participantID int64, h domain.Handoff) {
	payload, err := json.Marshal(h)
	if err != nil {
		b.log.Error("marshal handoff failed", "participant", participantID, "err", err)
		return
	}
	data := b.shared.LoadShared(ctx)
	data[Key(participantID)] = string(payload)
	b.shared.SaveShared(ctx, data)
}

// Take reads and removes the participant's handoff record. A missing
// record (race, duplicate trigger) returns false; an unparsable record
// is removed and also returns false.
func (b *Bridge) Take(ctx context.Context, participantID int64) (domain.Handoff, bool) {
	data := b.shared.LoadShared(ctx)
	raw, ok := data[Key(participantID)]
	if !ok {
		return domain.Handoff{}, false
	}
	delete(data, Key(participantID))
	b.shared.SaveShared(ctx, data)

	var h domain.Handoff
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		b.log.Warn("discarding corrupt handoff record", "participant", participantID, "err", err)
		return domain.Handoff{}, false
	}
	return h, true
}

// Delete removes the participant's handoff record, if any. Used as
// failure cleanup when the private notification cannot be delivered.
func (b *Bridge) Delete(ctx context.Context, participantID int64) {
	data := b.shared.LoadShared(ctx)
	if _, ok := data[Key(participantID)]; !ok {
		return
	}
	delete(data, Key(participantID))
	b.shared.SaveShared(ctx, data)
}
