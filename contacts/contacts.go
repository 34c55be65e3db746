// Package contacts maintains the client-local mirror of the device
// contact table, updated incrementally from decoded events.
package contacts

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mikewren/PocketMesh-sub010/events"
	"github.com/mikewren/PocketMesh-sub010/models"
)

// Book is the in-memory contact projection: exactly one record per full
// public key, plus a refresh flag raised when the device reports a
// change the client cannot apply locally. Session-lifetime state only;
// persistence is the consumer's concern.
type Book struct {
	mu           sync.RWMutex
	byKey        map[string]models.Contact
	needsRefresh bool
	lastMod      time.Time
	logger       *slog.Logger
}

// NewBook creates an empty contact book.
func NewBook(logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		byKey:  make(map[string]models.Contact),
		logger: logger,
	}
}

// Store upserts a contact by its full public key.
func (b *Book) Store(c models.Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store(c)
}

func (b *Book) store(c models.Contact) {
	b.byKey[c.Key()] = c
	if c.LastMod.After(b.lastMod) {
		b.lastMod = c.LastMod
	}
}

// GetByPublicKey looks up a contact by hex public key. The second
// return is false when the key was never stored or already removed.
func (b *Book) GetByPublicKey(hexKey string) (models.Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.byKey[hexKey]
	return c, ok
}

// All returns a snapshot of every contact.
func (b *Book) All() []models.Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Contact, 0, len(b.byKey))
	for _, c := range b.byKey {
		out = append(out, c)
	}
	return out
}

// Count returns the number of stored contacts.
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byKey)
}

// NeedsRefresh reports whether the projection may be stale and a full
// re-sync is required to heal it.
func (b *Book) NeedsRefresh() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.needsRefresh
}

// ClearRefreshFlag resets the refresh flag. Call after triggering a
// full contact re-sync.
func (b *Book) ClearRefreshFlag() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.needsRefresh = false
}

// Watermark returns the most recent last-modified timestamp seen, the
// since-value for an incremental contact fetch. Zero when the book is
// empty.
func (b *Book) Watermark() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastMod
}

// TrackChanges applies one event to the projection. Only contact
// transfer items, new-contact adverts, deletions and the contacts-full
// condition mutate it; everything else is ignored.
func (b *Book) TrackChanges(ev models.Event) {
	switch e := ev.(type) {
	case models.ContactReceived:
		b.Store(e.Contact)

	case models.NewContact:
		b.Store(e.Contact)

	case models.ContactDeleted:
		b.removeByPrefix(e.PubKeyPrefix)

	case models.ContactsFull:
		// nothing removed: the device decides what it kept, the
		// consumer must re-sync to find out
		b.mu.Lock()
		b.needsRefresh = true
		b.mu.Unlock()

	case models.ContactsEnd:
		b.mu.Lock()
		if e.MostRecentLastMod.After(b.lastMod) {
			b.lastMod = e.MostRecentLastMod
		}
		b.mu.Unlock()
	}
}

// removeByPrefix drops the contact whose key starts with the reported
// 6-byte prefix and raises the refresh flag. The deletion happened on
// the device under storage pressure; the client cannot verify what else
// changed.
func (b *Book) removeByPrefix(prefix []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, c := range b.byKey {
		if bytes.HasPrefix(c.PublicKey, prefix) {
			delete(b.byKey, key)
			b.logger.Debug("contact evicted by device", slog.String("key", key))
			break
		}
	}
	b.needsRefresh = true
}

// Run subscribes to the publisher and applies events until ctx is
// cancelled. Intended as the session's internal projection loop.
func (b *Book) Run(ctx context.Context, pub events.Publisher) error {
	ch, err := pub.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer pub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			b.TrackChanges(ev)
		}
	}
}
