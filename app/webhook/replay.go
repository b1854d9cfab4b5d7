package webhook

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultEventTTL = time.Hour

// KeyStore is an expiring key set. SetNX stores key only when absent and
// reports whether it did.
type KeyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ReplayGuard remembers processed webhook event ids. When the shared store
// fails the in-process store answers instead, which is best effort only.
type ReplayGuard struct {
	store    KeyStore
	fallback *MemoryStore
	prefix   string
}

// NewReplayGuard uses store when non-nil and the bounded memory store
// otherwise.
func NewReplayGuard(store KeyStore, fallback *MemoryStore) *ReplayGuard {
	if fallback == nil {
		fallback = NewMemoryStore(DefaultMemoryStoreSize)
	}
	return &ReplayGuard{
		store:    store,
		fallback: fallback,
		prefix:   "webhook_event:",
	}
}

func (g *ReplayGuard) IsProcessed(ctx context.Context, eventID string) bool {
	key := g.prefix + eventID
	if g.store != nil {
		exists, err := g.store.Exists(ctx, key)
		if err == nil {
			return exists
		}
		logrus.WithError(err).WithField("event_id", eventID).Error("Replay store check failed, using in-process store")
	}
	exists, _ := g.fallback.Exists(ctx, key)
	return exists
}

func (g *ReplayGuard) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) {
	g.Claim(ctx, eventID, ttl)
}

// Claim atomically checks and marks eventID. It returns false when the id
// was already processed within its ttl.
func (g *ReplayGuard) Claim(ctx context.Context, eventID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	key := g.prefix + eventID
	if g.store != nil {
		claimed, err := g.store.SetNX(ctx, key, ttl)
		if err == nil {
			return claimed
		}
		logrus.WithError(err).WithField("event_id", eventID).Error("Replay store write failed, using in-process store")
	}
	claimed, _ := g.fallback.SetNX(ctx, key, ttl)
	return claimed
}
