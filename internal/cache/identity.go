package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// ErrNotFound is returned when no progress session id could be resolved
var ErrNotFound = journey.NewError("progress session not found", codes.NotFound)

// IdentityCache resolves the backend's progress session id for a (user, journey)
// pair. It checks memory, then the optional persistent store, then makes a
// single call to the progress-state endpoint. It never retries.
type IdentityCache struct {
	memory  *Cache
	store   Store
	fetcher journey.ProgressStateFetcher
	group   singleflight.Group
}

// NewIdentityCache creates an identity cache. store may be nil.
func NewIdentityCache(memory *Cache, store Store, fetcher journey.ProgressStateFetcher) *IdentityCache {
	if memory == nil {
		memory = NewCache(0)
	}
	return &IdentityCache{
		memory:  memory,
		store:   store,
		fetcher: fetcher,
	}
}

// Resolve returns the session id, fetching it at most once per concurrent
// burst of callers for the same key
func (c *IdentityCache) Resolve(ctx context.Context, userID, journeyID string) (journey.SessionID, error) {
	ctx = logging.EnsureLogger(ctx)

	key := Key(userID, journeyID)
	if id, ok := c.memory.Get(key); ok {
		return id, nil
	}

	// The shared load is detached from the first caller's cancellation; each
	// caller stops waiting when its own context is done.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, userID, journeyID)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(journey.SessionID), nil
	}
}

func (c *IdentityCache) load(ctx context.Context, key, userID, journeyID string) (journey.SessionID, error) {
	if c.store != nil {
		id, ok, err := c.store.Get(ctx, userID, journeyID)
		if err != nil {
			logging.Warnw(ctx, "Identity store read failed, falling back to backend",
				"user_id", userID, "journey_id", journeyID, "error", err)
		} else if ok && id != "" {
			c.memory.Set(key, id, SourceStore)
			return id, nil
		}
	}

	state, err := c.fetcher.FetchProgressState(ctx, userID, journeyID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if state.SessionID == "" {
		return "", ErrNotFound
	}

	c.memory.Set(key, state.SessionID, SourceBackend)
	if c.store != nil {
		if err := c.store.Put(ctx, userID, journeyID, state.SessionID); err != nil {
			logging.Warnw(ctx, "Identity store write failed",
				"user_id", userID, "journey_id", journeyID, "error", err)
		}
	}

	logging.Debugw(ctx, "Resolved progress session", "user_id", userID, "journey_id", journeyID)
	return state.SessionID, nil
}

// Invalidate forgets the session id for a journey, e.g. after a reset
func (c *IdentityCache) Invalidate(ctx context.Context, userID, journeyID string) error {
	c.memory.Delete(Key(userID, journeyID))
	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, userID, journeyID)
}

// InvalidateUser forgets every session id for a user, e.g. on logout
func (c *IdentityCache) InvalidateUser(ctx context.Context, userID string) error {
	c.memory.DeleteUser(userID)
	if c.store == nil {
		return nil
	}
	return c.store.DeleteUser(ctx, userID)
}
