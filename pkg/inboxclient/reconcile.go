package inboxclient

import (
	"sort"
	"time"

)

// Unit is anything the server versions: a message, a notification, a
// conversation summary or an unread aggregate.
type Unit interface {
	Key() string
	Version() time.Time
}

// Snapshot is one full read of a collection. AsOf is the server time the
// read started.
type Snapshot[T Unit] struct {
	Items []T
	AsOf  time.Time
}

// guard keeps monotonic fields from moving backwards when a newer version
// arrives without them.
type guard[T Unit] func(current, incoming T) T

// ordering sorts the view handed to observers.
type ordering[T Unit] func(a, b T) bool

// collection is the reconciled state behind one cache key. It is not safe
// for concurrent use; Cache serializes access.
type collection[T Unit] struct {
	items      map[string]T
	tombstones map[string]time.Time
	guard      guard[T]
	less       ordering[T]
}

func newCollection[T Unit](g guard[T], less ordering[T]) *collection[T] {
	return &collection[T]{
		items:      make(map[string]T),
		tombstones: make(map[string]time.Time),
		guard:      g,
		less:       less,
	}
}

// readable is implemented by units whose read state only moves forward.
type readable interface {
	IsRead() bool
}

// upsert accepts an incoming unit only when it is strictly newer than what
// is held. Equal versions are a no-op, which makes redelivery idempotent,
// except that a read copy beats an unread one of the same version.
func (c *collection[T]) upsert(incoming T) bool {
	key := incoming.Key()
	if _, deleted := c.tombstones[key]; deleted {
		return false
	}

	current, exists := c.items[key]
	if exists && !newer(current, incoming) {
		return false
	}
	if exists && c.guard != nil {
		incoming = c.guard(current, incoming)
	}
	c.items[key] = incoming
	return true
}

func newer[T Unit](current, incoming T) bool {
	if incoming.Version().After(current.Version()) {
		return true
	}
	if !incoming.Version().Equal(current.Version()) {
		return false
	}
	in, ok := any(incoming).(readable)
	if !ok {
		return false
	}
	held := any(current).(readable)
	return in.IsRead() && !held.IsRead()
}

// apply merges a full snapshot. Held items missing from it are dropped only
// if the snapshot is at least as new as they are; anything newer arrived
// after the read started and stays.
func (c *collection[T]) apply(snapshot Snapshot[T]) bool {
	changed := false
	seen := make(map[string]struct{}, len(snapshot.Items))
	for _, item := range snapshot.Items {
		seen[item.Key()] = struct{}{}
		if c.upsert(item) {
			changed = true
		}
	}

	for key, item := range c.items {
		if _, ok := seen[key]; ok {
			continue
		}
		if !item.Version().After(snapshot.AsOf) {
			delete(c.items, key)
			changed = true
		}
	}

	for key, deletedAt := range c.tombstones {
		if _, ok := seen[key]; !ok && !deletedAt.After(snapshot.AsOf) {
			// the server no longer returns it, so nothing can resurrect it
			delete(c.tombstones, key)
		}
	}
	return changed
}

// remove deletes an item for good. Later snapshots or pushes carrying the
// same key are ignored.
func (c *collection[T]) remove(key string, at time.Time) bool {
	c.tombstones[key] = at
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	return true
}

func (c *collection[T]) view() []T {
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	if c.less != nil {
		sort.SliceStable(out, func(i, j int) bool { return c.less(out[i], out[j]) })
	}
	return out
}

func messagesAscending(a, b ChatMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func conversationsByActivity(a, b ConversationSummary) bool {
	if !a.LastActivityAt.Equal(b.LastActivityAt) {
		return a.LastActivityAt.After(b.LastActivityAt)
	}
	return a.ID > b.ID
}

func notificationsNewestFirst(a, b Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

func keepMessageRead(current, incoming ChatMessage) ChatMessage {
	if incoming.ReadAt == nil && current.ReadAt != nil {
		incoming.ReadAt = current.ReadAt
	}
	return incoming
}

func keepNotificationRead(current, incoming Notification) Notification {
	if current.Read && !incoming.Read {
		incoming.Read = true
		incoming.ReadAt = current.ReadAt
	}
	if incoming.ReadAt == nil && current.ReadAt != nil {
		incoming.ReadAt = current.ReadAt
	}
	return incoming
}
