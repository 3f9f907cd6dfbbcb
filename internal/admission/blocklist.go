package admission

import (
	"sync"
	"time"
)

// BlockedClient records an auto-block per spec.md section 3. Lifecycle:
// inserted when a client crosses the auto-block threshold, removed lazily
// on lookup past UnblockAt or by the periodic sweep.
type BlockedClient struct {
	ClientKey string
	BlockedAt time.Time
	UnblockAt time.Time
	Reason    string
}

// blockList is a concurrent map of client key -> BlockedClient, safe for
// concurrent reads and single-writer updates per key via sync.Map.
type blockList struct {
	entries sync.Map // string -> *BlockedClient
}

func (b *blockList) block(clientKey, reason string, now time.Time, duration time.Duration) *BlockedClient {
	entry := &BlockedClient{
		ClientKey: clientKey,
		BlockedAt: now,
		UnblockAt: now.Add(duration),
		Reason:    reason,
	}
	b.entries.Store(clientKey, entry)
	return entry
}

// lookup returns the BlockedClient for key if it is still in force at now.
// A lookup past UnblockAt lazily evicts the entry.
func (b *blockList) lookup(clientKey string, now time.Time) (*BlockedClient, bool) {
	v, ok := b.entries.Load(clientKey)
	if !ok {
		return nil, false
	}
	entry := v.(*BlockedClient)
	if !now.Before(entry.UnblockAt) {
		b.entries.Delete(clientKey)
		return nil, false
	}
	return entry, true
}

// sweep evicts every entry whose UnblockAt has passed. Invoked no less
// often than once per 60 seconds per spec.md section 4.2.
func (b *blockList) sweep(now time.Time) {
	b.entries.Range(func(key, value any) bool {
		entry := value.(*BlockedClient)
		if !now.Before(entry.UnblockAt) {
			b.entries.Delete(key)
		}
		return true
	})
}
