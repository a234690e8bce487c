package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Tiered layers a small fast store in front of a larger durable one. Hits in
// the back tier are promoted to the front.
type Tiered struct {
	front  Store
	back   Store
	logger *zap.Logger
}

// NewTiered composes front over back.
func NewTiered(front, back Store, logger *zap.Logger) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{front: front, back: back, logger: logger}
}

// Get checks the front tier first, then the back tier. Front tier failures
// are logged and fall through to the back tier.
func (t *Tiered) Get(ctx context.Context, key string) (Entry, bool, error) {
	entry, ok, err := t.front.Get(ctx, key)
	if err != nil {
		t.logger.Warn("front cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return entry, true, nil
	}
	entry, ok, err = t.back.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if err := t.front.Put(ctx, entry); err != nil {
		t.logger.Warn("front cache promote failed", zap.String("key", key), zap.Error(err))
	}
	return entry, true, nil
}

// Put writes to both tiers.
func (t *Tiered) Put(ctx context.Context, entry Entry) error {
	return errors.Join(t.front.Put(ctx, entry), t.back.Put(ctx, entry))
}

// Len reports the back tier size, which holds a superset of the front.
func (t *Tiered) Len() int {
	return t.back.Len()
}
