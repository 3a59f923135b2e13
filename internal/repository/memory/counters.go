package memory

import "context"

type counterRepo Store

func (r *counterRepo) store() *Store { return (*Store)(r) }

func (r *counterRepo) Get(ctx context.Context, mint, keysetID string) (uint64, bool, error) {
	var (
		value  uint64
		exists bool
	)

	err := r.store().locked(ctx, func() error {
		value, exists = r.counters[mintKeysetKey{mint, keysetID}]
		return nil
	})

	return value, exists, err
}

func (r *counterRepo) Set(ctx context.Context, mint, keysetID string, value uint64) error {
	return r.store().locked(ctx, func() error {
		r.counters[mintKeysetKey{mint, keysetID}] = value
		return nil
	})
}
