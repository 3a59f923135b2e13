package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lerianwallet/ecash-core/pkg/mlog"
)

func TestEmitRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := New(mlog.NoneLogger{})

	var order []int

	bus.On("e", func(ctx context.Context, payload any) error {
		order = append(order, 1)
		return nil
	})
	bus.On("e", func(ctx context.Context, payload any) error {
		order = append(order, 2)
		return nil
	})

	bus.Emit(context.Background(), "e", nil)

	require.Equal(t, []int{1, 2}, order)
}

func TestEmitIsolatesFailingHandlers(t *testing.T) {
	bus := New(mlog.NoneLogger{})

	ran := false

	bus.On("e", func(ctx context.Context, payload any) error {
		return errors.New("boom")
	})
	bus.On("e", func(ctx context.Context, payload any) error {
		ran = true
		return nil
	})

	require.NotPanics(t, func() { bus.Emit(context.Background(), "e", nil) })
	require.True(t, ran)
}

func TestEmitIsolatesPanickingHandlers(t *testing.T) {
	bus := New(mlog.NoneLogger{})

	ran := false

	bus.On("e", func(ctx context.Context, payload any) error {
		panic("boom")
	})
	bus.On("e", func(ctx context.Context, payload any) error {
		ran = true
		return nil
	})

	require.NotPanics(t, func() { bus.Emit(context.Background(), "e", nil) })
	require.True(t, ran)
}

func TestReentrantEmitQueuesAfterCurrentHandler(t *testing.T) {
	bus := New(mlog.NoneLogger{})

	var order []string

	bus.On("a", func(ctx context.Context, payload any) error {
		order = append(order, "a-start")
		bus.Emit(ctx, "b", nil)
		order = append(order, "a-end")

		return nil
	})
	bus.On("b", func(ctx context.Context, payload any) error {
		order = append(order, "b")
		return nil
	})

	bus.Emit(context.Background(), "a", nil)

	require.Equal(t, []string{"a-start", "a-end", "b"}, order)
}

func TestOnceDisposesAfterFirstRun(t *testing.T) {
	bus := New(mlog.NoneLogger{})

	count := 0

	bus.Once("e", func(ctx context.Context, payload any) error {
		count++
		return nil
	})

	bus.Emit(context.Background(), "e", nil)
	bus.Emit(context.Background(), "e", nil)

	require.Equal(t, 1, count)
}

func TestDisposerRemovesHandler(t *testing.T) {
	bus := New(mlog.NoneLogger{})

	count := 0

	dispose := bus.On("e", func(ctx context.Context, payload any) error {
		count++
		return nil
	})

	dispose()
	bus.Emit(context.Background(), "e", nil)

	require.Equal(t, 0, count)
}
