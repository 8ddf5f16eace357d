package detector

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	variant string
	boxes   []Box
	err     error
	panics  bool
	calls   atomic.Int32
	closed  atomic.Bool
}

func (m *fakeModel) Variant() string { return m.variant }

func (m *fakeModel) Detect(ctx context.Context, _ image.Image) ([]Box, error) {
	m.calls.Add(1)
	if m.panics {
		panic("bad tensor")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.boxes, m.err
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func TestRegistry_SingleLoadUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	reg := NewRegistry(func(variant string) (Model, error) {
		loads.Add(1)
		<-release
		return &fakeModel{variant: variant}, nil
	})

	const callers = 32
	var wg sync.WaitGroup
	got := make([]Model, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := reg.Get("small")
			assert.NoError(t, err)
			got[i] = m
		}(i)
	}

	require.Eventually(t, func() bool { return reg.State("small") == StateLoading }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, 1, reg.LoadCount("small"))
	for _, m := range got {
		assert.Same(t, got[0], m)
	}
	assert.True(t, reg.Loaded("small"))
}

func TestRegistry_FailureIsPermanent(t *testing.T) {
	var loads atomic.Int32
	reg := NewRegistry(func(string) (Model, error) {
		loads.Add(1)
		return nil, errors.New("model file not found")
	})

	for range 3 {
		m, err := reg.Get("medium")
		assert.Nil(t, m)
		require.ErrorIs(t, err, ErrModelUnavailable)
		assert.Contains(t, err.Error(), "model file not found")
	}
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, StateFailed, reg.State("medium"))
}

const failingVariant = "large"

func TestRegistry_IndependentVariants(t *testing.T) {
	reg := NewRegistry(func(v string) (Model, error) {
		if v == failingVariant {
			return nil, errors.New("corrupt")
		}
		return &fakeModel{variant: v}, nil
	})

	require.Error(t, reg.Preload("nano", failingVariant))
	_, err := reg.Get("small")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"nano":  StateLoaded,
		"large": StateFailed,
		"small": StateLoaded,
	}, reg.Status())
	assert.Equal(t, StateNotLoaded, reg.State("medium"))
}

func TestRegistry_UnknownVariant(t *testing.T) {
	reg := NewRegistry(func(v string) (Model, error) { return &fakeModel{variant: v}, nil })
	_, err := reg.Get("xl")
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Zero(t, reg.LoadCount("xl"))
}

func TestRegistry_Close(t *testing.T) {
	m := &fakeModel{variant: "nano"}
	reg := NewRegistry(func(string) (Model, error) { return m, nil })
	_, err := reg.Get("nano")
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	assert.True(t, m.closed.Load())
}

func TestRegistry_GetAfterCloseIsUnavailable(t *testing.T) {
	var loads atomic.Int32
	reg := NewRegistry(func(v string) (Model, error) {
		loads.Add(1)
		return &fakeModel{variant: v}, nil
	})
	_, err := reg.Get("nano")
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	m, err := reg.Get("nano")
	assert.Nil(t, m)
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "registry closed")

	_, err = reg.Get("small")
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, int32(1), loads.Load(), "no load after close")
	assert.Equal(t, StateNotLoaded, reg.State("nano"))
	assert.NoError(t, reg.Close(), "close is idempotent")
}

func TestRegistry_LoadFinishingAfterCloseIsReleased(t *testing.T) {
	m := &fakeModel{variant: "medium"}
	started := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry(func(string) (Model, error) {
		close(started)
		<-release
		return m, nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := reg.Get("medium")
		errc <- err
	}()
	<-started
	require.NoError(t, reg.Close())
	close(release)

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrModelUnavailable)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after close")
	}
	assert.True(t, m.closed.Load())
}
