package barcode

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecoder struct {
	name    string
	payload string
	err     error
	panics  bool
	calls   *int
}

func (f fakeDecoder) Name() string { return f.name }

func (f fakeDecoder) Decode(_ context.Context, _ image.Image) (string, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.panics {
		var s []int
		_ = s[3]
	}
	return f.payload, f.err
}

func blank() image.Image { return image.NewGray(image.Rect(0, 0, 8, 8)) }

func TestCascade_OrdersByCost(t *testing.T) {
	c := NewCascade(
		Stage{Decoder: fakeDecoder{name: "slow"}, Cost: 30 * time.Millisecond},
		Stage{Decoder: fakeDecoder{name: "fast"}, Cost: time.Millisecond},
		Stage{Decoder: fakeDecoder{name: "mid-a"}, Cost: 10 * time.Millisecond},
		Stage{Decoder: fakeDecoder{name: "mid-b"}, Cost: 10 * time.Millisecond},
		Stage{Decoder: nil, Cost: 0},
	)
	assert.Equal(t, []string{"fast", "mid-a", "mid-b", "slow"}, c.Names())
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, "fast", c.Fastest().Name())
	assert.Equal(t, 51*time.Millisecond, c.ExpectedCost())

	two := c.Cheapest(2)
	require.Len(t, two, 2)
	assert.Equal(t, "fast", two[0].Name())
	assert.Equal(t, "mid-a", two[1].Name())
	assert.Len(t, c.Cheapest(10), 4)
	assert.Empty(t, c.Cheapest(-1))
}

func TestCascade_StopsAtFirstSuccess(t *testing.T) {
	var firstCalls, secondCalls, thirdCalls int
	c := NewCascade(
		Stage{Decoder: fakeDecoder{name: "a", err: ErrNotFound, calls: &firstCalls}, Cost: 1},
		Stage{Decoder: fakeDecoder{name: "b", payload: "hello", calls: &secondCalls}, Cost: 2},
		Stage{Decoder: fakeDecoder{name: "c", payload: "never", calls: &thirdCalls}, Cost: 3},
	)

	out, err := c.Run(context.Background(), blank())
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Equal(t, "hello", out.Payload)
	assert.Equal(t, "b", out.Decoder)
	require.Len(t, out.Attempts, 2)
	assert.False(t, out.Attempts[0].Success)
	assert.ErrorIs(t, out.Attempts[0].Err, ErrNotFound)
	assert.True(t, out.Attempts[1].Success)
	assert.Equal(t, 1, firstCalls)
	assert.Equal(t, 1, secondCalls)
	assert.Zero(t, thirdCalls)
}

func TestCascade_AllFail(t *testing.T) {
	c := NewCascade(
		Stage{Decoder: fakeDecoder{name: "a", err: ErrNotFound}, Cost: 1},
		Stage{Decoder: fakeDecoder{name: "b", err: errors.New("boom")}, Cost: 2},
	)
	out, err := c.Run(context.Background(), blank())
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Empty(t, out.Payload)
	assert.Len(t, out.Attempts, 2)
}

func TestCascade_PanicIsolated(t *testing.T) {
	c := NewCascade(
		Stage{Decoder: fakeDecoder{name: "crashy", panics: true}, Cost: 1},
		Stage{Decoder: fakeDecoder{name: "ok", payload: "survived"}, Cost: 2},
	)
	out, err := c.Run(context.Background(), blank())
	require.NoError(t, err)
	assert.Equal(t, "survived", out.Payload)
	require.Len(t, out.Attempts, 2)
	require.Error(t, out.Attempts[0].Err)
	assert.Contains(t, out.Attempts[0].Err.Error(), "panicked")
}

func TestCascade_EmptyPayloadIsNotFound(t *testing.T) {
	c := NewCascade(Stage{Decoder: fakeDecoder{name: "empty"}, Cost: 1})
	out, err := c.Run(context.Background(), blank())
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.ErrorIs(t, out.Attempts[0].Err, ErrNotFound)
}

func TestCascade_Cancelled(t *testing.T) {
	var calls int
	c := NewCascade(Stage{Decoder: fakeDecoder{name: "a", payload: "x", calls: &calls}, Cost: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := c.Run(ctx, blank())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, out.Found)
	assert.Zero(t, calls)
}

func TestNewCascadeFromNames(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := NewCascadeFromNames(nil)
		require.NoError(t, err)
		names := c.Names()
		require.GreaterOrEqual(t, len(names), 4)
		assert.Equal(t, NameGoQR, names[0])
		assert.Equal(t, NameZXingQR, names[1])
	})

	t.Run("subset keeps cost order", func(t *testing.T) {
		c, err := NewCascadeFromNames([]string{NameTuotoo, NameGoQR})
		require.NoError(t, err)
		assert.Equal(t, []string{NameGoQR, NameTuotoo}, c.Names())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewCascadeFromNames([]string{"nope"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})
}

func TestSpecs_SortedByCost(t *testing.T) {
	specs := Specs()
	for i := 1; i < len(specs); i++ {
		assert.LessOrEqual(t, specs[i-1].Cost, specs[i].Cost)
	}
	assert.True(t, IsKnown(NameOpenCV))
	assert.False(t, IsKnown("pyzbar"))
}
