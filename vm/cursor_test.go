package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorAdvance(t *testing.T) {
	c := NewCursor(100)
	require.NoError(t, c.Advance(5))
	assert.Equal(t, MU(105), c.Now())

	err := c.Advance(-1)
	assert.ErrorIs(t, err, NewException(NegativeDelayError))
	assert.Equal(t, MU(105), c.Now(), "negative delay moved the cursor")
}

func TestCursorAdvanceOverflow(t *testing.T) {
	c := NewCursor(0)
	require.NoError(t, c.Advance(math.MaxInt64))

	err := c.Advance(2)
	assert.ErrorIs(t, err, NewException(OverflowError))
	assert.Equal(t, MU(math.MaxInt64), c.Now())

	require.NoError(t, c.Advance(0))
	assert.Equal(t, MU(math.MaxInt64), c.Now())
}

func TestCursorAdvanceFromNegativeStart(t *testing.T) {
	c := NewCursor(-10)
	require.NoError(t, c.Advance(math.MaxInt64))
	assert.Equal(t, MU(math.MaxInt64-10), c.Now())
	assert.ErrorIs(t, c.Advance(11), NewException(OverflowError))
}

func TestCursorParallel(t *testing.T) {
	c := NewCursor(10)
	c.EnterParallel()

	c.BeginChild()
	require.NoError(t, c.Advance(5))
	c.EndChild()

	c.BeginChild()
	assert.Equal(t, MU(10), c.Now(), "second child start")
	c.EnterSequential()
	require.NoError(t, c.Advance(3))
	require.NoError(t, c.Advance(4))
	require.NoError(t, c.ExitSequential())
	c.EndChild()

	require.NoError(t, c.ExitParallel())
	assert.Equal(t, MU(17), c.Now())
	assert.Zero(t, c.Depth())
}

func TestCursorEmptyParallel(t *testing.T) {
	c := NewCursor(7)
	c.EnterParallel()
	require.NoError(t, c.ExitParallel())
	assert.Equal(t, MU(7), c.Now())
}

func TestCursorFrameMismatch(t *testing.T) {
	c := NewCursor(0)
	assert.ErrorIs(t, c.ExitSequential(), ErrFrameMismatch, "exit with no frame")
	c.EnterParallel()
	assert.ErrorIs(t, c.ExitSequential(), ErrFrameMismatch, "exit sequential inside parallel")
}

func TestCursorUnwindTo(t *testing.T) {
	c := NewCursor(0)
	c.EnterParallel()

	c.BeginChild()
	require.NoError(t, c.Advance(100))
	c.EndChild()

	c.BeginChild()
	c.EnterSequential()
	require.NoError(t, c.Advance(10))
	c.EnterParallel()
	c.BeginChild()
	require.NoError(t, c.Advance(3))

	require.Equal(t, 3, c.Depth())
	c.UnwindTo(1)
	require.Equal(t, 1, c.Depth())
	// The inner parallel closes at 13 and the sequential keeps it.
	assert.Equal(t, MU(13), c.Now())

	c.UnwindTo(0)
	assert.Equal(t, MU(100), c.Now())
}

func TestCursorReset(t *testing.T) {
	c := NewCursor(0)
	c.EnterSequential()
	require.NoError(t, c.Advance(9))
	c.Reset(4)
	assert.Equal(t, MU(4), c.Now())
	assert.Zero(t, c.Depth())
}

func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "parallel", FrameParallel.String())
	assert.Equal(t, "sequential", FrameSequential.String())
}
