package vm

import (
	"errors"
	"fmt"
	"math"
)

// ErrFrameMismatch is returned when a scheduling frame is closed by the wrong
// exit operation or when no frame is open.
var ErrFrameMismatch = errors.New("vm: scheduling frame mismatch")

// FrameKind distinguishes parallel and sequential scheduling frames.
type FrameKind uint8

const (
	FrameSequential FrameKind = iota
	FrameParallel
)

func (k FrameKind) String() string {
	switch k {
	case FrameSequential:
		return "sequential"
	case FrameParallel:
		return "parallel"
	default:
		return fmt.Sprintf("FrameKind(%d)", k)
	}
}

// schedFrame is one open parallel or sequential block.
type schedFrame struct {
	kind    FrameKind
	start   MU   // cursor value at entry
	end     MU   // latest end time reached by a finished child (parallel only)
	inChild bool // a parallel child is currently running
}

// Cursor is the timeline of a single run: the current time plus the stack of
// open scheduling frames. A Cursor is owned by exactly one run.
type Cursor struct {
	now    MU
	frames []schedFrame
}

// NewCursor creates a cursor positioned at start with no open frames.
func NewCursor(start MU) *Cursor {
	return &Cursor{now: start}
}

// Now returns the current cursor value.
func (c *Cursor) Now() MU {
	return c.now
}

// Advance moves the cursor forward by d machine units. A delay that would
// carry the cursor past the largest representable time raises OverflowError
// and leaves the cursor where it was.
func (c *Cursor) Advance(d MU) error {
	if d < 0 {
		return NewException(NegativeDelayError, int64(d))
	}
	if c.now > 0 && d > math.MaxInt64-c.now {
		return Errorf(OverflowError, "delay of %d machine units overflows the timeline at %d", int64(d), int64(c.now))
	}
	c.now += d
	return nil
}

// Depth returns the number of open scheduling frames.
func (c *Cursor) Depth() int {
	return len(c.frames)
}

// EnterSequential opens a sequential frame. Children advance the cursor
// one after another; nothing is recorded.
func (c *Cursor) EnterSequential() {
	c.frames = append(c.frames, schedFrame{kind: FrameSequential, start: c.now, end: c.now})
}

// ExitSequential closes the innermost frame, which must be sequential. The
// cursor stays wherever the last child left it.
func (c *Cursor) ExitSequential() error {
	if _, err := c.pop(FrameSequential); err != nil {
		return err
	}
	return nil
}

// EnterParallel opens a parallel frame anchored at the current time.
func (c *Cursor) EnterParallel() {
	c.frames = append(c.frames, schedFrame{kind: FrameParallel, start: c.now, end: c.now})
}

// BeginChild starts a direct child of the innermost parallel frame by
// rewinding the cursor to the frame's entry time. Outside a parallel frame
// it does nothing.
func (c *Cursor) BeginChild() {
	f := c.top()
	if f == nil || f.kind != FrameParallel {
		return
	}
	c.now = f.start
	f.inChild = true
}

// EndChild records the end time of the running child of the innermost
// parallel frame.
func (c *Cursor) EndChild() {
	f := c.top()
	if f == nil || f.kind != FrameParallel || !f.inChild {
		return
	}
	if c.now > f.end {
		f.end = c.now
	}
	f.inChild = false
}

// ExitParallel closes the innermost frame, which must be parallel, and moves
// the cursor to the latest end time of its children. A frame with no
// children leaves the cursor at its entry time.
func (c *Cursor) ExitParallel() error {
	f, err := c.pop(FrameParallel)
	if err != nil {
		return err
	}
	if f.inChild && c.now > f.end {
		f.end = c.now
	}
	c.now = f.end
	return nil
}

// UnwindTo closes frames, innermost first, until depth frames remain. Open
// parallel children are ended before their frame closes, exactly as a normal
// exit would do, so an abnormal exit leaves the same cursor value on every
// backend.
func (c *Cursor) UnwindTo(depth int) {
	for len(c.frames) > depth && len(c.frames) > 0 {
		switch c.top().kind {
		case FrameParallel:
			c.EndChild()
			_ = c.ExitParallel()
		default:
			_ = c.ExitSequential()
		}
	}
}

// Reset discards all frames and moves the cursor to start.
func (c *Cursor) Reset(start MU) {
	c.now = start
	c.frames = c.frames[:0]
}

func (c *Cursor) top() *schedFrame {
	if len(c.frames) == 0 {
		return nil
	}
	return &c.frames[len(c.frames)-1]
}

func (c *Cursor) pop(kind FrameKind) (schedFrame, error) {
	f := c.top()
	if f == nil {
		return schedFrame{}, fmt.Errorf("%w: exit %s with no open frame", ErrFrameMismatch, kind)
	}
	if f.kind != kind {
		return schedFrame{}, fmt.Errorf("%w: exit %s inside %s", ErrFrameMismatch, kind, f.kind)
	}
	popped := *f
	c.frames = c.frames[:len(c.frames)-1]
	return popped, nil
}
