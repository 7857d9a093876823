package vm

import "fmt"

// ---------------------------------------------------------------------------
// Completions
// ---------------------------------------------------------------------------

// CompletionKind classifies how a block of statements finished.
type CompletionKind uint8

const (
	CompNormal CompletionKind = iota
	CompRaise
	CompBreak
	CompContinue
	CompReturn
)

func (k CompletionKind) String() string {
	switch k {
	case CompNormal:
		return "normal"
	case CompRaise:
		return "raise"
	case CompBreak:
		return "break"
	case CompContinue:
		return "continue"
	case CompReturn:
		return "return"
	default:
		return fmt.Sprintf("CompletionKind(%d)", k)
	}
}

// Completion is the outcome of running a block. Exc is set for CompRaise,
// Value for CompReturn and Loop for CompBreak/CompContinue (the loop the
// statement targets; backends that resolve loops lexically may leave it 0).
type Completion struct {
	Kind  CompletionKind
	Exc   *Exception
	Value Value
	Loop  int
}

// Normal is the completion of a block that ran to its end.
var Normal = Completion{Kind: CompNormal}

// Raised returns a CompRaise completion for exc.
func Raised(exc *Exception) Completion {
	return Completion{Kind: CompRaise, Exc: exc}
}

// Abrupt reports whether c transfers control anywhere but the next statement.
func (c Completion) Abrupt() bool { return c.Kind != CompNormal }

// ---------------------------------------------------------------------------
// Try automaton
// ---------------------------------------------------------------------------

// TryPhase is the state of a TryFrame.
type TryPhase uint8

const (
	PhaseBody TryPhase = iota
	PhaseElse
	PhaseHandler
	PhaseFinally
	PhaseDone
)

func (p TryPhase) String() string {
	switch p {
	case PhaseBody:
		return "body"
	case PhaseElse:
		return "else"
	case PhaseHandler:
		return "handler"
	case PhaseFinally:
		return "finally"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("TryPhase(%d)", p)
	}
}

// Action tells a backend what to run next for a try construct.
type Action uint8

const (
	ActRunElse Action = iota
	ActRunHandler
	ActRunFinally
	ActLeave
)

// Step is the automaton's instruction to the backend. For ActRunHandler,
// Handler indexes the selected clause and Exc is the exception to bind. For
// ActLeave, Completion is how control leaves the construct.
type Step struct {
	Action     Action
	Handler    int
	Exc        *Exception
	Completion Completion
}

// TryFrame is the state machine for one execution of a try construct:
//
//	body -> (else | handler(i) | -) -> finally -> done
//
// Both backends run the regions themselves and report each region's
// completion; the frame alone decides what runs next, which keeps handler
// selection and finally semantics identical on every backend.
type TryFrame struct {
	clauses    []Clause
	hasElse    bool
	hasFinally bool
	handling   *Handling

	phase   TryPhase
	pending Completion
}

// NewTryFrame starts a try construct in the body phase. The handling stack,
// if not nil, tracks the exception a running handler is handling so that a
// bare raise can find it.
func NewTryFrame(clauses []Clause, hasElse, hasFinally bool, h *Handling) *TryFrame {
	return &TryFrame{clauses: clauses, hasElse: hasElse, hasFinally: hasFinally, handling: h}
}

// Phase returns the current phase.
func (f *TryFrame) Phase() TryPhase { return f.phase }

// BodyDone reports the completion of the try body.
func (f *TryFrame) BodyDone(c Completion) Step {
	f.mustBe(PhaseBody)
	switch c.Kind {
	case CompNormal:
		if f.hasElse {
			f.phase = PhaseElse
			return Step{Action: ActRunElse}
		}
		return f.finish(c)
	case CompRaise:
		for i, cl := range f.clauses {
			if cl.Matches(c.Exc) {
				f.phase = PhaseHandler
				if f.handling != nil {
					f.handling.Push(c.Exc)
				}
				return Step{Action: ActRunHandler, Handler: i, Exc: c.Exc}
			}
		}
	}
	return f.finish(c)
}

// ElseDone reports the completion of the else clause.
func (f *TryFrame) ElseDone(c Completion) Step {
	f.mustBe(PhaseElse)
	return f.finish(c)
}

// HandlerDone reports the completion of the selected handler. An exception
// raised by the handler replaces the one it was handling.
func (f *TryFrame) HandlerDone(c Completion) Step {
	f.mustBe(PhaseHandler)
	if f.handling != nil {
		f.handling.Pop()
	}
	return f.finish(c)
}

// FinallyDone reports the completion of the finally clause. A finally that
// completes normally lets the pending completion through; any other
// completion replaces it.
func (f *TryFrame) FinallyDone(c Completion) Step {
	f.mustBe(PhaseFinally)
	f.phase = PhaseDone
	if c.Kind == CompNormal {
		return Step{Action: ActLeave, Completion: f.pending}
	}
	return Step{Action: ActLeave, Completion: c}
}

func (f *TryFrame) finish(c Completion) Step {
	if f.hasFinally {
		f.phase = PhaseFinally
		f.pending = c
		return Step{Action: ActRunFinally}
	}
	f.phase = PhaseDone
	return Step{Action: ActLeave, Completion: c}
}

func (f *TryFrame) mustBe(p TryPhase) {
	if f.phase != p {
		panic(fmt.Sprintf("vm: try frame in %s phase, expected %s", f.phase, p))
	}
}

// ---------------------------------------------------------------------------
// Handled-exception stack
// ---------------------------------------------------------------------------

// Handling is the stack of exceptions currently being handled in a run. The
// top is what a bare raise re-raises.
type Handling struct {
	stack []*Exception
}

// Push records that a handler for exc has started.
func (h *Handling) Push(exc *Exception) {
	h.stack = append(h.stack, exc)
}

// Pop records that the innermost handler has finished.
func (h *Handling) Pop() {
	if len(h.stack) > 0 {
		h.stack = h.stack[:len(h.stack)-1]
	}
}

// Depth returns the number of active handlers.
func (h *Handling) Depth() int { return len(h.stack) }

// Truncate drops handlers above depth.
func (h *Handling) Truncate(depth int) {
	if depth < len(h.stack) {
		h.stack = h.stack[:depth]
	}
}

// Reraise returns the exception being handled by the innermost active
// handler, or a RuntimeError if there is none.
func (h *Handling) Reraise() *Exception {
	if len(h.stack) == 0 {
		return NewException(RuntimeError, "No active exception to reraise")
	}
	return h.stack[len(h.stack)-1]
}
