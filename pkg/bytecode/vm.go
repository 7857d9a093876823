package bytecode

import (
	"context"
	"fmt"
	"io"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("kairos.device")

// ---------------------------------------------------------------------------
// Device backend
// ---------------------------------------------------------------------------

// Backend is the device-simulation backend. A program is compiled to an
// image, the image is serialized and loaded back the way it would be shipped
// to a core device, and the loaded image runs on a Machine.
type Backend struct {
	// Trace, if set, receives one line per executed instruction.
	Trace io.Writer
}

// NewBackend creates the device backend.
func NewBackend() *Backend {
	return &Backend{}
}

// Name implements vm.Backend.
func (*Backend) Name() string { return "device" }

// Run implements vm.Backend.
func (b *Backend) Run(ctx context.Context, prog *compiler.Program, req vm.RunRequest) (*vm.RunResult, error) {
	img, err := CompileProgram(prog)
	if err != nil {
		return nil, err
	}
	data, err := img.Encode()
	if err != nil {
		return nil, err
	}
	log.Debugf("device: image %s is %d bytes", img.Program, len(data))
	loaded, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return b.RunImage(ctx, loaded, req)
}

// RunImage runs a loaded image.
func (b *Backend) RunImage(ctx context.Context, img *Image, req vm.RunRequest) (*vm.RunResult, error) {
	rs, args, err := vm.NewRunState(ctx, img.Declarations(), req)
	if err != nil {
		return nil, err
	}
	m := NewMachine(img, rs)
	m.Trace = b.Trace
	log.Debugf("device: running %s", req.Entry)
	ret, err := m.Call(req.Entry, args)
	return rs.Result(b.Name(), ret, err), err
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine executes the kernels of one image for one run.
type Machine struct {
	img     *Image
	rs      *vm.RunState
	kernels map[string]*Chunk

	stack  []vm.Value
	frames []*callFrame

	// Trace, if set, receives one line per executed instruction.
	Trace io.Writer
}

// callFrame is one active kernel invocation. stackBase and cursorBase are
// the operand stack height and scheduling depth at the call.
type callFrame struct {
	chunk      *Chunk
	pc         int
	locals     *vm.Locals
	stackBase  int
	cursorBase int
	tries      []*tryRecord
}

// tryRecord is one try construct in progress. The depths are absolute and
// are restored whenever a completion is delivered to the construct.
type tryRecord struct {
	info        *TryInfo
	frame       *vm.TryFrame
	stackDepth  int
	cursorDepth int
}

// report hands the completion of the running region to the automaton.
func (r *tryRecord) report(c vm.Completion) vm.Step {
	switch r.frame.Phase() {
	case vm.PhaseElse:
		return r.frame.ElseDone(c)
	case vm.PhaseHandler:
		return r.frame.HandlerDone(c)
	case vm.PhaseFinally:
		return r.frame.FinallyDone(c)
	default:
		return r.frame.BodyDone(c)
	}
}

// iterator is what GET_ITER leaves on the operand stack.
type iterator struct {
	items []vm.Value
	pos   int
}

// NewMachine creates a machine for img sharing the run state rs.
func NewMachine(img *Image, rs *vm.RunState) *Machine {
	m := &Machine{
		img:     img,
		rs:      rs,
		kernels: make(map[string]*Chunk, len(img.Kernels)),
		stack:   make([]vm.Value, 0, 64),
	}
	for _, k := range img.Kernels {
		m.kernels[k.Name] = k
	}
	return m
}

// Call runs the named kernel to completion. An unhandled exception is
// returned as a *vm.Exception.
func (m *Machine) Call(name string, args []vm.Value) (vm.Value, error) {
	chunk, ok := m.kernels[name]
	if !ok {
		return nil, fmt.Errorf("bytecode: no kernel named %q", name)
	}
	if err := m.pushFrame(chunk, args); err != nil {
		return nil, err
	}
	return m.run()
}

func (m *Machine) pushFrame(chunk *Chunk, args []vm.Value) error {
	if exc := vm.Cancelled(m.rs.Ctx); exc != nil {
		return exc
	}
	if len(m.frames) >= vm.MaxCallDepth {
		return vm.RecursionError()
	}
	if len(args) != int(chunk.ParamCount) {
		return vm.Errorf(vm.TypeError, "%s() takes %d arguments (%d given)", chunk.Name, chunk.ParamCount, len(args))
	}
	m.frames = append(m.frames, &callFrame{
		chunk:      chunk,
		locals:     vm.NewLocals(chunk.Locals, args),
		stackBase:  len(m.stack),
		cursorBase: m.rs.Cursor.Depth(),
	})
	return nil
}

func (m *Machine) push(v vm.Value) {
	m.stack = append(m.stack, v)
}

func (m *Machine) pop() vm.Value {
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v
}

func (m *Machine) peek() vm.Value {
	return m.stack[len(m.stack)-1]
}

// popN pops n values into a fresh slice, preserving their order.
func (m *Machine) popN(n int) []vm.Value {
	vals := make([]vm.Value, n)
	copy(vals, m.stack[len(m.stack)-n:])
	m.stack = m.stack[:len(m.stack)-n]
	return vals
}

var opNames = map[Opcode]string{
	OpAdd:      "+",
	OpSub:      "-",
	OpMul:      "*",
	OpDiv:      "/",
	OpFloorDiv: "//",
	OpMod:      "%",
	OpEq:       "==",
	OpNe:       "!=",
	OpLt:       "<",
	OpLe:       "<=",
	OpGt:       ">",
	OpGe:       ">=",
}

func (m *Machine) run() (vm.Value, error) {
	rs := m.rs
	for {
		f := m.frames[len(m.frames)-1]
		code := f.chunk.Code
		if f.pc >= len(code) {
			return nil, fmt.Errorf("bytecode: %s: fell off the end of the code", f.chunk.Name)
		}
		op := Opcode(code[f.pc])
		pc := f.pc
		f.pc += op.InstructionLen()

		if m.Trace != nil {
			fmt.Fprintf(m.Trace, "[%s %04x] %-16s sp=%d\n", f.chunk.Name, pc, op, len(m.stack))
		}

		var (
			c   vm.Completion
			err error
		)
		switch op {
		case OpNop:

		case OpPop:
			m.pop()

		case OpDup:
			m.push(m.peek())

		case OpDup2:
			n := len(m.stack)
			m.push(m.stack[n-2])
			m.push(m.stack[n-1])

		case OpRot:
			n := len(m.stack)
			a := m.stack[n-3]
			m.stack[n-3] = m.stack[n-2]
			m.stack[n-2] = m.stack[n-1]
			m.stack[n-1] = a

		// ============ Constants ============
		case OpConst:
			m.push(vm.FromWire(f.chunk.Constants[f.chunk.ReadU16(pc+1)]))

		case OpConstNone:
			m.push(nil)

		case OpConstTrue:
			m.push(true)

		case OpConstFalse:
			m.push(false)

		// ============ Variables ============
		case OpLoadLocal:
			var v vm.Value
			if v, err = f.locals.Get(int(code[pc+1])); err == nil {
				m.push(v)
			}

		case OpStoreLocal:
			f.locals.Set(int(code[pc+1]), m.pop())

		case OpLoadAttr:
			var v vm.Value
			if v, err = rs.GetAttr(m.name(f, pc)); err == nil {
				m.push(v)
			}

		case OpStoreAttr:
			rs.SetAttr(m.name(f, pc), m.pop())

		case OpLoadType:
			var t *vm.ExcType
			if t, err = rs.LookupType(m.name(f, pc)); err == nil {
				m.push(t)
			}

		// ============ Containers ============
		case OpGetField:
			var v vm.Value
			if v, err = vm.GetField(m.pop(), m.name(f, pc)); err == nil {
				m.push(v)
			}

		case OpIndex:
			idx := m.pop()
			var v vm.Value
			if v, err = vm.Index(m.pop(), idx); err == nil {
				m.push(v)
			}

		case OpStoreIndex:
			v := m.pop()
			idx := m.pop()
			err = vm.SetIndex(m.pop(), idx, v)

		case OpBuildList:
			m.push(vm.NewList(m.popN(int(f.chunk.ReadU16(pc + 1)))...))

		case OpBuildTuple:
			m.push(vm.Tuple(m.popN(int(f.chunk.ReadU16(pc + 1)))))

		// ============ Operators ============
		case OpAdd, OpSub, OpMul, OpDiv, OpFloorDiv, OpMod,
			OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			b := m.pop()
			a := m.pop()
			var v vm.Value
			if v, err = vm.Binary(opNames[op], a, b); err == nil {
				m.push(v)
			}

		case OpNeg:
			var v vm.Value
			if v, err = vm.Unary("-", m.pop()); err == nil {
				m.push(v)
			}

		case OpNot:
			m.push(!vm.Truthy(m.pop()))

		// ============ Control flow ============
		case OpJump:
			offset := int(f.chunk.ReadI16(pc + 1))
			if offset < 0 {
				if exc := vm.Cancelled(rs.Ctx); exc != nil {
					err = exc
					break
				}
			}
			f.pc += offset

		case OpJumpFalse:
			if !vm.Truthy(m.pop()) {
				f.pc += int(f.chunk.ReadI16(pc + 1))
			}

		case OpJumpIfFalseOrPop:
			if !vm.Truthy(m.peek()) {
				f.pc += int(f.chunk.ReadI16(pc + 1))
			} else {
				m.pop()
			}

		case OpJumpIfTrueOrPop:
			if vm.Truthy(m.peek()) {
				f.pc += int(f.chunk.ReadI16(pc + 1))
			} else {
				m.pop()
			}

		case OpGetIter:
			var items []vm.Value
			if items, err = vm.Iterate(m.pop()); err == nil {
				m.push(&iterator{items: items})
			}

		case OpForIter:
			it := m.peek().(*iterator)
			if it.pos >= len(it.items) {
				m.pop()
				f.pc += int(f.chunk.ReadI16(pc + 1))
				break
			}
			if exc := vm.Cancelled(rs.Ctx); exc != nil {
				err = exc
				break
			}
			m.push(it.items[it.pos])
			it.pos++

		case OpCheckpoint:
			if exc := vm.Cancelled(rs.Ctx); exc != nil {
				err = exc
			}

		case OpBreak:
			c = vm.Completion{Kind: vm.CompBreak, Loop: int(f.chunk.ReadU16(pc + 1))}

		case OpContinue:
			c = vm.Completion{Kind: vm.CompContinue, Loop: int(f.chunk.ReadU16(pc + 1))}

		// ============ Calls ============
		case OpCallKernel:
			name, argc := m.callOperands(f, pc)
			args := m.popN(argc)
			callee, ok := m.kernels[name]
			if !ok {
				err = vm.Errorf(vm.NameError, "name '%s' is not defined", name)
				break
			}
			err = m.pushFrame(callee, args)

		case OpCallRPC, OpCallBuiltin, OpNewRecord, OpNewException:
			name, argc := m.callOperands(f, pc)
			args := m.popN(argc)
			var v vm.Value
			switch op {
			case OpCallRPC:
				v, err = rs.CallRPC(name, args)
			case OpCallBuiltin:
				v, err = vm.CallBuiltin(rs, name, args)
			case OpNewRecord:
				v, err = rs.NewRecord(name, args)
			default:
				v, err = rs.NewExceptionValue(name, args)
			}
			if err == nil {
				m.push(v)
			}

		case OpCallMethod:
			name, argc := m.callOperands(f, pc)
			args := m.popN(argc)
			var v vm.Value
			if v, err = vm.CallMethod(m.pop(), name, args); err == nil {
				m.push(v)
			}

		// ============ Timeline ============
		case OpSeqEnter:
			rs.Cursor.EnterSequential()

		case OpSeqExit:
			err = rs.Cursor.ExitSequential()

		case OpParEnter:
			rs.Cursor.EnterParallel()

		case OpParChild:
			rs.Cursor.BeginChild()

		case OpParChildEnd:
			rs.Cursor.EndChild()

		case OpParExit:
			err = rs.Cursor.ExitParallel()

		// ============ Exceptions ============
		case OpTryEnter:
			err = m.enterTry(f, &f.chunk.Tries[f.chunk.ReadU16(pc+1)])

		case OpTryNext:
			rec := f.tries[len(f.tries)-1]
			if next, more := m.follow(f, rec, rec.report(vm.Normal)); more {
				c = next
			}

		case OpRaise:
			c = vm.Raised(vm.ToRaise(m.pop()))

		case OpReraise:
			c = vm.Raised(rs.Handling.Reraise())

		// ============ Return ============
		case OpReturn:
			c = vm.Completion{Kind: vm.CompReturn, Value: m.pop()}

		case OpReturnNone:
			c = vm.Completion{Kind: vm.CompReturn}

		default:
			return nil, fmt.Errorf("bytecode: %s: unknown opcode 0x%02X at %d", f.chunk.Name, byte(op), pc)
		}

		if err != nil {
			c = vm.Raised(vm.AsException(err))
		}
		if c.Abrupt() {
			if done, ret, exc := m.unwind(c); done {
				if exc != nil {
					return nil, exc
				}
				return ret, nil
			}
		}
	}
}

func (m *Machine) name(f *callFrame, pc int) string {
	return f.chunk.Names[f.chunk.ReadU16(pc+1)]
}

func (m *Machine) callOperands(f *callFrame, pc int) (string, int) {
	return m.name(f, pc), int(f.chunk.Code[pc+3])
}

func (m *Machine) enterTry(f *callFrame, info *TryInfo) error {
	clauses := make([]vm.Clause, len(info.Handlers))
	for i, h := range info.Handlers {
		cl, err := m.rs.Clause(h.Types)
		if err != nil {
			return err
		}
		clauses[i] = cl
	}
	f.tries = append(f.tries, &tryRecord{
		info:        info,
		frame:       vm.NewTryFrame(clauses, info.ElsePC >= 0, info.FinallyPC >= 0, m.rs.Handling),
		stackDepth:  len(m.stack),
		cursorDepth: m.rs.Cursor.Depth(),
	})
	return nil
}

// follow carries out the automaton's step for rec. It reports the completion
// to keep propagating when the construct is left abruptly.
func (m *Machine) follow(f *callFrame, rec *tryRecord, step vm.Step) (vm.Completion, bool) {
	switch step.Action {
	case vm.ActRunElse:
		f.pc = rec.info.ElsePC
	case vm.ActRunHandler:
		h := rec.info.Handlers[step.Handler]
		if h.Bind >= 0 {
			f.locals.Set(h.Bind, step.Exc)
		}
		f.pc = h.PC
	case vm.ActRunFinally:
		f.pc = rec.info.FinallyPC
	case vm.ActLeave:
		f.tries = f.tries[:len(f.tries)-1]
		if !step.Completion.Abrupt() {
			f.pc = rec.info.EndPC
			return vm.Normal, false
		}
		return step.Completion, true
	}
	return vm.Normal, false
}

// unwind propagates an abrupt completion until some construct takes it. It
// reports done when the completion left the outermost kernel; ret and exc are
// then the run's outcome.
func (m *Machine) unwind(c vm.Completion) (done bool, ret vm.Value, exc *vm.Exception) {
	cur := m.rs.Cursor
	for {
		f := m.frames[len(m.frames)-1]

		// Constructs nested inside the targeted loop see break and continue
		// first; every construct in the kernel sees return and raise.
		inner := len(f.tries)
		var loop *LoopInfo
		if c.Kind == vm.CompBreak || c.Kind == vm.CompContinue {
			loop = &f.chunk.Loops[c.Loop]
			inner -= loop.TryDepth
		}

		if inner > 0 {
			rec := f.tries[len(f.tries)-1]
			m.stack = m.stack[:rec.stackDepth]
			cur.UnwindTo(rec.cursorDepth)
			next, more := m.follow(f, rec, rec.report(c))
			if !more {
				return false, nil, nil
			}
			c = next
			continue
		}

		switch c.Kind {
		case vm.CompBreak:
			m.stack = m.stack[:f.stackBase+loop.BreakStack]
			cur.UnwindTo(f.cursorBase + loop.FrameDepth)
			f.pc = loop.BreakPC
			return false, nil, nil
		case vm.CompContinue:
			m.stack = m.stack[:f.stackBase+loop.ContinueStack]
			cur.UnwindTo(f.cursorBase + loop.FrameDepth)
			f.pc = loop.ContinuePC
			return false, nil, nil
		}

		// Leave the kernel.
		cur.UnwindTo(f.cursorBase)
		m.stack = m.stack[:f.stackBase]
		m.frames = m.frames[:len(m.frames)-1]
		if len(m.frames) == 0 {
			if c.Kind == vm.CompRaise {
				return true, nil, c.Exc
			}
			return true, c.Value, nil
		}
		if c.Kind == vm.CompReturn {
			m.push(c.Value)
			return false, nil, nil
		}
	}
}
