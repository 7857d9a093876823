package vm

import (
	"context"

	"github.com/chazu/kairos/compiler"
)

// ---------------------------------------------------------------------------
// Host backend: AST interpreter
// ---------------------------------------------------------------------------

// Interpreter is the host-simulation backend. It walks the resolved AST
// directly; every statement produces a Completion that the enclosing
// construct inspects.
type Interpreter struct{}

// NewInterpreter creates the host backend.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// Name implements Backend.
func (*Interpreter) Name() string { return "host" }

// Run implements Backend.
func (in *Interpreter) Run(ctx context.Context, prog *compiler.Program, req RunRequest) (*RunResult, error) {
	rs, args, err := NewRunState(ctx, prog, req)
	if err != nil {
		return nil, err
	}
	ex := &hostExec{rs: rs, prog: prog}
	log.Debugf("host: running %s", req.Entry)
	ret, err := ex.callKernel(prog.Kernel(req.Entry), args)
	return rs.Result(in.Name(), ret, err), err
}

type hostExec struct {
	rs    *RunState
	prog  *compiler.Program
	depth int
}

func (ex *hostExec) callKernel(k *compiler.KernelDecl, args []Value) (Value, error) {
	if exc := Cancelled(ex.rs.Ctx); exc != nil {
		return nil, exc
	}
	if ex.depth >= MaxCallDepth {
		return nil, RecursionError()
	}
	ex.depth++
	defer func() { ex.depth-- }()

	locals := NewLocals(k.Locals, args)
	c := ex.block(locals, k.Body)
	switch c.Kind {
	case CompRaise:
		return nil, c.Exc
	case CompReturn:
		return c.Value, nil
	}
	return nil, nil
}

func raised(err error) Completion {
	return Raised(AsException(err))
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (ex *hostExec) block(locals *Locals, stmts []compiler.Stmt) Completion {
	for _, s := range stmts {
		if c := ex.stmt(locals, s); c.Abrupt() {
			return c
		}
	}
	return Normal
}

func (ex *hostExec) stmt(locals *Locals, s compiler.Stmt) Completion {
	switch s := s.(type) {
	case *compiler.ExprStmt:
		if _, err := ex.eval(locals, s.X); err != nil {
			return raised(err)
		}
	case *compiler.AssignStmt:
		if err := ex.assign(locals, s); err != nil {
			return raised(err)
		}
	case *compiler.PassStmt:
	case *compiler.IfStmt:
		cond, err := ex.eval(locals, s.Cond)
		if err != nil {
			return raised(err)
		}
		if Truthy(cond) {
			return ex.block(locals, s.Then)
		}
		return ex.block(locals, s.Else)
	case *compiler.WhileStmt:
		return ex.whileLoop(locals, s)
	case *compiler.ForStmt:
		return ex.forLoop(locals, s)
	case *compiler.BreakStmt:
		return Completion{Kind: CompBreak}
	case *compiler.ContinueStmt:
		return Completion{Kind: CompContinue}
	case *compiler.ReturnStmt:
		var v Value
		if s.Value != nil {
			var err error
			if v, err = ex.eval(locals, s.Value); err != nil {
				return raised(err)
			}
		}
		return Completion{Kind: CompReturn, Value: v}
	case *compiler.RaiseStmt:
		if s.Exc == nil {
			return Raised(ex.rs.Handling.Reraise())
		}
		v, err := ex.eval(locals, s.Exc)
		if err != nil {
			return raised(err)
		}
		return Raised(ToRaise(v))
	case *compiler.TryStmt:
		return ex.try(locals, s)
	case *compiler.ParallelStmt:
		return ex.parallel(locals, s)
	case *compiler.SequentialStmt:
		cur := ex.rs.Cursor
		depth := cur.Depth()
		cur.EnterSequential()
		if c := ex.block(locals, s.Body); c.Abrupt() {
			cur.UnwindTo(depth)
			return c
		}
		if err := cur.ExitSequential(); err != nil {
			return raised(err)
		}
	default:
		return Raised(Errorf(RuntimeError, "unsupported statement %T", s))
	}
	return Normal
}

func (ex *hostExec) parallel(locals *Locals, s *compiler.ParallelStmt) Completion {
	cur := ex.rs.Cursor
	depth := cur.Depth()
	cur.EnterParallel()
	for _, child := range s.Body {
		cur.BeginChild()
		if c := ex.stmt(locals, child); c.Abrupt() {
			cur.UnwindTo(depth)
			return c
		}
		cur.EndChild()
	}
	if err := cur.ExitParallel(); err != nil {
		return raised(err)
	}
	return Normal
}

func (ex *hostExec) whileLoop(locals *Locals, s *compiler.WhileStmt) Completion {
	for {
		if exc := Cancelled(ex.rs.Ctx); exc != nil {
			return Raised(exc)
		}
		cond, err := ex.eval(locals, s.Cond)
		if err != nil {
			return raised(err)
		}
		if !Truthy(cond) {
			return Normal
		}
		c := ex.block(locals, s.Body)
		switch c.Kind {
		case CompBreak:
			return Normal
		case CompNormal, CompContinue:
		default:
			return c
		}
	}
}

func (ex *hostExec) forLoop(locals *Locals, s *compiler.ForStmt) Completion {
	seq, err := ex.eval(locals, s.Iter)
	if err != nil {
		return raised(err)
	}
	items, err := Iterate(seq)
	if err != nil {
		return raised(err)
	}
	for _, item := range items {
		if exc := Cancelled(ex.rs.Ctx); exc != nil {
			return Raised(exc)
		}
		locals.Set(s.Var.Slot, item)
		c := ex.block(locals, s.Body)
		switch c.Kind {
		case CompBreak:
			return Normal
		case CompNormal, CompContinue:
		default:
			return c
		}
	}
	return Normal
}

// try drives the shared TryFrame automaton, running whichever region it asks
// for until it says to leave.
func (ex *hostExec) try(locals *Locals, s *compiler.TryStmt) Completion {
	clauses := make([]Clause, len(s.Handlers))
	for i, h := range s.Handlers {
		cl, err := ex.rs.Clause(h.TypeNames())
		if err != nil {
			return raised(err)
		}
		clauses[i] = cl
	}
	tf := NewTryFrame(clauses, s.HasElse, s.HasFinally, ex.rs.Handling)
	step := tf.BodyDone(ex.block(locals, s.Body))
	for {
		switch step.Action {
		case ActRunElse:
			step = tf.ElseDone(ex.block(locals, s.Else))
		case ActRunHandler:
			h := s.Handlers[step.Handler]
			if h.Bind != nil {
				locals.Set(h.Bind.Slot, step.Exc)
			}
			step = tf.HandlerDone(ex.block(locals, h.Body))
		case ActRunFinally:
			step = tf.FinallyDone(ex.block(locals, s.Finally))
		case ActLeave:
			return step.Completion
		}
	}
}

func (ex *hostExec) assign(locals *Locals, s *compiler.AssignStmt) error {
	if s.Op == "=" {
		v, err := ex.eval(locals, s.Value)
		if err != nil {
			return err
		}
		switch t := s.Target.(type) {
		case *compiler.Name:
			locals.Set(t.Slot, v)
		case *compiler.SelfAttr:
			ex.rs.SetAttr(t.Attr, v)
		case *compiler.IndexExpr:
			container, err := ex.eval(locals, t.X)
			if err != nil {
				return err
			}
			idx, err := ex.eval(locals, t.Index)
			if err != nil {
				return err
			}
			return SetIndex(container, idx, v)
		}
		return nil
	}

	op := s.Op[:1]
	switch t := s.Target.(type) {
	case *compiler.Name:
		old, err := locals.Get(t.Slot)
		if err != nil {
			return err
		}
		v, err := ex.combine(locals, op, old, s.Value)
		if err != nil {
			return err
		}
		locals.Set(t.Slot, v)
	case *compiler.SelfAttr:
		old, err := ex.rs.GetAttr(t.Attr)
		if err != nil {
			return err
		}
		v, err := ex.combine(locals, op, old, s.Value)
		if err != nil {
			return err
		}
		ex.rs.SetAttr(t.Attr, v)
	case *compiler.IndexExpr:
		container, err := ex.eval(locals, t.X)
		if err != nil {
			return err
		}
		idx, err := ex.eval(locals, t.Index)
		if err != nil {
			return err
		}
		old, err := Index(container, idx)
		if err != nil {
			return err
		}
		v, err := ex.combine(locals, op, old, s.Value)
		if err != nil {
			return err
		}
		return SetIndex(container, idx, v)
	}
	return nil
}

func (ex *hostExec) combine(locals *Locals, op string, old Value, rhs compiler.Expr) (Value, error) {
	v, err := ex.eval(locals, rhs)
	if err != nil {
		return nil, err
	}
	return Binary(op, old, v)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (ex *hostExec) evalAll(locals *Locals, exprs []compiler.Expr) ([]Value, error) {
	vals := make([]Value, len(exprs))
	for i, e := range exprs {
		v, err := ex.eval(locals, e)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (ex *hostExec) eval(locals *Locals, e compiler.Expr) (Value, error) {
	switch e := e.(type) {
	case *compiler.IntLiteral:
		return e.Value, nil
	case *compiler.FloatLiteral:
		return e.Value, nil
	case *compiler.StringLiteral:
		return e.Value, nil
	case *compiler.BoolLiteral:
		return e.Value, nil
	case *compiler.NoneLiteral:
		return nil, nil
	case *compiler.ListExpr:
		items, err := ex.evalAll(locals, e.Elems)
		if err != nil {
			return nil, err
		}
		return NewList(items...), nil
	case *compiler.TupleExpr:
		items, err := ex.evalAll(locals, e.Elems)
		if err != nil {
			return nil, err
		}
		return Tuple(items), nil
	case *compiler.Name:
		switch e.Scope {
		case compiler.ScopeLocal:
			return locals.Get(e.Slot)
		case compiler.ScopeConstant:
			return Constant(e.Name)
		case compiler.ScopeType:
			return ex.rs.LookupType(e.Name)
		}
		return nil, Errorf(NameError, "name '%s' is not defined", e.Name)
	case *compiler.SelfAttr:
		return ex.rs.GetAttr(e.Attr)
	case *compiler.FieldExpr:
		x, err := ex.eval(locals, e.X)
		if err != nil {
			return nil, err
		}
		return GetField(x, e.Field)
	case *compiler.IndexExpr:
		x, err := ex.eval(locals, e.X)
		if err != nil {
			return nil, err
		}
		idx, err := ex.eval(locals, e.Index)
		if err != nil {
			return nil, err
		}
		return Index(x, idx)
	case *compiler.CallExpr:
		args, err := ex.evalAll(locals, e.Args)
		if err != nil {
			return nil, err
		}
		return ex.call(e, args)
	case *compiler.MethodCall:
		recv, err := ex.eval(locals, e.Recv)
		if err != nil {
			return nil, err
		}
		args, err := ex.evalAll(locals, e.Args)
		if err != nil {
			return nil, err
		}
		return CallMethod(recv, e.Method, args)
	case *compiler.BinaryExpr:
		x, err := ex.eval(locals, e.X)
		if err != nil {
			return nil, err
		}
		y, err := ex.eval(locals, e.Y)
		if err != nil {
			return nil, err
		}
		return Binary(e.Op, x, y)
	case *compiler.LogicalExpr:
		x, err := ex.eval(locals, e.X)
		if err != nil {
			return nil, err
		}
		if Truthy(x) == (e.Op == "or") {
			return x, nil
		}
		return ex.eval(locals, e.Y)
	case *compiler.UnaryExpr:
		x, err := ex.eval(locals, e.X)
		if err != nil {
			return nil, err
		}
		return Unary(e.Op, x)
	}
	return nil, Errorf(RuntimeError, "unsupported expression %T", e)
}

func (ex *hostExec) call(e *compiler.CallExpr, args []Value) (Value, error) {
	switch e.Kind {
	case compiler.CallKernel:
		return ex.callKernel(ex.prog.Kernel(e.Func), args)
	case compiler.CallRPC:
		return ex.rs.CallRPC(e.Func, args)
	case compiler.CallRecord:
		return ex.rs.NewRecord(e.Func, args)
	case compiler.CallException:
		return ex.rs.NewExceptionValue(e.Func, args)
	case compiler.CallBuiltin:
		return CallBuiltin(ex.rs, e.Func, args)
	}
	return nil, Errorf(NameError, "name '%s' is not defined", e.Func)
}
