package compiler

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: name resolution and static checks
// ---------------------------------------------------------------------------

// Env describes the names the runtime provides to every program.
type Env interface {
	IsBuiltin(name string) bool
	IsConstant(name string) bool
	IsExceptionType(name string) bool
}

// SemanticAnalyzer resolves names and call targets in a parsed program and
// reports anything that can be rejected before a run starts.
type SemanticAnalyzer struct {
	env    Env
	prog   *Program
	errors []Diagnostic

	kernels    map[string]*KernelDecl
	records    map[string]*RecordDecl
	rpcs       map[string]bool
	exceptions map[string]bool

	// Per-kernel state
	slots     map[string]int
	loopDepth int
}

// NewSemanticAnalyzer creates an analyzer for prog.
func NewSemanticAnalyzer(env Env, prog *Program) *SemanticAnalyzer {
	return &SemanticAnalyzer{
		env:        env,
		prog:       prog,
		kernels:    make(map[string]*KernelDecl),
		records:    make(map[string]*RecordDecl),
		rpcs:       make(map[string]bool),
		exceptions: make(map[string]bool),
	}
}

func (s *SemanticAnalyzer) errorf(n Node, format string, args ...interface{}) {
	s.errors = append(s.errors, Diagnostic{Pos: n.Span().Start, Msg: fmt.Sprintf(format, args...)})
}

// Diagnostics returns the errors found so far.
func (s *SemanticAnalyzer) Diagnostics() []Diagnostic {
	return s.errors
}

// Analyze checks the whole program, annotating the AST in place.
func (s *SemanticAnalyzer) Analyze() {
	s.collectDecls()
	for _, k := range s.prog.Kernels {
		s.analyzeKernel(k)
	}
}

func (s *SemanticAnalyzer) isExceptionType(name string) bool {
	return s.exceptions[name] || s.env.IsExceptionType(name)
}

func (s *SemanticAnalyzer) collectDecls() {
	for _, d := range s.prog.Decls {
		switch d := d.(type) {
		case *ExceptionDecl:
			if s.isExceptionType(d.Name) {
				s.errorf(d, "exception type %s already defined", d.Name)
				continue
			}
			if d.Parent != "" && !s.isExceptionType(d.Parent) {
				s.errorf(d, "exception %s: unknown parent type %s", d.Name, d.Parent)
			}
			s.exceptions[d.Name] = true
		case *RecordDecl:
			if s.records[d.Name] != nil {
				s.errorf(d, "record %s already defined", d.Name)
				continue
			}
			seen := make(map[string]bool, len(d.Fields))
			for _, f := range d.Fields {
				if seen[f] {
					s.errorf(d, "record %s: duplicate field %s", d.Name, f)
				}
				seen[f] = true
			}
			s.records[d.Name] = d
		case *RPCDecl:
			for _, name := range d.Names {
				s.rpcs[name] = true
			}
		case *KernelDecl:
			if s.kernels[d.Name] != nil {
				s.errorf(d, "kernel %s already defined", d.Name)
				continue
			}
			s.kernels[d.Name] = d
		}
	}
}

// ---------------------------------------------------------------------------
// Kernels
// ---------------------------------------------------------------------------

func (s *SemanticAnalyzer) analyzeKernel(k *KernelDecl) {
	s.slots = make(map[string]int)
	s.loopDepth = 0
	k.Locals = nil
	declare := func(name string) {
		if _, ok := s.slots[name]; !ok {
			s.slots[name] = len(k.Locals)
			k.Locals = append(k.Locals, name)
		}
	}
	for _, p := range k.Params {
		if _, dup := s.slots[p]; dup {
			s.errorf(k, "kernel %s: duplicate parameter %s", k.Name, p)
		}
		declare(p)
	}
	walkAssigned(k.Body, declare)
	s.stmts(k.Body)
}

// walkAssigned calls declare for every name a statement list binds, in
// source order.
func walkAssigned(stmts []Stmt, declare func(string)) {
	for _, st := range stmts {
		switch st := st.(type) {
		case *AssignStmt:
			if n, ok := st.Target.(*Name); ok {
				declare(n.Name)
			}
		case *IfStmt:
			walkAssigned(st.Then, declare)
			walkAssigned(st.Else, declare)
		case *WhileStmt:
			walkAssigned(st.Body, declare)
		case *ForStmt:
			declare(st.Var.Name)
			walkAssigned(st.Body, declare)
		case *TryStmt:
			walkAssigned(st.Body, declare)
			for _, h := range st.Handlers {
				if h.Bind != nil {
					declare(h.Bind.Name)
				}
				walkAssigned(h.Body, declare)
			}
			walkAssigned(st.Else, declare)
			walkAssigned(st.Finally, declare)
		case *ParallelStmt:
			walkAssigned(st.Body, declare)
		case *SequentialStmt:
			walkAssigned(st.Body, declare)
		}
	}
}

func (s *SemanticAnalyzer) stmts(list []Stmt) {
	for _, st := range list {
		s.stmt(st)
	}
}

func (s *SemanticAnalyzer) stmt(st Stmt) {
	switch st := st.(type) {
	case *ExprStmt:
		s.expr(st.X)
	case *AssignStmt:
		switch t := st.Target.(type) {
		case *Name:
			t.Scope = ScopeLocal
			t.Slot = s.slots[t.Name]
		case *IndexExpr:
			s.expr(t.X)
			s.expr(t.Index)
		}
		s.expr(st.Value)
	case *IfStmt:
		s.expr(st.Cond)
		s.stmts(st.Then)
		s.stmts(st.Else)
	case *WhileStmt:
		s.expr(st.Cond)
		s.loop(st.Body)
	case *ForStmt:
		st.Var.Scope = ScopeLocal
		st.Var.Slot = s.slots[st.Var.Name]
		s.expr(st.Iter)
		s.loop(st.Body)
	case *BreakStmt:
		if s.loopDepth == 0 {
			s.errorf(st, "'break' outside loop")
		}
	case *ContinueStmt:
		if s.loopDepth == 0 {
			s.errorf(st, "'continue' not properly in loop")
		}
	case *ReturnStmt:
		if st.Value != nil {
			s.expr(st.Value)
		}
	case *RaiseStmt:
		if st.Exc != nil {
			s.expr(st.Exc)
		}
	case *TryStmt:
		s.stmts(st.Body)
		for _, h := range st.Handlers {
			for _, t := range h.Types {
				if !s.isExceptionType(t.Name) {
					s.errorf(t, "%s is not an exception type", t.Name)
					continue
				}
				t.Scope = ScopeType
			}
			if h.Bind != nil {
				h.Bind.Scope = ScopeLocal
				h.Bind.Slot = s.slots[h.Bind.Name]
			}
			s.stmts(h.Body)
		}
		s.stmts(st.Else)
		s.stmts(st.Finally)
	case *ParallelStmt:
		s.stmts(st.Body)
	case *SequentialStmt:
		s.stmts(st.Body)
	case *PassStmt:
	}
}

func (s *SemanticAnalyzer) loop(body []Stmt) {
	s.loopDepth++
	s.stmts(body)
	s.loopDepth--
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (s *SemanticAnalyzer) exprs(list []Expr) {
	for _, e := range list {
		s.expr(e)
	}
}

func (s *SemanticAnalyzer) expr(e Expr) {
	switch e := e.(type) {
	case *Name:
		s.resolveName(e)
	case *ListExpr:
		s.exprs(e.Elems)
	case *TupleExpr:
		s.exprs(e.Elems)
	case *FieldExpr:
		s.expr(e.X)
	case *IndexExpr:
		s.expr(e.X)
		s.expr(e.Index)
	case *CallExpr:
		s.resolveCall(e)
		s.exprs(e.Args)
	case *MethodCall:
		s.expr(e.Recv)
		s.exprs(e.Args)
	case *BinaryExpr:
		s.expr(e.X)
		s.expr(e.Y)
	case *LogicalExpr:
		s.expr(e.X)
		s.expr(e.Y)
	case *UnaryExpr:
		s.expr(e.X)
	}
}

func (s *SemanticAnalyzer) resolveName(n *Name) {
	if slot, ok := s.slots[n.Name]; ok {
		n.Scope = ScopeLocal
		n.Slot = slot
		return
	}
	switch {
	case s.env.IsConstant(n.Name):
		n.Scope = ScopeConstant
	case s.isExceptionType(n.Name):
		n.Scope = ScopeType
	default:
		s.errorf(n, "undefined name %s", n.Name)
	}
}

func (s *SemanticAnalyzer) resolveCall(c *CallExpr) {
	switch {
	case s.kernels[c.Func] != nil:
		c.Kind = CallKernel
		if k := s.kernels[c.Func]; len(c.Args) != len(k.Params) {
			s.errorf(c, "kernel %s takes %d arguments, got %d", c.Func, len(k.Params), len(c.Args))
		}
	case s.rpcs[c.Func]:
		c.Kind = CallRPC
	case s.records[c.Func] != nil:
		c.Kind = CallRecord
		if r := s.records[c.Func]; len(c.Args) != len(r.Fields) {
			s.errorf(c, "record %s takes %d fields, got %d", c.Func, len(r.Fields), len(c.Args))
		}
	case s.isExceptionType(c.Func):
		c.Kind = CallException
	case s.env.IsBuiltin(c.Func):
		c.Kind = CallBuiltin
	default:
		s.errorf(c, "undefined function %s", c.Func)
	}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Analyze resolves prog against env.
func Analyze(prog *Program, env Env) error {
	a := NewSemanticAnalyzer(env, prog)
	a.Analyze()
	if len(a.errors) > 0 {
		return &Error{File: prog.Name, Diagnostics: a.errors}
	}
	return nil
}

// Compile parses and analyzes source. The returned program is ready for
// either backend.
func Compile(name, source string, env Env) (*Program, error) {
	prog, err := Parse(name, source)
	if err != nil {
		return nil, err
	}
	if err := Analyze(prog, env); err != nil {
		return nil, err
	}
	return prog, nil
}
