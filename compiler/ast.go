package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for kernel programs
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// NoneLiteral represents none.
type NoneLiteral struct {
	SpanVal Span
}

func (n *NoneLiteral) Span() Span { return n.SpanVal }
func (n *NoneLiteral) node()      {}
func (n *NoneLiteral) expr()      {}

// ListExpr represents [a, b, c].
type ListExpr struct {
	SpanVal Span
	Elems   []Expr
}

func (n *ListExpr) Span() Span { return n.SpanVal }
func (n *ListExpr) node()      {}
func (n *ListExpr) expr()      {}

// TupleExpr represents (a, b) or (a,).
type TupleExpr struct {
	SpanVal Span
	Elems   []Expr
}

func (n *TupleExpr) Span() Span { return n.SpanVal }
func (n *TupleExpr) node()      {}
func (n *TupleExpr) expr()      {}

// NameScope says what a Name refers to. It is filled in by the semantic pass.
type NameScope int

const (
	ScopeUnresolved NameScope = iota
	ScopeLocal                // a kernel local; Slot is its index
	ScopeConstant             // a time-unit constant
	ScopeType                 // an exception type
)

// Name represents a bare identifier.
type Name struct {
	SpanVal Span
	Name    string
	Scope   NameScope
	Slot    int
}

func (n *Name) Span() Span { return n.SpanVal }
func (n *Name) node()      {}
func (n *Name) expr()      {}

// SelfAttr represents self.name, a run attribute.
type SelfAttr struct {
	SpanVal Span
	Attr    string
}

func (n *SelfAttr) Span() Span { return n.SpanVal }
func (n *SelfAttr) node()      {}
func (n *SelfAttr) expr()      {}

// FieldExpr represents value.field.
type FieldExpr struct {
	SpanVal Span
	X       Expr
	Field   string
}

func (n *FieldExpr) Span() Span { return n.SpanVal }
func (n *FieldExpr) node()      {}
func (n *FieldExpr) expr()      {}

// IndexExpr represents x[index].
type IndexExpr struct {
	SpanVal Span
	X       Expr
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// CallKind says what a CallExpr invokes. It is filled in by the semantic pass.
type CallKind int

const (
	CallUnresolved CallKind = iota
	CallKernel
	CallRPC
	CallRecord
	CallException
	CallBuiltin
)

func (k CallKind) String() string {
	switch k {
	case CallKernel:
		return "kernel"
	case CallRPC:
		return "rpc"
	case CallRecord:
		return "record"
	case CallException:
		return "exception"
	case CallBuiltin:
		return "builtin"
	default:
		return "unresolved"
	}
}

// CallExpr represents name(args).
type CallExpr struct {
	SpanVal Span
	Func    string
	Args    []Expr
	Kind    CallKind
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// MethodCall represents recv.method(args).
type MethodCall struct {
	SpanVal Span
	Recv    Expr
	Method  string
	Args    []Expr
}

func (n *MethodCall) Span() Span { return n.SpanVal }
func (n *MethodCall) node()      {}
func (n *MethodCall) expr()      {}

// BinaryExpr represents an arithmetic or comparison operation.
type BinaryExpr struct {
	SpanVal Span
	Op      string
	X       Expr
	Y       Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// LogicalExpr represents a short-circuit "and" or "or".
type LogicalExpr struct {
	SpanVal Span
	Op      string
	X       Expr
	Y       Expr
}

func (n *LogicalExpr) Span() Span { return n.SpanVal }
func (n *LogicalExpr) node()      {}
func (n *LogicalExpr) expr()      {}

// UnaryExpr represents -x or not x.
type UnaryExpr struct {
	SpanVal Span
	Op      string
	X       Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt represents an expression evaluated for its effect.
type ExprStmt struct {
	SpanVal Span
	X       Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// AssignStmt represents target = value and the augmented forms. Target is a
// *Name, *SelfAttr or *IndexExpr. Op is "=", "+=", "-=" or "*=".
type AssignStmt struct {
	SpanVal Span
	Target  Expr
	Op      string
	Value   Expr
}

func (n *AssignStmt) Span() Span { return n.SpanVal }
func (n *AssignStmt) node()      {}
func (n *AssignStmt) stmt()      {}

// IfStmt represents if/elif/else. An elif chain is a nested IfStmt as the
// only statement of Else.
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    []Stmt
	Else    []Stmt
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt represents while cond { body }.
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    []Stmt
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// ForStmt represents for v in iter { body }.
type ForStmt struct {
	SpanVal Span
	Var     *Name
	Iter    Expr
	Body    []Stmt
}

func (n *ForStmt) Span() Span { return n.SpanVal }
func (n *ForStmt) node()      {}
func (n *ForStmt) stmt()      {}

// BreakStmt represents break.
type BreakStmt struct {
	SpanVal Span
}

func (n *BreakStmt) Span() Span { return n.SpanVal }
func (n *BreakStmt) node()      {}
func (n *BreakStmt) stmt()      {}

// ContinueStmt represents continue.
type ContinueStmt struct {
	SpanVal Span
}

func (n *ContinueStmt) Span() Span { return n.SpanVal }
func (n *ContinueStmt) node()      {}
func (n *ContinueStmt) stmt()      {}

// ReturnStmt represents return [value].
type ReturnStmt struct {
	SpanVal Span
	Value   Expr // nil for a bare return
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// PassStmt represents pass.
type PassStmt struct {
	SpanVal Span
}

func (n *PassStmt) Span() Span { return n.SpanVal }
func (n *PassStmt) node()      {}
func (n *PassStmt) stmt()      {}

// RaiseStmt represents raise [exc]. A nil Exc re-raises the exception being
// handled.
type RaiseStmt struct {
	SpanVal Span
	Exc     Expr
}

func (n *RaiseStmt) Span() Span { return n.SpanVal }
func (n *RaiseStmt) node()      {}
func (n *RaiseStmt) stmt()      {}

// ExceptClause is one handler of a try statement. An empty Types list is a
// bare handler. Bind, if not nil, receives the exception.
type ExceptClause struct {
	SpanVal Span
	Types   []*Name
	Bind    *Name
	Body    []Stmt
}

func (n *ExceptClause) Span() Span { return n.SpanVal }
func (n *ExceptClause) node()      {}

// TypeNames returns the exception type names the clause catches.
func (n *ExceptClause) TypeNames() []string {
	names := make([]string, len(n.Types))
	for i, t := range n.Types {
		names[i] = t.Name
	}
	return names
}

// TryStmt represents try/except/else/finally.
type TryStmt struct {
	SpanVal    Span
	Body       []Stmt
	Handlers   []*ExceptClause
	Else       []Stmt
	Finally    []Stmt
	HasElse    bool
	HasFinally bool
}

func (n *TryStmt) Span() Span { return n.SpanVal }
func (n *TryStmt) node()      {}
func (n *TryStmt) stmt()      {}

// ParallelStmt represents parallel { ... }. Each direct child statement
// starts at the time the block was entered.
type ParallelStmt struct {
	SpanVal Span
	Body    []Stmt
}

func (n *ParallelStmt) Span() Span { return n.SpanVal }
func (n *ParallelStmt) node()      {}
func (n *ParallelStmt) stmt()      {}

// SequentialStmt represents sequential { ... }.
type SequentialStmt struct {
	SpanVal Span
	Body    []Stmt
}

func (n *SequentialStmt) Span() Span { return n.SpanVal }
func (n *SequentialStmt) node()      {}
func (n *SequentialStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Decl is the interface for top-level declarations.
type Decl interface {
	Node
	decl() // marker method
}

// ExceptionDecl represents exception Name[(Parent)].
type ExceptionDecl struct {
	SpanVal Span
	Name    string
	Parent  string // empty means Exception
}

func (n *ExceptionDecl) Span() Span { return n.SpanVal }
func (n *ExceptionDecl) node()      {}
func (n *ExceptionDecl) decl()      {}

// RecordDecl represents record Name(field, ...).
type RecordDecl struct {
	SpanVal Span
	Name    string
	Fields  []string
}

func (n *RecordDecl) Span() Span { return n.SpanVal }
func (n *RecordDecl) node()      {}
func (n *RecordDecl) decl()      {}

// RPCDecl represents rpc name, name, ...
type RPCDecl struct {
	SpanVal Span
	Names   []string
}

func (n *RPCDecl) Span() Span { return n.SpanVal }
func (n *RPCDecl) node()      {}
func (n *RPCDecl) decl()      {}

// KernelDecl represents kernel name(params) { body }.
type KernelDecl struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    []Stmt

	// Locals lists every local slot: parameters first, then other assigned
	// names in order of first appearance. Set by the semantic pass.
	Locals []string
}

func (n *KernelDecl) Span() Span { return n.SpanVal }
func (n *KernelDecl) node()      {}
func (n *KernelDecl) decl()      {}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is a parsed (and, after Analyze, resolved) source file.
type Program struct {
	Name       string
	Decls      []Decl
	Exceptions []*ExceptionDecl
	Records    []*RecordDecl
	RPCs       []string
	Kernels    []*KernelDecl
}

// Kernel returns the kernel declared under name.
func (p *Program) Kernel(name string) *KernelDecl {
	for _, k := range p.Kernels {
		if k.Name == name {
			return k
		}
	}
	return nil
}

// Record returns the record type declared under name.
func (p *Program) Record(name string) *RecordDecl {
	for _, r := range p.Records {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// HasRPC reports whether name was declared as an rpc target.
func (p *Program) HasRPC(name string) bool {
	for _, r := range p.RPCs {
		if r == name {
			return true
		}
	}
	return false
}

// Exception returns the exception type declared under name.
func (p *Program) Exception(name string) *ExceptionDecl {
	for _, e := range p.Exceptions {
		if e.Name == name {
			return e
		}
	}
	return nil
}
