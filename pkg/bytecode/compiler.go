package bytecode

import (
	"fmt"
	"math"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/vm"
)

// MaxLocals is the number of local slots addressable by LOAD_LOCAL.
const MaxLocals = 256

// Compiler converts an analyzed kernel to bytecode.
type Compiler struct {
	chunk  *Chunk
	kernel *compiler.KernelDecl

	// Open loops, innermost last; each entry indexes chunk.Loops.
	loops []int

	// Static depths at the statement being compiled. They are what a break
	// or continue needs to restore without walking runtime state.
	iterDepth  int // for-loop iterators on the operand stack
	tryDepth   int // enclosing try statements
	schedDepth int // enclosing parallel/sequential blocks

	errors []error
}

// CompileProgram compiles every kernel of an analyzed program into an image.
func CompileProgram(prog *compiler.Program) (*Image, error) {
	img := &Image{
		Version: BytecodeVersion,
		Program: prog.Name,
		RPCs:    append([]string(nil), prog.RPCs...),
	}
	for _, e := range prog.Exceptions {
		img.Exceptions = append(img.Exceptions, ExceptionDef{Name: e.Name, Parent: e.Parent})
	}
	for _, r := range prog.Records {
		img.Records = append(img.Records, RecordDef{Name: r.Name, Fields: append([]string(nil), r.Fields...)})
	}
	for _, k := range prog.Kernels {
		chunk, err := CompileKernel(k)
		if err != nil {
			return nil, err
		}
		img.Kernels = append(img.Kernels, chunk)
	}
	return img, nil
}

// CompileKernel compiles one kernel. The kernel must have been through the
// semantic pass: names carry their scope and calls their kind.
func CompileKernel(k *compiler.KernelDecl) (*Chunk, error) {
	if len(k.Locals) > MaxLocals {
		return nil, fmt.Errorf("bytecode: kernel %s: too many locals (%d)", k.Name, len(k.Locals))
	}
	if len(k.Params) > len(k.Locals) {
		return nil, fmt.Errorf("bytecode: kernel %s has not been analyzed", k.Name)
	}
	c := &Compiler{chunk: NewChunk(k.Name), kernel: k}
	c.chunk.ParamCount = uint8(len(k.Params))
	c.chunk.Locals = append([]string(nil), k.Locals...)

	c.compileBlock(k.Body)

	// Falling off the end returns none.
	c.chunk.Emit(OpReturnNone)

	if len(c.errors) > 0 {
		return nil, c.errors[0]
	}
	if len(c.chunk.Constants) > math.MaxUint16 || len(c.chunk.Names) > math.MaxUint16 {
		return nil, fmt.Errorf("bytecode: kernel %s: constant pool overflow", k.Name)
	}
	return c.chunk, nil
}

func (c *Compiler) errorf(pos compiler.Position, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.errors = append(c.errors, fmt.Errorf("bytecode: %s: line %d: %s", c.kernel.Name, pos.Line, msg))
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileBlock(stmts []compiler.Stmt) {
	for _, s := range stmts {
		c.compileStatement(s)
	}
}

func (c *Compiler) compileStatement(stmt compiler.Stmt) {
	c.chunk.AddSourceLocation(stmt.Span().Start.Line)

	switch s := stmt.(type) {
	case *compiler.ExprStmt:
		c.compileExpr(s.X)
		c.chunk.Emit(OpPop)

	case *compiler.AssignStmt:
		c.compileAssign(s)

	case *compiler.PassStmt:

	case *compiler.IfStmt:
		c.compileExpr(s.Cond)
		elseJump := c.chunk.EmitJump(OpJumpFalse)
		c.compileBlock(s.Then)
		if len(s.Else) == 0 {
			c.patchJump(elseJump)
			return
		}
		endJump := c.chunk.EmitJump(OpJump)
		c.patchJump(elseJump)
		c.compileBlock(s.Else)
		c.patchJump(endJump)

	case *compiler.WhileStmt:
		c.compileWhile(s)

	case *compiler.ForStmt:
		c.compileFor(s)

	case *compiler.BreakStmt:
		c.compileLoopExit(OpBreak, s.SpanVal.Start)

	case *compiler.ContinueStmt:
		c.compileLoopExit(OpContinue, s.SpanVal.Start)

	case *compiler.ReturnStmt:
		if s.Value == nil {
			c.chunk.Emit(OpReturnNone)
			return
		}
		c.compileExpr(s.Value)
		c.chunk.Emit(OpReturn)

	case *compiler.RaiseStmt:
		if s.Exc == nil {
			c.chunk.Emit(OpReraise)
			return
		}
		c.compileExpr(s.Exc)
		c.chunk.Emit(OpRaise)

	case *compiler.TryStmt:
		c.compileTry(s)

	case *compiler.ParallelStmt:
		c.chunk.Emit(OpParEnter)
		c.schedDepth++
		for _, child := range s.Body {
			c.chunk.Emit(OpParChild)
			c.compileStatement(child)
			c.chunk.Emit(OpParChildEnd)
		}
		c.schedDepth--
		c.chunk.Emit(OpParExit)

	case *compiler.SequentialStmt:
		c.chunk.Emit(OpSeqEnter)
		c.schedDepth++
		c.compileBlock(s.Body)
		c.schedDepth--
		c.chunk.Emit(OpSeqExit)

	default:
		c.errorf(stmt.Span().Start, "unsupported statement %T", stmt)
	}
}

// openLoop registers a loop and returns its index.
func (c *Compiler) openLoop(continuePC, breakStack, continueStack int) int {
	idx := len(c.chunk.Loops)
	c.chunk.Loops = append(c.chunk.Loops, LoopInfo{
		ContinuePC:    continuePC,
		BreakStack:    breakStack,
		ContinueStack: continueStack,
		TryDepth:      c.tryDepth,
		FrameDepth:    c.schedDepth,
	})
	c.loops = append(c.loops, idx)
	return idx
}

func (c *Compiler) closeLoop(idx int) {
	c.chunk.Loops[idx].BreakPC = c.chunk.CurrentOffset()
	c.loops = c.loops[:len(c.loops)-1]
}

// compileWhile opens every iteration, continue included, with a CHECKPOINT
// so cancellation is observed before the condition is evaluated.
func (c *Compiler) compileWhile(s *compiler.WhileStmt) {
	start := c.chunk.CurrentOffset()
	idx := c.openLoop(start, c.iterDepth, c.iterDepth)

	c.chunk.Emit(OpCheckpoint)
	c.compileExpr(s.Cond)
	exitJump := c.chunk.EmitJump(OpJumpFalse)
	c.compileBlock(s.Body)
	c.chunk.EmitLoop(start)
	c.patchJump(exitJump)

	c.closeLoop(idx)
}

func (c *Compiler) compileFor(s *compiler.ForStmt) {
	c.compileExpr(s.Iter)
	c.chunk.Emit(OpGetIter)

	start := c.chunk.CurrentOffset()
	idx := c.openLoop(start, c.iterDepth, c.iterDepth+1)
	c.iterDepth++

	exitJump := c.chunk.EmitJump(OpForIter)
	c.storeLocal(s.Var)
	c.compileBlock(s.Body)
	c.chunk.EmitLoop(start)
	c.patchJump(exitJump)

	c.iterDepth--
	c.closeLoop(idx)
}

func (c *Compiler) compileLoopExit(op Opcode, pos compiler.Position) {
	if len(c.loops) == 0 {
		c.errorf(pos, "'%s' outside loop", op)
		return
	}
	c.chunk.EmitU16(op, uint16(c.loops[len(c.loops)-1]))
}

// compileTry lays a try statement out as consecutive regions, each ending in
// TRY_NEXT; the runtime decides which region runs next.
//
//	TRY_ENTER n; body; TRY_NEXT
//	[else; TRY_NEXT]
//	[handler; TRY_NEXT]...
//	[finally; TRY_NEXT]
//	end:
func (c *Compiler) compileTry(s *compiler.TryStmt) {
	idx := len(c.chunk.Tries)
	c.chunk.Tries = append(c.chunk.Tries, TryInfo{ElsePC: -1, FinallyPC: -1})
	c.chunk.EmitU16(OpTryEnter, uint16(idx))
	c.tryDepth++

	c.compileBlock(s.Body)
	c.chunk.Emit(OpTryNext)

	if s.HasElse {
		c.chunk.Tries[idx].ElsePC = c.chunk.CurrentOffset()
		c.compileBlock(s.Else)
		c.chunk.Emit(OpTryNext)
	}
	handlers := make([]HandlerInfo, 0, len(s.Handlers))
	for _, h := range s.Handlers {
		info := HandlerInfo{Types: h.TypeNames(), Bind: -1, PC: c.chunk.CurrentOffset()}
		if h.Bind != nil {
			info.Bind = h.Bind.Slot
		}
		handlers = append(handlers, info)
		c.compileBlock(h.Body)
		c.chunk.Emit(OpTryNext)
	}
	c.chunk.Tries[idx].Handlers = handlers
	if s.HasFinally {
		c.chunk.Tries[idx].FinallyPC = c.chunk.CurrentOffset()
		c.compileBlock(s.Finally)
		c.chunk.Emit(OpTryNext)
	}

	c.tryDepth--
	c.chunk.Tries[idx].EndPC = c.chunk.CurrentOffset()
}

// compileAssign keeps the evaluation order of the host backend: for plain
// assignment the value is computed before the target's operands, for the
// augmented forms the old value is loaded first.
func (c *Compiler) compileAssign(s *compiler.AssignStmt) {
	if s.Op == "=" {
		c.compileExpr(s.Value)
		switch t := s.Target.(type) {
		case *compiler.Name:
			c.storeLocal(t)
		case *compiler.SelfAttr:
			c.chunk.EmitU16(OpStoreAttr, c.chunk.AddName(t.Attr))
		case *compiler.IndexExpr:
			c.compileExpr(t.X)
			c.compileExpr(t.Index)
			c.chunk.Emit(OpRot)
			c.chunk.Emit(OpStoreIndex)
		default:
			c.errorf(s.SpanVal.Start, "cannot assign to %T", s.Target)
		}
		return
	}

	op, ok := binaryOps[s.Op[:1]]
	if !ok {
		c.errorf(s.SpanVal.Start, "unknown assignment operator %q", s.Op)
		return
	}
	switch t := s.Target.(type) {
	case *compiler.Name:
		c.loadLocal(t)
		c.compileExpr(s.Value)
		c.chunk.Emit(op)
		c.storeLocal(t)
	case *compiler.SelfAttr:
		name := c.chunk.AddName(t.Attr)
		c.chunk.EmitU16(OpLoadAttr, name)
		c.compileExpr(s.Value)
		c.chunk.Emit(op)
		c.chunk.EmitU16(OpStoreAttr, name)
	case *compiler.IndexExpr:
		c.compileExpr(t.X)
		c.compileExpr(t.Index)
		c.chunk.Emit(OpDup2)
		c.chunk.Emit(OpIndex)
		c.compileExpr(s.Value)
		c.chunk.Emit(op)
		c.chunk.Emit(OpStoreIndex)
	default:
		c.errorf(s.SpanVal.Start, "cannot assign to %T", s.Target)
	}
}

func (c *Compiler) loadLocal(n *compiler.Name) {
	c.chunk.EmitWithOperand(OpLoadLocal, c.slot(n))
}

func (c *Compiler) storeLocal(n *compiler.Name) {
	c.chunk.EmitWithOperand(OpStoreLocal, c.slot(n))
}

func (c *Compiler) slot(n *compiler.Name) byte {
	if n.Scope != compiler.ScopeLocal || n.Slot < 0 || n.Slot >= len(c.chunk.Locals) {
		c.errorf(n.SpanVal.Start, "'%s' is not a local", n.Name)
		return 0
	}
	return byte(n.Slot)
}

func (c *Compiler) patchJump(placeholder int) {
	c.patchJumpTo(placeholder, c.chunk.CurrentOffset())
}

func (c *Compiler) patchJumpTo(placeholder, target int) {
	if delta := target - (placeholder + 2); delta < math.MinInt16 || delta > math.MaxInt16 {
		c.errors = append(c.errors, fmt.Errorf("bytecode: %s: jump too far (%d bytes)", c.kernel.Name, delta))
		return
	}
	c.chunk.PatchJumpTo(placeholder, target)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[string]Opcode{
	"+":  OpAdd,
	"-":  OpSub,
	"*":  OpMul,
	"/":  OpDiv,
	"//": OpFloorDiv,
	"%":  OpMod,
	"==": OpEq,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

func (c *Compiler) compileExpr(expr compiler.Expr) {
	switch e := expr.(type) {
	case *compiler.IntLiteral:
		c.emitValue(e.Value)
	case *compiler.FloatLiteral:
		c.emitValue(e.Value)
	case *compiler.StringLiteral:
		c.emitValue(e.Value)
	case *compiler.BoolLiteral:
		if e.Value {
			c.chunk.Emit(OpConstTrue)
		} else {
			c.chunk.Emit(OpConstFalse)
		}
	case *compiler.NoneLiteral:
		c.chunk.Emit(OpConstNone)

	case *compiler.ListExpr:
		c.compileExprs(e.Elems)
		c.chunk.EmitU16(OpBuildList, uint16(len(e.Elems)))
	case *compiler.TupleExpr:
		c.compileExprs(e.Elems)
		c.chunk.EmitU16(OpBuildTuple, uint16(len(e.Elems)))

	case *compiler.Name:
		switch e.Scope {
		case compiler.ScopeLocal:
			c.loadLocal(e)
		case compiler.ScopeConstant:
			v, err := vm.Constant(e.Name)
			if err != nil {
				c.errorf(e.SpanVal.Start, "%v", err)
				return
			}
			c.emitValue(v)
		case compiler.ScopeType:
			c.chunk.EmitU16(OpLoadType, c.chunk.AddName(e.Name))
		default:
			c.errorf(e.SpanVal.Start, "unresolved name '%s'", e.Name)
		}

	case *compiler.SelfAttr:
		c.chunk.EmitU16(OpLoadAttr, c.chunk.AddName(e.Attr))

	case *compiler.FieldExpr:
		c.compileExpr(e.X)
		c.chunk.EmitU16(OpGetField, c.chunk.AddName(e.Field))

	case *compiler.IndexExpr:
		c.compileExpr(e.X)
		c.compileExpr(e.Index)
		c.chunk.Emit(OpIndex)

	case *compiler.CallExpr:
		c.compileCall(e)

	case *compiler.MethodCall:
		c.compileExpr(e.Recv)
		c.compileExprs(e.Args)
		c.emitCall(OpCallMethod, e.Method, len(e.Args), e.SpanVal.Start)

	case *compiler.BinaryExpr:
		op, ok := binaryOps[e.Op]
		if !ok {
			c.errorf(e.SpanVal.Start, "unknown operator %q", e.Op)
			return
		}
		c.compileExpr(e.X)
		c.compileExpr(e.Y)
		c.chunk.Emit(op)

	case *compiler.LogicalExpr:
		// The result is whichever operand decided it.
		c.compileExpr(e.X)
		jump := OpJumpIfFalseOrPop
		if e.Op == "or" {
			jump = OpJumpIfTrueOrPop
		}
		end := c.chunk.EmitJump(jump)
		c.compileExpr(e.Y)
		c.patchJump(end)

	case *compiler.UnaryExpr:
		c.compileExpr(e.X)
		switch e.Op {
		case "-":
			c.chunk.Emit(OpNeg)
		case "not":
			c.chunk.Emit(OpNot)
		default:
			c.errorf(e.SpanVal.Start, "unknown operator %q", e.Op)
		}

	default:
		c.errorf(expr.Span().Start, "unsupported expression %T", expr)
	}
}

func (c *Compiler) compileExprs(exprs []compiler.Expr) {
	for _, e := range exprs {
		c.compileExpr(e)
	}
}

var callOps = map[compiler.CallKind]Opcode{
	compiler.CallKernel:    OpCallKernel,
	compiler.CallRPC:       OpCallRPC,
	compiler.CallRecord:    OpNewRecord,
	compiler.CallException: OpNewException,
	compiler.CallBuiltin:   OpCallBuiltin,
}

func (c *Compiler) compileCall(e *compiler.CallExpr) {
	op, ok := callOps[e.Kind]
	if !ok {
		c.errorf(e.SpanVal.Start, "unresolved call to '%s'", e.Func)
		return
	}
	c.compileExprs(e.Args)
	c.emitCall(op, e.Func, len(e.Args), e.SpanVal.Start)
}

func (c *Compiler) emitCall(op Opcode, name string, argc int, pos compiler.Position) {
	if argc > math.MaxUint8 {
		c.errorf(pos, "too many arguments to '%s' (%d)", name, argc)
		return
	}
	c.chunk.EmitCall(op, name, argc)
}

// emitValue pushes a literal through the constant pool.
func (c *Compiler) emitValue(v vm.Value) {
	w, err := vm.ToWire(v)
	if err != nil {
		c.errors = append(c.errors, fmt.Errorf("bytecode: %s: %w", c.kernel.Name, err))
		return
	}
	c.chunk.EmitConstant(w)
}
