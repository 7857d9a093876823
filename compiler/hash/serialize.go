package hash

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/chazu/kairos/compiler"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of resolved kernel ASTs.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64=8B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Child nodes: serialized inline (flat)
//
// Source positions never appear in the output. Locals are written as slot
// indices, so only structure and the names visible outside a kernel matter.
// ---------------------------------------------------------------------------

// SerializeKernel produces the byte serialization of one analyzed kernel.
func SerializeKernel(k *compiler.KernelDecl) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.kernel(k)
	return s.buf
}

// SerializeProgram serializes every declaration of an analyzed program.
// Each kind of declaration is written sorted by name, so reordering
// declarations in the source does not change the result.
func SerializeProgram(prog *compiler.Program) []byte {
	s := &serializer{buf: make([]byte, 0, 1024)}
	s.writeByte(HashVersion)
	s.writeByte(TagProgram)

	excs := append([]*compiler.ExceptionDecl(nil), prog.Exceptions...)
	sort.Slice(excs, func(i, j int) bool { return excs[i].Name < excs[j].Name })
	s.writeUint32(uint32(len(excs)))
	for _, e := range excs {
		s.writeByte(TagException)
		s.writeString(e.Name)
		s.writeString(e.Parent)
	}

	recs := append([]*compiler.RecordDecl(nil), prog.Records...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	s.writeUint32(uint32(len(recs)))
	for _, r := range recs {
		s.writeByte(TagRecord)
		s.writeString(r.Name)
		s.writeStrings(r.Fields)
	}

	rpcs := append([]string(nil), prog.RPCs...)
	sort.Strings(rpcs)
	s.writeByte(TagRPC)
	s.writeStrings(rpcs)

	kernels := append([]*compiler.KernelDecl(nil), prog.Kernels...)
	sort.Slice(kernels, func(i, j int) bool { return kernels[i].Name < kernels[j].Name })
	s.writeUint32(uint32(len(kernels)))
	for _, k := range kernels {
		s.kernel(k)
	}
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeStrings(vs []string) {
	s.writeUint32(uint32(len(vs)))
	for _, v := range vs {
		s.writeString(v)
	}
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) kernel(k *compiler.KernelDecl) {
	s.writeByte(TagKernel)
	s.writeString(k.Name)
	s.writeUint16(uint16(len(k.Params)))
	s.writeUint16(uint16(len(k.Locals)))
	s.stmts(k.Body)
}

func (s *serializer) stmts(list []compiler.Stmt) {
	s.writeUint32(uint32(len(list)))
	for _, st := range list {
		s.stmt(st)
	}
}

func (s *serializer) exprs(list []compiler.Expr) {
	s.writeUint32(uint32(len(list)))
	for _, e := range list {
		s.expr(e)
	}
}

func (s *serializer) optExpr(e compiler.Expr) {
	if e == nil {
		s.writeByte(TagAbsent)
		return
	}
	s.expr(e)
}

func (s *serializer) stmt(st compiler.Stmt) {
	switch n := st.(type) {
	case *compiler.ExprStmt:
		s.writeByte(TagExprStmt)
		s.expr(n.X)

	case *compiler.AssignStmt:
		s.writeByte(TagAssign)
		s.writeString(n.Op)
		s.expr(n.Target)
		s.expr(n.Value)

	case *compiler.IfStmt:
		s.writeByte(TagIf)
		s.expr(n.Cond)
		s.stmts(n.Then)
		s.stmts(n.Else)

	case *compiler.WhileStmt:
		s.writeByte(TagWhile)
		s.expr(n.Cond)
		s.stmts(n.Body)

	case *compiler.ForStmt:
		s.writeByte(TagFor)
		s.expr(n.Var)
		s.expr(n.Iter)
		s.stmts(n.Body)

	case *compiler.BreakStmt:
		s.writeByte(TagBreak)

	case *compiler.ContinueStmt:
		s.writeByte(TagContinue)

	case *compiler.ReturnStmt:
		s.writeByte(TagReturn)
		s.optExpr(n.Value)

	case *compiler.PassStmt:
		s.writeByte(TagPass)

	case *compiler.RaiseStmt:
		s.writeByte(TagRaise)
		s.optExpr(n.Exc)

	case *compiler.TryStmt:
		s.writeByte(TagTry)
		s.stmts(n.Body)
		s.writeUint32(uint32(len(n.Handlers)))
		for _, h := range n.Handlers {
			s.writeByte(TagHandler)
			s.writeUint32(uint32(len(h.Types)))
			for _, t := range h.Types {
				s.expr(t)
			}
			if h.Bind != nil {
				s.expr(h.Bind)
			} else {
				s.writeByte(TagAbsent)
			}
			s.stmts(h.Body)
		}
		s.writeBool(n.HasElse)
		s.stmts(n.Else)
		s.writeBool(n.HasFinally)
		s.stmts(n.Finally)

	case *compiler.ParallelStmt:
		s.writeByte(TagParallel)
		s.stmts(n.Body)

	case *compiler.SequentialStmt:
		s.writeByte(TagSequential)
		s.stmts(n.Body)
	}
}

func (s *serializer) expr(e compiler.Expr) {
	switch n := e.(type) {
	case *compiler.IntLiteral:
		s.writeByte(TagIntLiteral)
		s.writeInt64(n.Value)

	case *compiler.FloatLiteral:
		s.writeByte(TagFloatLiteral)
		s.writeFloat64(n.Value)

	case *compiler.StringLiteral:
		s.writeByte(TagStringLiteral)
		s.writeString(n.Value)

	case *compiler.BoolLiteral:
		s.writeByte(TagBoolLiteral)
		s.writeBool(n.Value)

	case *compiler.NoneLiteral:
		s.writeByte(TagNoneLiteral)

	case *compiler.ListExpr:
		s.writeByte(TagList)
		s.exprs(n.Elems)

	case *compiler.TupleExpr:
		s.writeByte(TagTuple)
		s.exprs(n.Elems)

	case *compiler.Name:
		switch n.Scope {
		case compiler.ScopeLocal:
			s.writeByte(TagLocalRef)
			s.writeUint16(uint16(n.Slot))
		case compiler.ScopeConstant:
			s.writeByte(TagConstantRef)
			s.writeString(n.Name)
		default:
			s.writeByte(TagTypeRef)
			s.writeString(n.Name)
		}

	case *compiler.SelfAttr:
		s.writeByte(TagSelfAttr)
		s.writeString(n.Attr)

	case *compiler.FieldExpr:
		s.writeByte(TagField)
		s.writeString(n.Field)
		s.expr(n.X)

	case *compiler.IndexExpr:
		s.writeByte(TagIndex)
		s.expr(n.X)
		s.expr(n.Index)

	case *compiler.CallExpr:
		s.writeByte(TagCall)
		s.writeByte(byte(n.Kind))
		s.writeString(n.Func)
		s.exprs(n.Args)

	case *compiler.MethodCall:
		s.writeByte(TagMethod)
		s.writeString(n.Method)
		s.expr(n.Recv)
		s.exprs(n.Args)

	case *compiler.BinaryExpr:
		s.writeByte(TagBinary)
		s.writeString(n.Op)
		s.expr(n.X)
		s.expr(n.Y)

	case *compiler.LogicalExpr:
		s.writeByte(TagLogical)
		s.writeString(n.Op)
		s.expr(n.X)
		s.expr(n.Y)

	case *compiler.UnaryExpr:
		s.writeByte(TagUnary)
		s.writeString(n.Op)
		s.expr(n.X)
	}
}
