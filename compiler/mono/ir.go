package mono

import (
	"github.com/slowlang/helpgen/compiler/layout"
)

type (
	InLayout = layout.InLayout

	Expr interface {
		isExpr()
	}

	Literal struct {
		Int int64
	}

	Call struct {
		Type CallType
		Args []Symbol
	}

	CallType interface {
		isCallType()
	}

	ByName struct {
		Name       Symbol
		RetLayout  InLayout
		ArgLayouts []InLayout
	}

	// LowLevelCall is an operation the backend implements directly
	// or a fixed-signature call into the runtime.
	LowLevelCall struct {
		Op LowLevel
	}

	StructAtIndex struct {
		Index        int
		FieldLayouts []InLayout
		Structure    Symbol
	}

	Struct struct {
		Fields []Symbol
	}

	GetTagID struct {
		Structure Symbol
		Union     InLayout
	}

	UnionAtIndex struct {
		Structure Symbol
		TagID     int
		Union     InLayout
		Index     int
	}

	Stmt interface {
		isStmt()
	}

	Let struct {
		Symbol Symbol
		Expr   Expr
		Layout InLayout
		Next   Stmt
	}

	Switch struct {
		Cond       Symbol
		CondLayout InLayout
		Branches   []Branch
		Default    Stmt
		RetLayout  InLayout
	}

	Branch struct {
		Value uint64
		Body  Stmt
	}

	Ret struct {
		Symbol Symbol
	}

	JoinPointID Symbol

	// Join defines join point ID with Body and continues with Remainder.
	// Jumps are always in tail position.
	Join struct {
		ID        JoinPointID
		Params    []Param
		Body      Stmt
		Remainder Stmt
	}

	Param struct {
		Symbol Symbol
		Layout InLayout
	}

	Jump struct {
		ID   JoinPointID
		Args []Symbol
	}

	Unreachable struct{}

	// Refcounting is an abstract refcount change to be expanded by the helper generator.
	Refcounting struct {
		Modify ModifyRc
		Next   Stmt
	}

	ModifyRc interface {
		isModifyRc()
	}

	Inc struct {
		Structure Symbol
		Amount    int64
	}

	Dec struct {
		Structure Symbol
	}

	// DecRef drops one reference without looking inside the value.
	DecRef struct {
		Structure Symbol
	}

	// Expect captures the lookups into the shared snapshot buffer if Condition is false.
	Expect struct {
		Condition     Symbol
		Region        Region
		Lookups       []Symbol
		LookupLayouts []InLayout
		LookupVars    []uint32
		Next          Stmt
	}

	Region struct {
		Start, End uint32
	}

	Proc struct {
		Name          Symbol
		Args          []Arg
		Body          Stmt
		RetLayout     InLayout
		SelfRecursive bool
	}

	Arg struct {
		Layout InLayout
		Symbol Symbol
	}

	ProcLayout struct {
		Arguments []InLayout
		Result    InLayout
	}
)

func (Literal) isExpr()       {}
func (Call) isExpr()          {}
func (StructAtIndex) isExpr() {}
func (Struct) isExpr()        {}
func (GetTagID) isExpr()      {}
func (UnionAtIndex) isExpr()  {}

func (ByName) isCallType()       {}
func (LowLevelCall) isCallType() {}

func (Let) isStmt()         {}
func (Switch) isStmt()      {}
func (Ret) isStmt()         {}
func (Join) isStmt()        {}
func (Jump) isStmt()        {}
func (Unreachable) isStmt() {}
func (Refcounting) isStmt() {}
func (Expect) isStmt()      {}

func (Inc) isModifyRc()    {}
func (Dec) isModifyRc()    {}
func (DecRef) isModifyRc() {}

func (x Inc) Symbol() Symbol    { return x.Structure }
func (x Dec) Symbol() Symbol    { return x.Structure }
func (x DecRef) Symbol() Symbol { return x.Structure }

func (p *Proc) Layout() ProcLayout {
	args := make([]InLayout, len(p.Args))

	for i, a := range p.Args {
		args[i] = a.Layout
	}

	return ProcLayout{Arguments: args, Result: p.RetLayout}
}

func (l ProcLayout) Equal(x ProcLayout) bool {
	if l.Result != x.Result || len(l.Arguments) != len(x.Arguments) {
		return false
	}

	for i, a := range l.Arguments {
		if a != x.Arguments[i] {
			return false
		}
	}

	return true
}

func (x JoinPointID) String() string { return Symbol(x).String() }

func LowLevelExpr(op LowLevel, args ...Symbol) Call {
	return Call{
		Type: LowLevelCall{Op: op},
		Args: args,
	}
}
