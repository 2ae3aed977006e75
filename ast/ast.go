// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ast declares the syntax tree the parser produces. It is a
// discriminated tree: statements, query expressions, scalar expressions,
// predicates and clauses, each retaining its source position. The tree is
// immutable once built and is consumed exclusively by the plan builder and
// the IntelliSense package; nothing in this package depends on them.
package ast

// Pos is a source-text position, 1-based to match editor conventions.
type Pos struct {
	Line   int
	Column int
	Offset int
}

// Node is implemented by every syntax tree node so diagnostics and
// completion can report a location.
type Node interface {
	Position() Pos
}

// Positioned is embedded by every concrete node to satisfy Node. It is
// exported (unlike a private base struct) specifically so the parser
// package can build node literals directly: ast.SelectStmt{Positioned:
// ast.Positioned{Pos: pos}, ...}.
type Positioned struct{ Pos Pos }

func (p Positioned) Position() Pos { return p.Pos }

// Script is the parse result of one T-SQL batch: an ordered list of
// statements sharing one session.
type Script struct {
	Statements []Statement
}

// Statement is any top-level executable unit.
type Statement interface {
	Node
	statementNode()
}

// ---- Query expressions ----

// QueryExpr is a SELECT, or a UNION/INTERSECT/EXCEPT combination of them.
type QueryExpr interface {
	Node
	queryExprNode()
}

// SetOp names a set operation combinator between two query expressions.
type SetOp int

const (
	UnionAll SetOp = iota
	Union
	Intersect
	Except
)

// BinaryQueryExpr is a UNION/UNION ALL/INTERSECT/EXCEPT between two query
// expressions, collected recursively by the plan builder (spec §4.B).
type BinaryQueryExpr struct {
	Positioned
	Op          SetOp
	Left, Right QueryExpr
}

func (*BinaryQueryExpr) queryExprNode() {}

// CTE is one WITH clause entry.
type CTE struct {
	Name    string
	Columns []string
	Query   QueryExpr
}

// SelectStmt is a single SELECT, including its clauses. TOP/OFFSET-FETCH
// are mutually exclusive in T-SQL; both fields are optional.
type SelectStmt struct {
	Positioned
	CTEs     []CTE
	Distinct bool
	Top      *TopClause
	Columns  []SelectItem
	From     []TableSource
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Offset   Expr
	Fetch    Expr
	Options  map[string]string
}

func (*SelectStmt) queryExprNode() {}

// TopClause is TOP n [PERCENT] [WITH TIES].
type TopClause struct {
	Count    Expr
	Percent  bool
	WithTies bool
}

// SelectItem is one projected column: either `expr [AS alias]` or `*`/`t.*`.
type SelectItem struct {
	Positioned
	Star      bool
	StarTable string
	Expr      Expr
	Alias     string
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// JoinKind enumerates supported JOIN variants.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
	CrossJoin
)

// TableSource is a FROM-clause entry: a base table, a derived table, a
// table-valued function call, or a join of two TableSources.
type TableSource interface {
	Node
	tableSourceNode()
}

// NamedTable is `schema.table [AS alias]`.
type NamedTable struct {
	Positioned
	Schema string
	Name   string
	Alias  string
}

func (*NamedTable) tableSourceNode() {}

// DerivedTable is `(subquery) AS alias`.
type DerivedTable struct {
	Positioned
	Query QueryExpr
	Alias string
}

func (*DerivedTable) tableSourceNode() {}

// TableValuedFunction is `OPENJSON(...)`/`STRING_SPLIT(...)` etc.
type TableValuedFunction struct {
	Positioned
	Name  string
	Args  []Expr
	Alias string
}

func (*TableValuedFunction) tableSourceNode() {}

// JoinTable is `Left <kind> JOIN Right ON On`.
type JoinTable struct {
	Positioned
	Kind  JoinKind
	Left  TableSource
	Right TableSource
	On    Expr
}

func (*JoinTable) tableSourceNode() {}

// ---- Scalar expressions & predicates ----

// Expr is any scalar expression or predicate; predicates are just
// expressions that evaluate to a boolean QueryValue.
type Expr interface {
	Node
	exprNode()
}

// LiteralKind mirrors coretypes.Tag at the syntax level so this package
// need not import coretypes.
type LiteralKind int

const (
	LitNull LiteralKind = iota
	LitBool
	LitInt
	LitDecimal
	LitFloat
	LitString
	LitDateTime
)

type Literal struct {
	Positioned
	Kind LiteralKind
	Text string // original lexeme, parsed lazily by the compiler
}

func (*Literal) exprNode() {}

// ColumnRef is `[table.]column`.
type ColumnRef struct {
	Positioned
	Table  string
	Column string
}

func (*ColumnRef) exprNode() {}

// Variable is `@name`.
type Variable struct {
	Positioned
	Name string
}

func (*Variable) exprNode() {}

// SystemFunc is a niladic system function reference: @@ERROR,
// ERROR_MESSAGE(), @@FETCH_STATUS.
type SystemFunc struct {
	Positioned
	Name string
}

func (*SystemFunc) exprNode() {}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpLike
	OpIn
)

type BinaryExpr struct {
	Positioned
	Op          BinaryOp
	Left, Right Expr
	// Escape is the LIKE ... ESCAPE 'char' clause, if any.
	Escape Expr
	// InList is the literal list for `x IN (1,2,3)`; InSubquery is the
	// subquery for `x IN (SELECT ...)`. Exactly one is set when Op==OpIn.
	InList     []Expr
	InSubquery QueryExpr
	Negated    bool
}

func (*BinaryExpr) exprNode() {}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
	OpIsNull
	OpIsNotNull
)

type UnaryExpr struct {
	Positioned
	Op   UnaryOp
	Expr Expr
}

func (*UnaryExpr) exprNode() {}

// WhenClause is one WHEN ... THEN ... of a CASE expression.
type WhenClause struct {
	When Expr
	Then Expr
}

// CaseExpr covers both simple (`CASE x WHEN ...`) and searched
// (`CASE WHEN ...`) forms; Operand is nil for the searched form.
type CaseExpr struct {
	Positioned
	Operand Expr
	Whens   []WhenClause
	Else    Expr
}

func (*CaseExpr) exprNode() {}

// FuncCall is a scalar function invocation, including aggregate and window
// functions (disambiguated by the plan builder via the presence of Over).
type FuncCall struct {
	Positioned
	Name     string
	Args     []Expr
	Distinct bool
	Over     *OverClause
}

func (*FuncCall) exprNode() {}

// FrameBound enumerates ROWS/RANGE BETWEEN bound kinds.
type FrameBound int

const (
	BoundUnboundedPreceding FrameBound = iota
	BoundPreceding
	BoundCurrentRow
	BoundFollowing
	BoundUnboundedFollowing
)

// WindowFrame is the ROWS|RANGE BETWEEN ... AND ... clause.
type WindowFrame struct {
	IsRange     bool
	StartBound  FrameBound
	StartOffset Expr
	EndBound    FrameBound
	EndOffset   Expr
}

// OverClause is OVER (PARTITION BY ... ORDER BY ... [ROWS|RANGE ...]).
type OverClause struct {
	PartitionBy []Expr
	OrderBy     []OrderItem
	Frame       *WindowFrame
}

// SubqueryExpr wraps a scalar or EXISTS subquery used inside an expression.
type SubqueryExpr struct {
	Positioned
	Query  QueryExpr
	Exists bool
}

func (*SubqueryExpr) exprNode() {}

// CastExpr covers CAST/CONVERT/TRY_CONVERT.
type CastExpr struct {
	Positioned
	Try    bool
	Expr   Expr
	Target string
}

func (*CastExpr) exprNode() {}

// ---- DML statements ----

type InsertStmt struct {
	Positioned
	Table   NamedTable
	Columns []string
	// Values holds literal VALUES rows; Source holds a SELECT source.
	// Exactly one is populated.
	Values [][]Expr
	Source QueryExpr
}

func (*InsertStmt) statementNode() {}

type UpdateStmt struct {
	Positioned
	Table NamedTable
	Set   []Assignment
	From  []TableSource
	Where Expr
}

func (*UpdateStmt) statementNode() {}

type Assignment struct {
	Column string
	Value  Expr
}

type DeleteStmt struct {
	Positioned
	Table NamedTable
	From  []TableSource
	Where Expr
}

func (*DeleteStmt) statementNode() {}

// MergeActionKind enumerates the WHEN clauses of a MERGE statement. Only
// NotMatchedInsert is supported at plan time (spec §4.B); the others parse
// successfully so the plan builder can reject them with a clear message.
type MergeActionKind int

const (
	MatchedUpdate MergeActionKind = iota
	MatchedDelete
	NotMatchedInsert
)

type MergeAction struct {
	Kind    MergeActionKind
	Columns []string
	Values  []Expr
	Set     []Assignment
}

type MergeStmt struct {
	Positioned
	Target  NamedTable
	Source  TableSource
	On      Expr
	Actions []MergeAction
}

func (*MergeStmt) statementNode() {}

// ---- script control flow ----

type DeclareStmt struct {
	Positioned
	Variable string
	Type     string
	Initial  Expr
}

func (*DeclareStmt) statementNode() {}

type SetStmt struct {
	Positioned
	Variable string
	Value    Expr
}

func (*SetStmt) statementNode() {}

type IfStmt struct {
	Positioned
	Cond Expr
	Then []Statement
	Else []Statement
}

func (*IfStmt) statementNode() {}

type WhileStmt struct {
	Positioned
	Cond Expr
	Body []Statement
}

func (*WhileStmt) statementNode() {}

type TryCatchStmt struct {
	Positioned
	Try   []Statement
	Catch []Statement
}

func (*TryCatchStmt) statementNode() {}

type ExecuteStmt struct {
	Positioned
	ProcedureOrString string
	Args              []Expr
}

func (*ExecuteStmt) statementNode() {}

type ExecuteAsStmt struct {
	Positioned
	LoginOrUser string
}

func (*ExecuteAsStmt) statementNode() {}

type RevertStmt struct {
	Positioned
}

func (*RevertStmt) statementNode() {}

type CreateTempTableStmt struct {
	Positioned
	Name    string
	Columns []ColumnDef
}

func (*CreateTempTableStmt) statementNode() {}

type ColumnDef struct {
	Name string
	Type string
}

type DropTempTableStmt struct {
	Positioned
	Name string
}

func (*DropTempTableStmt) statementNode() {}

// SelectAsStmt wraps a bare SELECT/UNION query expression as a statement.
type SelectAsStmt struct {
	Positioned
	Query QueryExpr
}

func (*SelectAsStmt) statementNode() {}

// BlockStmt is a bare BEGIN...END block (as opposed to BEGIN TRY/CATCH).
// It exists purely for grouping; the plan builder flattens it into a
// Script the same way it would a top-level statement list.
type BlockStmt struct {
	Positioned
	Body []Statement
}

func (*BlockStmt) statementNode() {}
