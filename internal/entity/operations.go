package entity

import (
	"context"
	"database/sql"

	"rocket-guard/internal/metadata"
)

// Row is a single record as returned by the entity layer.
type Row = map[string]any

// Querier is implemented by both *sql.DB and *sql.Tx. A non-nil Querier on
// an operation's arguments pins the operation to that transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FindArgs are the arguments of Operations.Find.
type FindArgs struct {
	Where    Where
	Fields   []string
	Tx       Querier
	SkipAuth *bool
	Options  map[string]any
}

// SaveArgs are the arguments of Operations.Save.
type SaveArgs struct {
	Input    Row
	Fields   []string
	Tx       Querier
	SkipAuth *bool
	Options  map[string]any
}

// InsertArgs are the arguments of Operations.Insert.
type InsertArgs struct {
	Inputs   []Row
	Fields   []string
	Tx       Querier
	SkipAuth *bool
	Options  map[string]any
}

// DeleteArgs are the arguments of Operations.Delete.
type DeleteArgs struct {
	Where    Where
	Fields   []string
	Tx       Querier
	SkipAuth *bool
	Options  map[string]any
}

// UpdateManyArgs are the arguments of Operations.UpdateMany.
type UpdateManyArgs struct {
	Where    Where
	Input    Row
	Fields   []string
	Tx       Querier
	SkipAuth *bool
	Options  map[string]any
}

// CountArgs are the arguments of Operations.Count.
type CountArgs struct {
	Where    Where
	Tx       Querier
	SkipAuth *bool
	Options  map[string]any
}

// Operations is the capability set exposed by the entity layer for a single
// entity.
type Operations interface {
	Find(ctx context.Context, args FindArgs) ([]Row, error)
	Save(ctx context.Context, args SaveArgs) (Row, error)
	Insert(ctx context.Context, args InsertArgs) ([]Row, error)
	Delete(ctx context.Context, args DeleteArgs) ([]Row, error)
	UpdateMany(ctx context.Context, args UpdateManyArgs) ([]Row, error)
	Count(ctx context.Context, args CountArgs) (int64, error)
}

// Request is the per-call request context: the resolved identity of the
// caller.
type Request struct {
	User *metadata.UserContext
}

type requestKey struct{}

// WithRequest attaches the request context to ctx.
func WithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFrom returns the request context attached to ctx, or nil.
func RequestFrom(ctx context.Context) *Request {
	req, _ := ctx.Value(requestKey{}).(*Request)
	return req
}

// Bool returns a pointer to b, handy for SkipAuth.
func Bool(b bool) *bool {
	return &b
}
