package authz

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

func testRegistry() *metadata.Registry {
	reg := metadata.NewRegistry()
	reg.Load([]*metadata.Entity{
		{
			Name:       "page",
			Table:      "pages",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "title", Type: "string", Required: true},
				{Name: "userId", Type: "int", Required: true},
				{Name: "body", Type: "text", Nullable: true},
				{Name: "created_at", Type: "timestamp", Auto: "create"},
			},
		},
		{
			Name:       "article",
			Table:      "articles",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "title", Type: "string", Required: true},
				{Name: "topic", Type: "string", Required: true},
				{Name: "status", Type: "string", Required: true, Default: "draft"},
			},
		},
		{
			Name:       "note",
			Table:      "notes",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "userId", Type: "int"},
				{Name: "text", Type: "text"},
			},
		},
	})
	return reg
}

func newTestEngine(t *testing.T, strategy MergeStrategy, rules ...Rule) *Engine {
	t.Helper()
	e, err := New(Config{MergeStrategy: strategy}, testRegistry())
	require.NoError(t, err)
	require.NoError(t, e.RegisterRules(rules))
	return e
}

func asUser(claims map[string]any) context.Context {
	return entity.WithRequest(context.Background(), &entity.Request{
		User: &metadata.UserContext{Claims: claims},
	})
}

// memTable is an in-memory entity.Operations honouring eq, neq and in
// predicates, enough to observe what the hooks hand to the entity layer.
type memTable struct {
	mu     sync.Mutex
	ent    *metadata.Entity
	rows   []entity.Row
	nextID int

	finds       []entity.FindArgs
	lastOptions map[string]any
	lastTx      entity.Querier
	lastFields  []string
}

func newMemTable(ent *metadata.Entity, rows ...entity.Row) *memTable {
	m := &memTable{ent: ent, nextID: 1}
	for _, r := range rows {
		m.rows = append(m.rows, copyRow(r))
		if id, ok := r["id"].(int); ok && id >= m.nextID {
			m.nextID = id + 1
		}
	}
	return m
}

func copyRow(r entity.Row) entity.Row {
	out := make(entity.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func sameValue(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func matches(w entity.Where, row entity.Row) bool {
	for field, cond := range w.Fields {
		for op, v := range cond {
			switch op {
			case entity.OpEq:
				if !sameValue(row[field], v) {
					return false
				}
			case entity.OpNeq:
				if sameValue(row[field], v) {
					return false
				}
			case entity.OpIn:
				found := false
				list, _ := v.([]any)
				for _, item := range list {
					if sameValue(row[field], item) {
						found = true
					}
				}
				if !found {
					return false
				}
			default:
				panic("memTable: unsupported comparator " + op)
			}
		}
	}
	if len(w.Or) == 0 {
		return true
	}
	for _, branch := range w.Or {
		if matches(branch, row) {
			return true
		}
	}
	return false
}

func (m *memTable) Find(_ context.Context, args entity.FindArgs) ([]entity.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds = append(m.finds, args)
	m.lastOptions = args.Options
	m.lastTx = args.Tx
	m.lastFields = args.Fields
	var out []entity.Row
	for _, r := range m.rows {
		if matches(args.Where, r) {
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

func (m *memTable) Count(_ context.Context, args entity.CountArgs) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if matches(args.Where, r) {
			n++
		}
	}
	return n, nil
}

func (m *memTable) Save(_ context.Context, args entity.SaveArgs) (entity.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOptions = args.Options
	m.lastTx = args.Tx
	if id, ok := args.Input["id"]; ok {
		for _, r := range m.rows {
			if sameValue(r["id"], id) {
				for k, v := range args.Input {
					r[k] = v
				}
				return copyRow(r), nil
			}
		}
	}
	return m.insertLocked(args.Input), nil
}

func (m *memTable) insertLocked(input entity.Row) entity.Row {
	row := copyRow(input)
	if _, ok := row["id"]; !ok {
		row["id"] = m.nextID
		m.nextID++
	}
	m.rows = append(m.rows, row)
	return copyRow(row)
}

func (m *memTable) Insert(_ context.Context, args entity.InsertArgs) ([]entity.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOptions = args.Options
	out := make([]entity.Row, 0, len(args.Inputs))
	for _, in := range args.Inputs {
		out = append(out, m.insertLocked(in))
	}
	return out, nil
}

func (m *memTable) Delete(_ context.Context, args entity.DeleteArgs) ([]entity.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFields = args.Fields
	var kept, deleted []entity.Row
	for _, r := range m.rows {
		if matches(args.Where, r) {
			deleted = append(deleted, r)
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return deleted, nil
}

func (m *memTable) UpdateMany(_ context.Context, args entity.UpdateManyArgs) ([]entity.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Row
	for _, r := range m.rows {
		if matches(args.Where, r) {
			for k, v := range args.Input {
				r[k] = v
			}
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

func (m *memTable) row(id int) entity.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if sameValue(r["id"], id) {
			return copyRow(r)
		}
	}
	return nil
}

// fakeTx stands in for a *sql.Tx; the hooks only pass it through.
type fakeTx struct{ name string }

func (fakeTx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) { return nil, nil }
func (fakeTx) QueryRowContext(context.Context, string, ...any) *sql.Row        { return nil }
func (fakeTx) ExecContext(context.Context, string, ...any) (sql.Result, error) { return nil, nil }

type recordedDecision struct {
	entity, operation, outcome string
}

type decisionLog struct {
	mu        sync.Mutex
	decisions []recordedDecision
}

func (d *decisionLog) RecordDecision(entityName, operation, outcome string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decisions = append(d.decisions, recordedDecision{entityName, operation, outcome})
}

func (d *decisionLog) last() recordedDecision {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.decisions) == 0 {
		return recordedDecision{}
	}
	return d.decisions[len(d.decisions)-1]
}
