package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// fakeQuerier records executed statements so the write path can be
// verified without a live database.
type fakeQuerier struct {
	execs   []string
	args    [][]any
	execErr error
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestReplaceChunksDeletesBeforeInserting(t *testing.T) {
	q := &fakeQuerier{}
	chunks := []knowledge.Chunk{
		{ChunkID: 0, Content: "first", Embedding: []float32{1, 0}},
		{ChunkID: 1, Content: "second", Embedding: []float32{0, 1}},
	}

	if err := replaceChunks(context.Background(), q, "doc1", chunks); err != nil {
		t.Fatalf("replaceChunks: %v", err)
	}

	if len(q.execs) != 3 {
		t.Fatalf("got %d statements, want delete + 2 inserts", len(q.execs))
	}
	if q.execs[0] != deleteDocumentSQL {
		t.Errorf("first statement must clear old chunks, got %q", q.execs[0])
	}
	for i, sql := range q.execs[1:] {
		if sql != insertChunkSQL {
			t.Errorf("statement %d = %q, want insert", i+1, sql)
		}
		if q.args[i+1][0] != "doc1" {
			t.Errorf("insert %d bound doc_id %v, want doc1", i, q.args[i+1][0])
		}
	}
}

func TestReplaceChunksPropagatesExecError(t *testing.T) {
	q := &fakeQuerier{execErr: errors.New("connection reset")}

	err := replaceChunks(context.Background(), q, "doc1", nil)
	if err == nil {
		t.Fatal("expected an error from the failing querier")
	}
	if len(q.execs) != 1 {
		t.Errorf("got %d statements after first failure, want 1", len(q.execs))
	}
}
