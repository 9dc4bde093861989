package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if POEMS_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POEMS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POEMS_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestDocuments opens a backend on a freshly dropped schema.
func newTestDocuments(t *testing.T) *postgres.Documents {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS poem_documents CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	docs, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { docs.Close() })
	return docs
}

func TestDocuments_Upsert(t *testing.T) {
	ctx := context.Background()
	docs := newTestDocuments(t)

	if _, ok, err := docs.Get(ctx, 1, store.KindQuestions); err != nil || ok {
		t.Fatalf("Get on empty table = ok:%v err:%v", ok, err)
	}
	for _, p := range []string{`[{"question":"a"}]`, `[{"question":"b"}]`} {
		if err := docs.Put(ctx, 1, store.KindQuestions, []byte(p)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got, ok, err := docs.Get(ctx, 1, store.KindQuestions)
	if err != nil || !ok {
		t.Fatalf("Get = ok:%v err:%v", ok, err)
	}
	// JSONB normalizes whitespace; compare decoded form via the typed store.
	qs, err := store.New(docs).LoadQuestions(ctx, 1)
	if err != nil || len(qs) != 1 || qs[0].Question != "b" {
		t.Fatalf("LoadQuestions = %+v, %v (raw %s)", qs, err, got)
	}
}

func TestStore_ChatHistory(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestDocuments(t))

	msgs := []store.MessageRecord{
		{ID: "u1", Role: "user", Content: "这首诗的意境？", Timestamp: 1},
		{ID: "a1", Role: "assistant", Content: "思乡", Timestamp: 2},
	}
	if err := s.SaveChatHistory(ctx, 9, msgs); err != nil {
		t.Fatalf("SaveChatHistory: %v", err)
	}
	got, err := s.LoadChatHistory(ctx, 9)
	if err != nil {
		t.Fatalf("LoadChatHistory: %v", err)
	}
	if len(got) != 2 || got[0] != msgs[0] || got[1] != msgs[1] {
		t.Errorf("got %+v", got)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
