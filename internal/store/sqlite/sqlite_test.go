package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/internal/store/sqlite"
)

func openTemp(t *testing.T) (string, *sqlite.Documents) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "poems.db")
	docs, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return path, docs
}

func TestDocuments_GetPut(t *testing.T) {
	ctx := context.Background()
	_, docs := openTemp(t)
	defer docs.Close()

	if _, ok, err := docs.Get(ctx, 1, store.KindQuestions); err != nil || ok {
		t.Fatalf("Get on empty db = ok:%v err:%v", ok, err)
	}
	if err := docs.Put(ctx, 1, store.KindQuestions, []byte(`[{"question":"q"}]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := docs.Put(ctx, 1, store.KindQuestions, []byte(`[{"question":"q2"}]`)); err != nil {
		t.Fatalf("Put (upsert): %v", err)
	}
	got, ok, err := docs.Get(ctx, 1, store.KindQuestions)
	if err != nil || !ok || string(got) != `[{"question":"q2"}]` {
		t.Fatalf("Get = %s, %v, %v", got, ok, err)
	}
	if err := docs.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path, docs := openTemp(t)

	s := store.New(docs)
	msgs := []store.MessageRecord{{ID: "m1", Role: "user", Content: "床前明月光", Timestamp: 42}}
	if err := s.SaveChatHistory(ctx, 5, msgs); err != nil {
		t.Fatalf("SaveChatHistory: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := store.New(reopened).LoadChatHistory(ctx, 5)
	if err != nil {
		t.Fatalf("LoadChatHistory: %v", err)
	}
	if len(got) != 1 || got[0] != msgs[0] {
		t.Errorf("got %+v, want %+v", got, msgs)
	}
}
