// Package store persists the per-poem dictation question set and chat
// history.
//
// Backends only implement [Documents], a tiny keyed blob store; [New] layers
// the typed [Store] API and the JSON encoding on top. The JSON shapes match
// what earlier releases of the reader app wrote, so exported data round-trips.
//
// Reads are lenient: a payload that no longer decodes is logged and treated as
// empty so a corrupt record never blocks a session from opening.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Document kinds.
const (
	KindQuestions   = "dictation_questions"
	KindChatHistory = "chat_history"
)

// QuestionRecord is the persisted part of a dictation question.
type QuestionRecord struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}

// MessageRecord is a persisted chat message. Timestamp is Unix milliseconds.
type MessageRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Store is the typed persistence API used by sessions. Implementations must be
// safe for concurrent use and give read-after-write consistency within one
// process. Writes are latest-write-wins.
type Store interface {
	LoadQuestions(ctx context.Context, poemID int) ([]QuestionRecord, error)
	SaveQuestions(ctx context.Context, poemID int, questions []QuestionRecord) error
	LoadChatHistory(ctx context.Context, poemID int) ([]MessageRecord, error)
	SaveChatHistory(ctx context.Context, poemID int, messages []MessageRecord) error
	Ping(ctx context.Context) error
	Close() error
}

// Documents is a blob store keyed by (poem ID, kind).
type Documents interface {
	// Get returns ok == false when nothing is stored under the key.
	Get(ctx context.Context, poemID int, kind string) (payload []byte, ok bool, err error)
	Put(ctx context.Context, poemID int, kind string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// typed adapts Documents to Store.
type typed struct {
	docs Documents
}

// New wraps a document backend in the typed Store API.
func New(docs Documents) Store {
	return &typed{docs: docs}
}

func (t *typed) LoadQuestions(ctx context.Context, poemID int) ([]QuestionRecord, error) {
	return load[QuestionRecord](ctx, t.docs, poemID, KindQuestions)
}

func (t *typed) SaveQuestions(ctx context.Context, poemID int, questions []QuestionRecord) error {
	return save(ctx, t.docs, poemID, KindQuestions, questions)
}

func (t *typed) LoadChatHistory(ctx context.Context, poemID int) ([]MessageRecord, error) {
	return load[MessageRecord](ctx, t.docs, poemID, KindChatHistory)
}

func (t *typed) SaveChatHistory(ctx context.Context, poemID int, messages []MessageRecord) error {
	return save(ctx, t.docs, poemID, KindChatHistory, messages)
}

func (t *typed) Ping(ctx context.Context) error { return t.docs.Ping(ctx) }

func (t *typed) Close() error { return t.docs.Close() }

func load[T any](ctx context.Context, docs Documents, poemID int, kind string) ([]T, error) {
	payload, ok, err := docs.Get(ctx, poemID, kind)
	if err != nil {
		return nil, fmt.Errorf("store: load %s for poem %d: %w", kind, poemID, err)
	}
	if !ok || len(payload) == 0 {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(payload, &out); err != nil {
		slog.Warn("store: discarding undecodable record", "poem_id", poemID, "kind", kind, "err", err)
		return nil, nil
	}
	return out, nil
}

func save[T any](ctx context.Context, docs Documents, poemID int, kind string, items []T) error {
	if items == nil {
		items = []T{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("store: encode %s for poem %d: %w", kind, poemID, err)
	}
	if err := docs.Put(ctx, poemID, kind, payload); err != nil {
		return fmt.Errorf("store: save %s for poem %d: %w", kind, poemID, err)
	}
	return nil
}
