package dictation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field names accepted in model output, English first.
var (
	promptKeys      = []string{"question", "题目"}
	answerKeys      = []string{"answer", "答案"}
	explanationKeys = []string{"explanation", "解析"}
)

// ParseQuestions extracts questions from a raw model reply.
//
// The reply is cut from its first '[' to its last ']' and decoded as an array
// of objects; non-object elements are skipped. This tolerates prose around the
// array but is best-effort: a stray bracket in the surrounding text can break
// the cut. If the array does not decode, the reply is tried as an object with
// a "questions" array. Entries lacking a prompt or an answer are dropped.
//
// It returns ErrMalformedResponse when nothing decodes and ErrEmptyResult when
// nothing survives filtering.
func ParseQuestions(raw string) ([]Question, error) {
	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}

	var out []Question
	for _, it := range items {
		var obj map[string]any
		if json.Unmarshal(it, &obj) != nil || obj == nil {
			continue
		}
		q, ok := newQuestion(
			firstString(obj, promptKeys),
			firstString(obj, answerKeys),
			firstString(obj, explanationKeys),
		)
		if ok {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyResult
	}
	return out, nil
}

func decodeItems(raw string) ([]json.RawMessage, error) {
	text := raw
	if start, end := strings.IndexByte(raw, '['), strings.LastIndexByte(raw, ']'); start >= 0 && end > start {
		text = raw[start : end+1]
	}

	var items []json.RawMessage
	arrErr := json.Unmarshal([]byte(text), &items)
	if arrErr == nil {
		return items, nil
	}

	obj := raw
	if start, end := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}'); start >= 0 && end > start {
		obj = raw[start : end+1]
	}
	var wrapper struct {
		Questions []json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(obj), &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, arrErr)
	}
	return wrapper.Questions, nil
}

// firstString returns the first key whose value is non-blank. Numbers and
// booleans are accepted in their JSON spelling.
func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		var s string
		switch v := obj[k].(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(v)
		}
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func newQuestion(prompt, answer, explanation string) (Question, bool) {
	prompt, answer = strings.TrimSpace(prompt), strings.TrimSpace(answer)
	if prompt == "" || answer == "" {
		return Question{}, false
	}
	return Question{
		Prompt:      prompt,
		Answer:      answer,
		Explanation: strings.TrimSpace(explanation),
	}, true
}
