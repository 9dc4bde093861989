package compat

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// streamEvent is one decoded "data:" payload. Delta and Message are pointers
// so that an absent delta can be told apart from an empty one.
type streamEvent struct {
	Choices []struct {
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ParseLine interprets a single server-sent event line.
//
// done is true for the "data: [DONE]" sentinel. ok is true when the line
// carried a decodable event; token is then the incremental content from
// choices[0].delta.content, or choices[0].message.content when the event has
// no delta. Lines without the "data:" prefix, blank lines, and malformed JSON
// all yield ok == false and are meant to be skipped.
func ParseLine(line string) (token string, done bool, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return "", false, false
	}
	if payload == doneSentinel {
		return "", true, false
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", false, false
	}
	if len(ev.Choices) == 0 {
		return "", false, true
	}
	choice := ev.Choices[0]
	switch {
	case choice.Delta != nil:
		return choice.Delta.Content, false, true
	case choice.Message != nil:
		return choice.Message.Content, false, true
	}
	return "", false, true
}
