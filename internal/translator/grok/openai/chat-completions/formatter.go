package chat_completions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	finishStop  = "stop"
	finishError = "error"
)

var sseDone = []byte("data: [DONE]\n\n")

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChoice struct {
	Index        int               `json:"index"`
	Message      completionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type chatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   *struct{}          `json:"usage"`
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// BuildChunk renders one chat.completion.chunk. Each call draws a fresh id and
// timestamp. An empty content yields an empty delta; finishReason "" is null.
func BuildChunk(model, content, finishReason string) ([]byte, error) {
	choice := chunkChoice{Index: 0}
	if content != "" {
		choice.Delta = chunkDelta{Role: "assistant", Content: content}
	}
	if finishReason != "" {
		reason := finishReason
		choice.FinishReason = &reason
	}
	return marshalJSON(chatCompletionChunk{
		ID:      newCompletionID(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chunkChoice{choice},
	})
}

// BuildCompletion renders a single-shot chat.completion with usage null.
func BuildCompletion(model, content string) ([]byte, error) {
	return marshalJSON(chatCompletion{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      completionMessage{Role: "assistant", Content: content},
			FinishReason: finishStop,
		}},
	})
}

// SSEFrame wraps a JSON payload as one server-sent event record.
func SSEFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	return append(frame, '\n', '\n')
}

// marshalJSON encodes without HTML escaping so <think> and <video> markup
// reach the client verbatim.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
