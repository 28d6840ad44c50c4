package chat_completions

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func mustBuild(t *testing.T) func([]byte, error) []byte {
	t.Helper()
	return func(out []byte, err error) []byte {
		t.Helper()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		return out
	}
}

func TestMarshalJSON_ReportsEncodeFailure(t *testing.T) {
	out, err := marshalJSON(map[string]any{"bad": make(chan int)})
	if err == nil {
		t.Fatalf("marshalJSON succeeded with %s", out)
	}
	if out != nil {
		t.Fatalf("partial output %q on failure", out)
	}
}

func TestBuildCompletion_FreshIdentity(t *testing.T) {
	a := gjson.ParseBytes(mustBuild(t)(BuildCompletion("grok-4", "<think>\nhi")))
	b := gjson.ParseBytes(mustBuild(t)(BuildCompletion("grok-4", "<think>\nhi")))

	if a.Get("id").String() == b.Get("id").String() {
		t.Fatal("completions share an id")
	}
	if !strings.HasPrefix(a.Get("id").String(), "chatcmpl-") {
		t.Fatalf("id = %s", a.Get("id").String())
	}
	for _, path := range []string{"object", "model", "choices.0.message.content", "choices.0.message.role", "choices.0.finish_reason"} {
		if a.Get(path).String() != b.Get(path).String() {
			t.Errorf("%s differs: %q vs %q", path, a.Get(path).String(), b.Get(path).String())
		}
	}
	if a.Get("object").String() != "chat.completion" || a.Get("choices.0.message.content").String() != "<think>\nhi" {
		t.Fatalf("completion = %s", a.Raw)
	}
	if u := a.Get("usage"); !u.Exists() || u.Type != gjson.Null {
		t.Fatalf("usage = %s, want null", u.Raw)
	}
}

func TestBuildChunk_Shapes(t *testing.T) {
	interior := mustBuild(t)(BuildChunk("grok-4", "<video>", ""))
	if !strings.Contains(string(interior), `"content":"<video>"`) {
		t.Fatalf("markup was escaped: %s", interior)
	}
	c := gjson.ParseBytes(interior)
	if c.Get("object").String() != "chat.completion.chunk" || c.Get("choices.0.delta.role").String() != "assistant" {
		t.Fatalf("chunk = %s", c.Raw)
	}
	if fr := c.Get("choices.0.finish_reason"); fr.Type != gjson.Null {
		t.Fatalf("interior finish_reason = %s", fr.Raw)
	}

	final := gjson.ParseBytes(mustBuild(t)(BuildChunk("grok-4", "", "stop")))
	if final.Get("choices.0.delta").Raw != "{}" || final.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatalf("final chunk = %s", final.Raw)
	}
	if final.Get("id").String() == c.Get("id").String() {
		t.Fatal("chunks share an id")
	}
}

func TestSSEFrame(t *testing.T) {
	if got := string(SSEFrame([]byte(`{"a":1}`))); got != "data: {\"a\":1}\n\n" {
		t.Fatalf("frame = %q", got)
	}
}
