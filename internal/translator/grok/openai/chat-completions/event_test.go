package chat_completions

import (
	"testing"
)

func TestDecodeEvent_Kinds(t *testing.T) {
	tests := []struct {
		name string
		line string
		want EventKind
	}{
		{"upstream error", `{"error":{"message":"quota","code":"429"}}`, EventError},
		{"missing response", `{"result":{}}`, EventEmpty},
		{"empty response", `{"result":{"response":{}}}`, EventEmpty},
		{"token", `{"result":{"response":{"token":"hi"}}}`, EventToken},
		{"video wins over model", `{"result":{"response":{"streamingVideoGenerationResponse":{"progress":5},"modelResponse":{"message":"x"}}}}`, EventVideo},
		{"image attachment", `{"result":{"response":{"imageAttachmentInfo":{"id":"a"},"modelResponse":{"message":"x"}}}}`, EventImageAttachment},
		{"model final", `{"result":{"response":{"modelResponse":{"message":"done"}}}}`, EventModelFinal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.line))
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if ev.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", ev.Kind, tt.want)
			}
		})
	}
}

func TestDecodeEvent_Payloads(t *testing.T) {
	line := `{"result":{"response":{
		"userResponse":{"model":"grok-4"},
		"token":"abc","isThinking":true,"messageTag":"header","toolUsageCardId":"card-1",
		"webSearchResults":{"results":[{"title":"T","url":"https://e.x","preview":"p\nq"}]},
		"modelResponse":{"message":"m","model":"grok-4-final","error":"boom","generatedImageUrls":["u/1.png",""]}
	}}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Model != "grok-4" {
		t.Errorf("model = %q", ev.Model)
	}
	tok := ev.Token
	if tok.Text != "abc" || !tok.IsThinking || tok.MessageTag != "header" || tok.ToolCardID != "card-1" {
		t.Errorf("token = %+v", tok)
	}
	if !tok.HasWebSearch || len(tok.WebSearch) != 1 || tok.WebSearch[0].Preview != "p\nq" {
		t.Errorf("web search = %+v", tok.WebSearch)
	}
	if ev.Final == nil || ev.Final.Error != "boom" || ev.Final.Model != "grok-4-final" {
		t.Fatalf("final = %+v", ev.Final)
	}
	if len(ev.Final.ImageURLs) != 1 || ev.Final.ImageURLs[0] != "u/1.png" {
		t.Errorf("images = %v", ev.Final.ImageURLs)
	}
}

func TestDecodeEvent_NonTextToken(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"result":{"response":{"token":["a","b"]}}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if !ev.Token.NonText || ev.Token.Text != "" {
		t.Fatalf("token = %+v, want non-text", ev.Token)
	}
}

func TestDecodeEvent_ErrorDefaults(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"error":{"code":7}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Fault.Message != "unknown error" || ev.Fault.Code != "7" {
		t.Fatalf("fault = %+v", ev.Fault)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	for _, line := range []string{`{"result":`, `[1,2]`, `"text"`} {
		if _, err := DecodeEvent([]byte(line)); !IsKind(err, KindJSONDecode) {
			t.Errorf("DecodeEvent(%s) error = %v, want JSON_ERROR", line, err)
		}
	}
}
