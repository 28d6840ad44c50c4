package chat_completions

import (
	"github.com/tidwall/gjson"
)

// EventKind tags the primary meaning of one upstream line.
type EventKind int

const (
	// EventEmpty carries no response payload and is ignored.
	EventEmpty EventKind = iota
	EventError
	EventVideo
	EventImageAttachment
	EventModelFinal
	EventToken
)

func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventVideo:
		return "video"
	case EventImageAttachment:
		return "image_attachment"
	case EventModelFinal:
		return "model_final"
	case EventToken:
		return "token"
	default:
		return "empty"
	}
}

// UpstreamFault is the error object Grok reports in place of a response.
type UpstreamFault struct {
	Message string
	Code    string
}

// VideoProgress is a streamingVideoGenerationResponse payload.
type VideoProgress struct {
	Progress int
	VideoURL string
}

// ModelFinal is a finalized modelResponse payload.
type ModelFinal struct {
	Message   string
	Model     string
	Error     string
	ImageURLs []string
}

// SearchResult is one webSearchResults entry.
type SearchResult struct {
	Title   string
	URL     string
	Preview string
}

// TextToken holds the token and the attributes the reasoning table reads.
type TextToken struct {
	Text         string
	NonText      bool
	IsThinking   bool
	ToolCardID   string
	HasWebSearch bool
	WebSearch    []SearchResult
	MessageTag   string
}

// Event is one decoded upstream line. Kind names the handler that owns it;
// the payload pointers stay populated independently because the single-shot
// reducer and the streaming driver consult them in different orders.
type Event struct {
	Kind  EventKind
	Model string // userResponse.model, when reported
	Fault *UpstreamFault
	Video *VideoProgress
	Final *ModelFinal
	Token TextToken
}

// DecodeEvent parses one non-empty upstream line.
func DecodeEvent(line []byte) (Event, error) {
	if !gjson.ValidBytes(line) {
		return Event{}, &Error{Kind: KindJSONDecode, Message: "invalid JSON in upstream line"}
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return Event{}, &Error{Kind: KindJSONDecode, Message: "upstream line is not a JSON object"}
	}

	if fault := root.Get("error"); present(fault) {
		msg := fault.Get("message").String()
		if fault.Type == gjson.String {
			msg = fault.Str
		}
		if msg == "" {
			msg = "unknown error"
		}
		return Event{Kind: EventError, Fault: &UpstreamFault{Message: msg, Code: fault.Get("code").String()}}, nil
	}

	resp := root.Get("result.response")
	if !resp.IsObject() || !present(resp) {
		return Event{Kind: EventEmpty}, nil
	}

	ev := Event{
		Model: resp.Get("userResponse.model").String(),
		Token: decodeToken(resp),
	}

	if video := resp.Get("streamingVideoGenerationResponse"); present(video) {
		ev.Video = &VideoProgress{
			Progress: int(video.Get("progress").Int()),
			VideoURL: video.Get("videoUrl").String(),
		}
	}
	if model := resp.Get("modelResponse"); present(model) {
		ev.Final = decodeModelFinal(model)
	}

	switch {
	case ev.Video != nil:
		ev.Kind = EventVideo
	case present(resp.Get("imageAttachmentInfo")):
		ev.Kind = EventImageAttachment
	case ev.Final != nil:
		ev.Kind = EventModelFinal
	default:
		ev.Kind = EventToken
	}
	return ev, nil
}

func decodeToken(resp gjson.Result) TextToken {
	tok := TextToken{
		IsThinking: resp.Get("isThinking").Bool(),
		ToolCardID: resp.Get("toolUsageCardId").String(),
		MessageTag: resp.Get("messageTag").String(),
	}
	switch raw := resp.Get("token"); raw.Type {
	case gjson.String:
		tok.Text = raw.Str
	case gjson.Null:
	default:
		tok.NonText = true
	}
	if web := resp.Get("webSearchResults"); present(web) {
		tok.HasWebSearch = true
		web.Get("results").ForEach(func(_, item gjson.Result) bool {
			tok.WebSearch = append(tok.WebSearch, SearchResult{
				Title:   item.Get("title").String(),
				URL:     item.Get("url").String(),
				Preview: item.Get("preview").String(),
			})
			return true
		})
	}
	return tok
}

func decodeModelFinal(model gjson.Result) *ModelFinal {
	final := &ModelFinal{
		Message: model.Get("message").String(),
		Model:   model.Get("model").String(),
	}
	if errVal := model.Get("error"); present(errVal) {
		switch {
		case errVal.Type == gjson.String:
			final.Error = errVal.Str
		case errVal.Get("message").String() != "":
			final.Error = errVal.Get("message").String()
		default:
			final.Error = errVal.Raw
		}
	}
	model.Get("generatedImageUrls").ForEach(func(_, img gjson.Result) bool {
		if path := img.String(); path != "" {
			final.ImageURLs = append(final.ImageURLs, path)
		}
		return true
	})
	return final
}

// present reports whether r holds a truthy value: not missing, null, false,
// zero, or an empty string, array or object.
func present(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.JSON:
		empty := true
		r.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return !empty
	default:
		return true
	}
}
