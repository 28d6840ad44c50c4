package chat_completions

import (
	"strings"
)

const (
	thinkOpen  = "<think>\n"
	thinkClose = "\n</think>\n"
)

// thinkingState is the part of a lifecycle the reasoning table reads and writes.
type thinkingState struct {
	thinking bool
	// finished latches after the first reasoning section closes.
	finished bool
}

type tokenFilter struct {
	tags         []string
	showThinking bool
}

func (f tokenFilter) filtered(text string) bool {
	for _, tag := range f.tags {
		if tag != "" && strings.Contains(text, tag) {
			return true
		}
	}
	return false
}

// stepThinking evaluates the reasoning table for one token. It has no side
// effects: the caller stores the returned state and emits text when ok.
func stepThinking(st thinkingState, tok TextToken, f tokenFilter) (next thinkingState, text string, ok bool) {
	if tok.NonText || tok.Text == "" || f.filtered(tok.Text) {
		return st, "", false
	}
	if st.finished && tok.IsThinking {
		return st, "", false
	}

	text = tok.Text
	if tok.ToolCardID != "" {
		// Tool cards only surface as search listings inside visible reasoning.
		if !tok.HasWebSearch || !tok.IsThinking || !f.showThinking {
			return st, "", false
		}
		text += formatSearchResults(tok.WebSearch)
	}
	if tok.MessageTag == "header" {
		text = "\n\n" + text + "\n\n"
	}

	next = st
	next.thinking = tok.IsThinking
	switch {
	case !st.thinking && tok.IsThinking:
		if !f.showThinking {
			return next, "", false
		}
		text = thinkOpen + text
	case st.thinking && !tok.IsThinking:
		next.finished = true
		if f.showThinking {
			text = thinkClose + text
		}
	case tok.IsThinking && !f.showThinking:
		return next, "", false
	}
	return next, text, true
}

func formatSearchResults(results []SearchResult) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString("\n- [")
		b.WriteString(r.Title)
		b.WriteString("](")
		b.WriteString(r.URL)
		b.WriteString(` "`)
		b.WriteString(strings.ReplaceAll(r.Preview, "\n", ""))
		b.WriteString(`")`)
	}
	b.WriteString("\n")
	return b.String()
}
