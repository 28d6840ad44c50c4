package chat_completions

import (
	"fmt"
	"strings"
)

// videoTracker deduplicates video generation progress for one lifecycle.
type videoTracker struct {
	last    int
	seen    bool
	started bool
}

// advance records p and returns the progress line to emit. Nothing is
// emitted unless p exceeds every earlier value; show controls whether the
// line is rendered at all while the maximum is still advanced.
func (v *videoTracker) advance(p int, show bool) (string, bool) {
	if v.seen && p <= v.last {
		return "", false
	}
	v.last, v.seen = p, true
	if !show {
		return "", false
	}

	var line string
	switch {
	case !v.started && p >= 100:
		line = fmt.Sprintf("<think>视频已生成%d%%</think>\n", p)
	case !v.started:
		line = fmt.Sprintf("<think>视频已生成%d%%\n", p)
	case p >= 100:
		line = fmt.Sprintf("视频已生成%d%%</think>\n", p)
	default:
		line = fmt.Sprintf("视频已生成%d%%\n", p)
	}
	v.started = true
	return line, true
}

// assetURL resolves an upstream asset path against base. Absolute URLs pass through.
func assetURL(base, path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func videoContent(base, videoURL string) string {
	return fmt.Sprintf(`<video src="%s" controls="controls" width="500" height="300"></video>`+"\n", assetURL(base, videoURL))
}

func imageMarkdown(base, path string) string {
	return "![Generated Image](" + assetURL(base, path) + ")"
}

// imageTerminalContent renders the finalized image list of a streamed image lifecycle.
func imageTerminalContent(base string, images []string) string {
	lines := make([]string, 0, len(images))
	for _, img := range images {
		lines = append(lines, imageMarkdown(base, img))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// appendImages adds one markdown image per generated URL to a final message.
func appendImages(base, content string, images []string) string {
	var b strings.Builder
	b.WriteString(content)
	for _, img := range images {
		b.WriteString("\n")
		b.WriteString(imageMarkdown(base, img))
	}
	return b.String()
}
