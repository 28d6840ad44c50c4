package chat_completions

import (
	"fmt"
	"strconv"
	"time"
)

// timeoutSupervisor tracks the first-response, total and inter-chunk deadlines
// of one stream. It is owned by a single driver goroutine.
type timeoutSupervisor struct {
	first time.Duration
	total time.Duration
	chunk time.Duration

	now           func() time.Time
	start         time.Time
	last          time.Time
	firstReceived bool
}

func newTimeoutSupervisor(opts Options) *timeoutSupervisor {
	now := opts.clock()
	started := now()
	return &timeoutSupervisor{
		first: opts.FirstResponseTimeout,
		total: opts.TotalTimeout,
		chunk: opts.ChunkTimeout,
		now:   now,
		start: started,
		last:  started,
	}
}

// markReceived restarts the chunk window and latches the first response.
func (t *timeoutSupervisor) markReceived() {
	t.last = t.now()
	t.firstReceived = true
}

// check returns the reason of the first exceeded deadline. Precedence is
// first response, then total, then chunk. A zero deadline is disabled.
func (t *timeoutSupervisor) check() (string, bool) {
	now := t.now()
	if !t.firstReceived && t.first > 0 && now.Sub(t.start) > t.first {
		return fmt.Sprintf("首次响应超时(%s秒)", formatSeconds(t.first)), true
	}
	if t.total > 0 && now.Sub(t.start) > t.total {
		return fmt.Sprintf("总超时(%s秒)", formatSeconds(t.total)), true
	}
	if t.firstReceived && t.chunk > 0 && now.Sub(t.last) > t.chunk {
		return fmt.Sprintf("数据块超时(%s秒)", formatSeconds(t.chunk)), true
	}
	return "", false
}

func (t *timeoutSupervisor) elapsed() time.Duration {
	return t.now().Sub(t.start)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
