package chat_completions

import (
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/grok2api/internal/config"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func supervisorAt(first, total, chunk time.Duration) (*timeoutSupervisor, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	opts := Options{
		StreamSettings: config.StreamSettings{
			FirstResponseTimeout: first,
			TotalTimeout:         total,
			ChunkTimeout:         chunk,
		},
		now: clock.now,
	}
	return newTimeoutSupervisor(opts), clock
}

func TestTimeoutSupervisor_FirstResponseWins(t *testing.T) {
	sup, clock := supervisorAt(time.Second, 600*time.Second, 120*time.Second)
	clock.advance(1100 * time.Millisecond)
	reason, expired := sup.check()
	if !expired {
		t.Fatal("expected first-response expiry")
	}
	if !strings.Contains(reason, "首次响应超时") || reason != "首次响应超时(1秒)" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestTimeoutSupervisor_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		first    time.Duration
		total    time.Duration
		chunk    time.Duration
		received bool
		advance  time.Duration
		want     string
	}{
		{"first before total", 5 * time.Second, 5 * time.Second, time.Second, false, 10 * time.Second, "首次响应超时(5秒)"},
		{"total before chunk", 5 * time.Second, 5 * time.Second, time.Second, true, 10 * time.Second, "总超时(5秒)"},
		{"chunk", 5 * time.Second, 0, 2 * time.Second, true, 3 * time.Second, "数据块超时(2秒)"},
		{"fractional seconds", 1500 * time.Millisecond, 0, 0, false, 2 * time.Second, "首次响应超时(1.5秒)"},
		{"all disabled", 0, 0, 0, false, time.Hour, ""},
		{"within limits", 30 * time.Second, 600 * time.Second, 120 * time.Second, true, 10 * time.Second, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, clock := supervisorAt(tt.first, tt.total, tt.chunk)
			if tt.received {
				sup.markReceived()
			}
			clock.advance(tt.advance)
			reason, expired := sup.check()
			if expired != (tt.want != "") || reason != tt.want {
				t.Fatalf("check() = (%q, %v), want %q", reason, expired, tt.want)
			}
		})
	}
}

func TestTimeoutSupervisor_MarkReceivedResetsChunkWindow(t *testing.T) {
	sup, clock := supervisorAt(time.Second, 0, 2*time.Second)
	for i := 0; i < 5; i++ {
		clock.advance(1500 * time.Millisecond)
		sup.markReceived()
		if reason, expired := sup.check(); expired {
			t.Fatalf("iteration %d expired: %s", i, reason)
		}
	}
	if got := sup.elapsed(); got != 7500*time.Millisecond {
		t.Fatalf("elapsed = %s", got)
	}
}
