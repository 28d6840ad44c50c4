package chat_completions

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LineSource yields upstream lines one at a time. NextLine blocks until a line
// is available and returns io.EOF once the upstream is exhausted.
type LineSource interface {
	NextLine() ([]byte, error)
}

type scannerSource struct {
	scanner *bufio.Scanner
}

// NewScannerSource splits r into lines of at most maxLine bytes.
func NewScannerSource(r io.Reader, maxLine int) LineSource {
	scanner := bufio.NewScanner(r)
	if maxLine > 0 {
		scanner.Buffer(nil, maxLine)
	}
	return &scannerSource{scanner: scanner}
}

func (s *scannerSource) NextLine() ([]byte, error) {
	if s.scanner.Scan() {
		return bytes.Clone(s.scanner.Bytes()), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// onceCloser closes the upstream body exactly once across every exit path.
type onceCloser struct {
	once   sync.Once
	closer io.Closer
	log    log.FieldLogger
}

func newOnceCloser(c io.Closer, logger log.FieldLogger) *onceCloser {
	return &onceCloser{closer: c, log: logger}
}

func (c *onceCloser) Close() {
	c.once.Do(func() {
		if c.closer == nil {
			return
		}
		if err := c.closer.Close(); err != nil {
			c.log.Warnf("grok translator: close upstream body: %v", err)
		}
	})
}

type lineResult struct {
	line []byte
	err  error
}

// lineWorker pulls from a blocking LineSource on its own goroutine. It reads
// one line per request, so nothing is consumed after the owner stops asking.
type lineWorker struct {
	want chan struct{}
	got  chan lineResult
	quit chan struct{}
	done chan struct{}
}

func startLineWorker(src LineSource) *lineWorker {
	w := &lineWorker{
		want: make(chan struct{}),
		got:  make(chan lineResult, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run(src)
	return w
}

func (w *lineWorker) run(src LineSource) {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case <-w.want:
		}
		line, err := src.NextLine()
		// got is buffered, so a result nobody waits for never blocks the worker.
		w.got <- lineResult{line: line, err: err}
		if err != nil {
			return
		}
	}
}

// request asks for the next line; the result arrives on got.
func (w *lineWorker) request() bool {
	select {
	case w.want <- struct{}{}:
		return true
	case <-w.done:
		return false
	}
}

// stop releases the worker. A read still blocked in NextLine returns once the
// upstream body is closed.
func (w *lineWorker) stop() {
	close(w.quit)
}
