// Package chat_completions translates Grok's JSON-lines conversation stream into
// OpenAI Chat Completions output. Stream renders it as server-sent event frames
// ending with the [DONE] sentinel; Collect reduces it to one chat.completion.
package chat_completions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/router-for-me/grok2api/internal/metrics"
)

// streamState is owned by one driver goroutine for one response.
type streamState struct {
	model    string
	isImage  bool
	thinking thinkingState
	video    videoTracker
}

type streamDriver struct {
	ctx      context.Context
	opts     Options
	out      chan<- []byte
	state    streamState
	timeouts *timeoutSupervisor
	outcome  string
}

// Stream starts translating src and returns the SSE frames in upstream order.
// The channel always ends with the [DONE] frame unless ctx is canceled first.
// body is closed exactly once, on every exit path.
func Stream(ctx context.Context, src LineSource, body io.Closer, opts Options) <-chan []byte {
	out := make(chan []byte)
	d := &streamDriver{
		ctx:      ctx,
		opts:     opts,
		out:      out,
		state:    streamState{model: opts.Model},
		timeouts: newTimeoutSupervisor(opts),
	}
	go func() {
		defer close(out)
		d.run(src, body)
	}()
	return out
}

func (d *streamDriver) run(src LineSource, body io.Closer) {
	logger := d.opts.logger()
	closer := newOnceCloser(body, logger)
	worker := startLineWorker(src)
	defer func() {
		closer.Close()
		worker.stop()
		metrics.RecordStreamOutcome(d.outcome)
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("grok translator: stream panic: %v", r)
			d.fail(fmt.Errorf("%v", r))
		}
	}()

	ticker := time.NewTicker(d.opts.checkInterval())
	defer ticker.Stop()

	for {
		if reason, expired := d.timeouts.check(); expired {
			d.timeout(reason)
			return
		}
		if !worker.request() {
			d.finish(metrics.OutcomeCompleted)
			return
		}

		var res lineResult
	wait:
		for {
			select {
			case <-d.ctx.Done():
				logger.Debugf("grok translator: client gone after %s: %v", d.timeouts.elapsed(), d.ctx.Err())
				d.outcome = metrics.OutcomeCanceled
				return
			case <-ticker.C:
				if reason, expired := d.timeouts.check(); expired {
					d.timeout(reason)
					return
				}
			case res = <-worker.got:
				break wait
			}
		}

		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				logger.Infof("grok translator: stream completed in %.2fs", d.timeouts.elapsed().Seconds())
				d.finish(metrics.OutcomeCompleted)
				return
			}
			logger.Errorf("grok translator: read upstream: %v", res.err)
			d.fail(res.err)
			return
		}

		line := bytes.TrimSpace(res.line)
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeEvent(line)
		if err != nil {
			logger.Warnf("grok translator: skip malformed line: %v", err)
			continue
		}
		if d.handle(ev) {
			return
		}
	}
}

// handle applies one decoded event and reports whether it ended the response.
func (d *streamDriver) handle(ev Event) bool {
	st := &d.state
	switch ev.Kind {
	case EventError:
		d.opts.logger().Errorf("grok translator: upstream error: %s", ev.Fault.Message)
		d.terminal("Error: "+ev.Fault.Message, finishStop, metrics.OutcomeUpstreamError)
		return true
	case EventEmpty:
		return false
	}

	d.timeouts.markReceived()
	if ev.Model != "" {
		st.model = ev.Model
	}

	if ev.Kind == EventVideo {
		if line, ok := st.video.advance(ev.Video.Progress, d.opts.ShowThinking); ok {
			if !d.send(line, "") {
				return true
			}
		}
		if ev.Video.VideoURL != "" {
			d.opts.logger().Debugf("grok translator: video ready: %s", ev.Video.VideoURL)
			d.terminal(videoContent(d.opts.AssetBaseURL, ev.Video.VideoURL), finishStop, metrics.OutcomeVideo)
			return true
		}
		return false
	}

	if ev.Kind == EventImageAttachment {
		st.isImage = true
	}
	if st.isImage {
		if ev.Final != nil {
			d.terminal(imageTerminalContent(d.opts.AssetBaseURL, ev.Final.ImageURLs), finishStop, metrics.OutcomeImage)
			return true
		}
		if ev.Token.Text != "" {
			return !d.send(ev.Token.Text, "")
		}
		return false
	}

	next, text, ok := stepThinking(st.thinking, ev.Token, d.opts.filter())
	st.thinking = next
	if ok {
		return !d.send(text, "")
	}
	return false
}

// send emits one chunk, reporting false once the client has gone away.
// A chunk that fails to encode is logged and skipped.
func (d *streamDriver) send(content, finishReason string) bool {
	chunk, err := BuildChunk(d.modelName(), content, finishReason)
	if err != nil {
		d.opts.logger().Errorf("grok translator: %v", err)
		return d.ctx.Err() == nil
	}
	return d.emit(SSEFrame(chunk))
}

func (d *streamDriver) emit(frame []byte) bool {
	select {
	case d.out <- frame:
		return true
	case <-d.ctx.Done():
		d.outcome = metrics.OutcomeCanceled
		return false
	}
}

func (d *streamDriver) terminal(content, finishReason, outcome string) {
	d.outcome = outcome
	if d.send(content, finishReason) {
		d.emit(sseDone)
	}
}

func (d *streamDriver) finish(outcome string) {
	d.terminal("", finishStop, outcome)
}

func (d *streamDriver) fail(err error) {
	d.terminal("处理错误: "+err.Error(), finishError, metrics.OutcomeError)
}

func (d *streamDriver) timeout(reason string) {
	d.opts.logger().Warnf("grok translator: %s, elapsed %.2fs", reason, d.timeouts.elapsed().Seconds())
	d.finish(metrics.OutcomeTimeout)
}

func (d *streamDriver) modelName() string {
	if d.state.model != "" {
		return d.state.model
	}
	return DefaultStreamModel
}
