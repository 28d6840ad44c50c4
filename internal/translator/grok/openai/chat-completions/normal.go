package chat_completions

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// Collect reduces src to one chat.completion body. It returns on the first
// line that resolves the response and closes body right away, leaving the
// rest of the upstream unread. Failures are returned as *Error, or ctx.Err()
// when the caller gives up first.
func Collect(ctx context.Context, src LineSource, body io.Closer, opts Options) ([]byte, error) {
	logger := opts.logger()
	closer := newOnceCloser(body, logger)
	worker := startLineWorker(src)
	defer func() {
		closer.Close()
		worker.stop()
	}()

	for {
		if !worker.request() {
			return nil, &Error{Kind: KindNoResponse, Message: "no response data"}
		}
		var res lineResult
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-worker.got:
		}

		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return nil, &Error{Kind: KindNoResponse, Message: "no response data"}
			}
			logger.Errorf("grok translator: read upstream: %v", res.err)
			return nil, &Error{Kind: KindStream, Message: "read upstream", Err: res.err}
		}

		line := bytes.TrimSpace(res.line)
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeEvent(line)
		if err != nil {
			logger.Errorf("grok translator: %v", err)
			return nil, err
		}

		switch {
		case ev.Kind == EventError:
			return nil, &Error{Kind: KindUpstream, Message: ev.Fault.Message, Code: ev.Fault.Code}
		case ev.Video != nil && ev.Video.VideoURL != "":
			model := opts.Model
			if model == "" {
				model = DefaultVideoModel
			}
			closer.Close()
			return completion(model, videoContent(opts.AssetBaseURL, ev.Video.VideoURL))
		case ev.Final == nil:
			continue
		case ev.Final.Error != "":
			return nil, &Error{Kind: KindModel, Message: ev.Final.Error}
		}

		model := ev.Final.Model
		if model == "" {
			model = opts.Model
		}
		if model == "" {
			model = DefaultStreamModel
		}
		closer.Close()
		return completion(model, appendImages(opts.AssetBaseURL, ev.Final.Message, ev.Final.ImageURLs))
	}
}

func completion(model, content string) ([]byte, error) {
	out, err := BuildCompletion(model, content)
	if err != nil {
		return nil, &Error{Kind: KindStream, Message: "encode response", Err: err}
	}
	return out, nil
}
