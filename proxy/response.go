package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/sse"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"

	streamReadSize = 32 << 10
)

// Response is a converted backend response. Exactly one of Body and Stream
// is set.
type Response struct {
	StatusCode  int
	ContentType string

	// Body is the re-encoded completion of a non-streamed request.
	Body []byte

	// Stream yields the re-encoded events of a streamed request. The caller
	// must close it; closing before EOF closes the backend connection.
	Stream io.ReadCloser
}

// convertResponse checks the backend status and rewrites the body. It takes
// ownership of resp.Body.
func (p *ReverseProxy) convertResponse(resp *http.Response, stream bool, logger *slog.Logger) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(excerpt))}
	}

	if stream {
		return &Response{
			StatusCode:  resp.StatusCode,
			ContentType: contentTypeEventStream,
			Stream:      convertStream(resp.Body, p.metrics, logger),
		}, nil
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}

	var completion llm.ChatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	body, err := json.Marshal(completion)
	if err != nil {
		return nil, fmt.Errorf("encoding completion: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentTypeJSON,
		Body:        body,
	}, nil
}

// convertStream returns a reader of the rewritten events of the SSE stream in
// body. A goroutine parses body chunk by chunk and writes each chunk's
// events through an io.Pipe, so the client sees every event as soon as its
// chunk has arrived. Closing the returned reader stops the goroutine, which
// then closes body.
func convertStream(body io.ReadCloser, m *metrics.Collector, logger *slog.Logger) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()

		err := rewriteEvents(body, pw, m)
		switch {
		case err == nil:
			_ = pw.Close()
		case errors.Is(err, io.ErrClosedPipe):
			logger.Debug("client stopped reading event stream")
		default:
			logger.Error("event stream failed", "error", err)
			_ = pw.CloseWithError(err)
		}
	}()
	return pr
}

func rewriteEvents(src io.Reader, dst io.Writer, m *metrics.Collector) error {
	var (
		parser sse.EventReader
		out    bytes.Buffer
	)
	buf := make([]byte, streamReadSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			events, err := parser.NextEvents(buf[:n])
			if err != nil {
				return fmt.Errorf("decoding event stream: %w", err)
			}

			out.Reset()
			for ev := range events {
				converted, kind, err := convertEvent(ev)
				if err != nil {
					return err
				}
				if _, err := converted.WriteTo(&out); err != nil {
					return err
				}
				m.RecordEvent(kind)
			}

			if out.Len() > 0 {
				if _, err := dst.Write(out.Bytes()); err != nil {
					return err
				}
			}
		}

		switch {
		case readErr == io.EOF:
			return nil
		case readErr != nil:
			return fmt.Errorf("reading backend stream: %w", readErr)
		}
	}
}

// convertEvent rewrites one streamed completion event. The terminal [DONE]
// event and events without data pass through unchanged.
func convertEvent(ev sse.Event) (sse.Event, string, error) {
	if ev.Data == nil {
		return ev, metrics.EventPassthrough, nil
	}
	if *ev.Data == llm.StreamDone {
		return ev, metrics.EventDone, nil
	}

	var chunk llm.StreamChunk
	if err := json.Unmarshal([]byte(*ev.Data), &chunk); err != nil {
		return ev, "", fmt.Errorf("%w: stream chunk: %w", ErrInvalidResponse, err)
	}
	chunk.FillFinalRole()

	data, err := json.Marshal(chunk)
	if err != nil {
		return ev, "", fmt.Errorf("encoding stream chunk: %w", err)
	}
	ev.Data = sse.String(string(data))

	return ev, metrics.EventChunk, nil
}
