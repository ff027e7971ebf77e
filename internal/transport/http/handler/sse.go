package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/app"
	"ragdesk/internal/transport/http/response"
)

var errStreamUnsupported = errors.New("response writer cannot stream")

type deltaFrame struct {
	Delta string `json:"delta"`
}

type doneFrame struct {
	Content string   `json:"content"`
	Sources []string `json:"sources,omitempty"`
}

type errorFrame struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// eventStream writes server-sent events to the client. Headers and the 200
// status are committed by the first frame, not before.
type eventStream struct {
	c       *gin.Context
	flusher http.Flusher
	opened  bool
}

func newEventStream(c *gin.Context) (*eventStream, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, errStreamUnsupported
	}
	return &eventStream{c: c, flusher: flusher}, nil
}

func (s *eventStream) open() {
	if s.opened {
		return
	}
	s.c.Header("Content-Type", "text/event-stream")
	s.c.Header("Cache-Control", "no-cache")
	s.c.Header("Connection", "keep-alive")
	s.c.Header("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.opened = true
}

func (s *eventStream) write(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sse frame failed: %w", err)
	}
	frame := "data: " + string(data) + "\n\n"
	if event != "" {
		frame = "event: " + event + "\n" + frame
	}
	s.open()
	if _, err := s.c.Writer.Write([]byte(frame)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Delta is an app.Sink.
func (s *eventStream) Delta(delta string) error {
	return s.write("", deltaFrame{Delta: delta})
}

func (s *eventStream) Done(content string, sources []string) {
	_ = s.write("done", doneFrame{Content: content, Sources: sources})
}

// Fail ends the turn. Client errors raised before the stream opened are plain
// JSON responses with their 4xx status; everything else is a terminal error
// frame. Nothing is written once the client left.
func (s *eventStream) Fail(err error) {
	if errors.Is(err, app.ErrClientGone) {
		return
	}
	status, code := errorStatus(err)
	if !s.opened && status < http.StatusInternalServerError {
		fail(s.c, err, "stream failed")
		return
	}
	message := err.Error()
	if code == response.CodeInternalServer {
		_ = s.c.Error(err)
		message = "stream failed"
	}
	_ = s.write("error", errorFrame{Code: code, Message: response.Localize(s.c, code, message)})
}

// streamTurn runs fn against a lazily opened event stream.
func streamTurn(c *gin.Context, fn func(sink app.Sink) (content string, sources []string, err error)) {
	stream, err := newEventStream(c)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
		return
	}
	content, sources, err := fn(stream.Delta)
	if err != nil {
		stream.Fail(err)
		return
	}
	stream.Done(content, sources)
}
