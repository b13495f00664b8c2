package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// eventWriter frames payloads as server-sent events.
type eventWriter struct {
	resp *echo.Response
}

func newEventWriter(resp *echo.Response) *eventWriter {
	return &eventWriter{resp: resp}
}

func (w *eventWriter) send(payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w.resp, "data: %s\n\n", encoded); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *eventWriter) done() error {
	if _, err := fmt.Fprint(w.resp, "data: [DONE]\n\n"); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *eventWriter) flush() {
	if flusher, ok := w.resp.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}
