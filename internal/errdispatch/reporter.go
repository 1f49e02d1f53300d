package errdispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
)

// Reporter sends incidents somewhere. Implementations must not fail the
// caller: errors are logged and dropped.
type Reporter interface {
	Report(ctx context.Context, inc *Incident)
}

// HTTPReporter posts incidents as JSON.
type HTTPReporter struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	logger   logging.Logger
}

// NewHTTPReporter creates a reporter. A nil client uses a plain client.
func NewHTTPReporter(endpoint string, client *http.Client, logger logging.Logger) *HTTPReporter {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPReporter{
		endpoint: endpoint,
		client:   client,
		timeout:  10 * time.Second,
		logger:   logging.OrNop(logger),
	}
}

// Report implements Reporter.
func (r *HTTPReporter) Report(ctx context.Context, inc *Incident) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("incident report panicked", "incident", inc.ID, "panic", p)
		}
	}()

	if err := r.send(ctx, inc); err != nil {
		r.logger.Warn("incident report failed", "incident", inc.ID, "error", err)
		return
	}
	r.logger.Info("incident reported", "incident", inc.ID)
}

func (r *HTTPReporter) send(ctx context.Context, inc *Incident) error {
	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
