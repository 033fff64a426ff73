package hitqueue

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/groblegark/pulse/queue"
)

// HTTPProcessor posts hit payloads to a fixed URL and classifies the
// outcome by status code: 2xx succeeds, 408/429/5xx are recoverable
// (the hit stays queued), anything else is fatal and the hit is dropped.
type HTTPProcessor struct {
	url    string
	client *http.Client
	retry  time.Duration
	log    *slog.Logger
}

var _ Processor = (*HTTPProcessor)(nil)

// NewHTTPProcessor creates a processor posting to url. A nil client falls
// back to a 30s-timeout default; retry <= 0 uses DefaultRetryInterval.
func NewHTTPProcessor(url string, client *http.Client, retry time.Duration, logger *slog.Logger) *HTTPProcessor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProcessor{url: url, client: client, retry: retry, log: logger}
}

func (p *HTTPProcessor) Process(hit queue.Entry, done func(success bool)) {
	go func() {
		resp, err := p.client.Post(p.url, "application/octet-stream", bytes.NewReader(hit.Payload))
		if err != nil {
			p.log.Warn("hit delivery failed, will retry", "uniqueID", hit.UniqueID, "error", err)
			done(false)
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			done(true)
		case resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			p.log.Warn("recoverable hit failure", "uniqueID", hit.UniqueID, "status", resp.StatusCode)
			done(false)
		default:
			// Unrecoverable: drop the hit rather than wedge the queue.
			p.log.Error("dropping hit after fatal response", "uniqueID", hit.UniqueID, "status", resp.StatusCode)
			done(true)
		}
	}()
}

func (p *HTTPProcessor) RetryInterval(queue.Entry) time.Duration {
	return p.retry
}
