package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
)

// REST posts the table as a JSON array of board records.
type REST struct {
	url    string
	client *http.Client
	logger *zap.SugaredLogger
}

func NewREST(url string, timeout time.Duration, logger *zap.SugaredLogger) *REST {
	if logger == nil {
		logger = zap.S()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &REST{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

func (r *REST) Deliver(ctx context.Context, records []messages.BoardRecord) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s returned %d", ErrDelivery, r.url, resp.StatusCode)
	}
	r.logger.Debugf("Posted %d records to %s", len(records), r.url)
	return nil
}

func (r *REST) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
