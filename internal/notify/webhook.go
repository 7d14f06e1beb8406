// Package notify posts completed risk assessments to an external webhook.
// Delivery is best-effort: failures are logged, never surfaced to scoring.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sightline-legal/spendscope/internal/config"
	"github.com/sightline-legal/spendscope/internal/model"
)

// Webhook delivers assessments to a configured endpoint, rate limited so a
// bulk import cannot flood the receiver.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhook creates a Webhook. Returns nil when no URL is configured; a nil
// Webhook is safe to pass as a no-op Notifier.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	if cfg.WebhookURL == "" {
		return nil
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Webhook{
		url:     cfg.WebhookURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// NotifyAssessment posts the assessment as JSON. Errors are logged and
// swallowed so notification can never fail a scoring request.
func (w *Webhook) NotifyAssessment(ctx context.Context, assessment model.RiskAssessment) {
	if w == nil {
		return
	}
	if err := w.send(ctx, assessment); err != nil {
		zap.L().Warn("assessment webhook failed",
			zap.String("url", w.url),
			zap.String("invoice_id", assessment.InvoiceID),
			zap.Error(err),
		)
	}
}

func (w *Webhook) send(ctx context.Context, assessment model.RiskAssessment) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "notify: rate limiter wait")
	}

	body, err := json.Marshal(assessment)
	if err != nil {
		return eris.Wrap(err, "notify: marshal assessment")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: post")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
