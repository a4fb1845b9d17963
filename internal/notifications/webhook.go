package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/coinflow/internal/httputil"
	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
)

const DefaultName = "coinflow"

type Sender struct {
	webhookURL string
	name       string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *logger.Entry
}

func NewSender(webhookURL, name string, log *logger.Entry) *Sender {
	if name == "" {
		name = DefaultName
	}
	if log == nil {
		log = logger.GetLogger().WithComponent("notifications")
	}
	return &Sender{
		webhookURL: webhookURL,
		name:       name,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Log:         log,
		},
		log: log,
	}
}

// Send logs msg and posts it to the webhook when one is configured. Delivery
// failures are logged, never returned.
func (s *Sender) Send(msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.name, msg)
	s.log.WithField("message", formatted).Info("notification")

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.WithError(err).Error("marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.WithError(err).Error("failed to send notification after retries")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.WithField("status", resp.StatusCode).Warn("webhook rejected notification")
	}
}

// CycleFailed reports a failed pipeline run.
func (s *Sender) CycleFailed(report *models.CycleReport, err error) {
	if report == nil {
		s.Send(fmt.Sprintf("pipeline run failed: %v", err))
		return
	}
	s.Send(fmt.Sprintf("pipeline run %s failed after %s (fetched=%d valid=%d invalid=%d): %v",
		report.RunID, report.Duration().Round(time.Millisecond), report.Fetched, report.Valid, report.Invalid, err))
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.name,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.name,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
