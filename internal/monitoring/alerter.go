package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-ingest/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSyncFailureRate  AlertType = "sync_failure_rate"
	AlertTransientBacklog AlertType = "transient_backlog"
	AlertStaleSync        AlertType = "stale_sync"
)

// minFinishedRuns is how many finished runs the failure rate needs before it alerts.
const minFinishedRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.TransientThreshold > 0 && snap.TransientErrors > a.cfg.TransientThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertTransientBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d records failed transiently in last %dh (threshold %d); remote store may be degraded",
				snap.TransientErrors, snap.LookbackHours, a.cfg.TransientThreshold,
			),
			Details: map[string]any{
				"transient_errors": snap.TransientErrors,
				"threshold":        a.cfg.TransientThreshold,
				"staged_events":    snap.StagedEvents,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 && snap.RunsTotal > 0 {
		staleAfter := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		if snap.LastSuccess == nil || now.Sub(*snap.LastSuccess) > staleAfter {
			last := "never"
			if snap.LastSuccess != nil {
				last = snap.LastSuccess.Format(time.RFC3339)
			}
			alerts = append(alerts, Alert{
				Type:     AlertStaleSync,
				Severity: "high",
				Message: fmt.Sprintf(
					"No successful sync in %dh (last success: %s)",
					a.cfg.StaleAfterHours, last,
				),
				Details: map[string]any{
					"last_success":      last,
					"stale_after_hours": a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
