package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/config"
)

// deliver sends webhook notifications for a to all targets.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(hooks []config.WebhookConfig, a *types.Alert) {
	for _, wh := range hooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, a)
		case "teams":
			err = e.sendTeams(url, a)
		case "http":
			err = e.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		result := "ok"
		if err != nil {
			result = "error"
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.Rule,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"rule", a.Rule,
				"src_ip", a.SrcIP,
			)
		}
		if e.metrics != nil {
			e.metrics.WebhookDeliveries.WithLabelValues(wh.Type, result).Inc()
		}
	}
}

// message renders a one-line human summary of a.
func message(a *types.Alert) string {
	src := a.SrcIP
	if src == "" {
		src = "unknown source"
	}
	return fmt.Sprintf("%s from %s at %s (%s)", a.Rule, src, a.Time.UTC().Format(time.RFC3339), a.Evidence)
}

func (e *Engine) sendSlack(url string, a *types.Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), message(a)),
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *types.Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.Rule,
		"title":      fmt.Sprintf("CyberPulse Alert: %s", a.Rule),
		"text":       message(a),
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Engine) sendHTTP(url string, a *types.Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case types.SeverityHigh:
		return "[HIGH]"
	case types.SeverityMedium:
		return "[MEDIUM]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case types.SeverityHigh:
		return "FF4F6A"
	case types.SeverityMedium:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
