package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// payloadFunc renders an alert for one webhook flavour.
type payloadFunc func(e *Engine, a *Alert) any

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// deliver notifies every webhook with a resolvable URL. Failures are logged
// and never reach Observe.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		body, err := json.Marshal(render(e, a))
		if err == nil {
			err = e.post(url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "source", a.Source, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "source", a.Source, "state", a.State)
	}
}

// slackPayload is a single mrkdwn line, prefixed by severity or by the
// resolved marker.
func slackPayload(_ *Engine, a *Alert) any {
	prefix := "[" + severityTag(a.Severity) + "]"
	if a.State == StateResolved {
		prefix = "[RESOLVED]"
	}
	return map[string]string{
		"text": fmt.Sprintf("*%s* %s: %s (source %s, value %s)",
			prefix, a.RuleName, a.Message, a.Source, formatValue(a.Value)),
	}
}

// teamsPayload is a legacy connector MessageCard with the alert as facts.
func teamsPayload(_ *Engine, a *Alert) any {
	title := "SpeedScope alert: " + a.RuleName
	if a.State == StateResolved {
		title = "SpeedScope resolved: " + a.RuleName
	}
	facts := []map[string]string{
		{"name": "Source", "value": a.Source},
		{"name": "Severity", "value": a.Severity},
		{"name": "Value", "value": formatValue(a.Value)},
		{"name": "Fired", "value": a.FiredAt.UTC().Format(time.RFC3339)},
	}
	if a.ResolvedAt != nil {
		facts = append(facts, map[string]string{"name": "Resolved", "value": a.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": themeColor(a),
		"summary":    a.RuleName,
		"title":      title,
		"text":       a.Message,
		"sections":   []map[string]any{{"facts": facts}},
	}
}

// httpPayload wraps the alert unchanged for generic receivers.
func httpPayload(e *Engine, a *Alert) any {
	return map[string]any{
		"alert":   a,
		"sent_at": e.now().UTC().Format(time.RFC3339),
	}
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook answered HTTP %d", resp.StatusCode)
	}
	return nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func severityTag(s string) string {
	switch s {
	case "critical":
		return "CRITICAL"
	case "warning":
		return "WARNING"
	default:
		return "INFO"
	}
}

// themeColor is green once resolved, otherwise keyed by severity.
func themeColor(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "E01E5A"
	case "warning":
		return "ECB22E"
	default:
		return "36C5F0"
	}
}
