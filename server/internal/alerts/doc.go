// Package alerts runs the detector over the server's event window and keeps
// the latest result. Alerts that did not appear in the previous run are
// delivered to the configured webhooks (Slack, Teams, generic HTTP).
package alerts
