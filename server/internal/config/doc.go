// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort       port for the REST API, WebSocket hub and /metrics (default 8080)
//   - CORSOrigins    browser origins allowed to call the REST API (default "*")
//   - Auth           ingestion auth: mode apikey|none, key_env, header (default "x-api-key")
//   - Events         in-memory detection window retention (default 30m)
//   - Detection      run interval (15s), window (2m), brute force (6) and port scan (12) thresholds
//   - Alerts         webhook targets (slack|teams|http) with URLs read from env vars
//   - Storage        optional sqlite event archive with retention (default 24h)
//   - Intel          reputation endpoint, api_key_env, timeout, high_risk_score, redis cache
//   - Logging, WS    slog level/file rotation; broadcast interval (default 5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file on change via fsnotify.
package config
