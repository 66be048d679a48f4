// Package config loads and watches the agent configuration from the `agent:`
// section of config.yaml.
//
//   - AgentConfig: server_endpoint (http URL), ship_interval (5s),
//     buffer_size (100 batches), batch_size (500 events), sources, server_auth,
//     tls, logging
//   - Source: id, type (csv|demo|kafka), path, poll_interval (10s), demo and
//     kafka sub-sections
//   - AuthConfig: mode (mtls|apikey|bearer|none); Key() and Token() resolve
//     secrets from environment variables
//
// Load(path) applies defaults, then validates required fields and enums.
// Watch(ctx, path, onChange) reloads the file on change via fsnotify.
package config
