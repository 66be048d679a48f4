// Package archive persists ingested events to SQLite so the server can warm
// its in-memory window after a restart. Alerts are never persisted; they are
// recomputed from events.
package archive
