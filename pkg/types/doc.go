// Package types defines shared Go types used by both the agent and server.
// Event is the normalized security event produced by ingestion; Alert is one
// detected condition produced by the detector. Both have stable JSON field
// names that match the CSV column names.
package types
