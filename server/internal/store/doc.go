// Package store holds the recent window of security events the detector runs
// over. It is a thread-safe in-memory store with retention-based eviction;
// durable history lives in the archive package.
package store
