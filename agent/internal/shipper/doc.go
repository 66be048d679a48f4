// Package shipper delivers collected events to cyberpulse-server as JSON
// batches posted to {server_endpoint}/api/v1/events.
//
// Add() queues events; every ship_interval Run() cuts them into batches of
// batch_size, each with a fresh uuid sent in the X-Batch-ID header. Queued
// batches live in a channel of buffer_size; when it is full the oldest batch
// is evicted so the newest events are always preserved.
//
// Failed posts are retried with truncated exponential backoff (1s→60s, ±25%
// jitter) and keep their batch ID. A 4xx response other than 429 means the
// server refused the batch itself, so it is discarded immediately.
//
// Auth: mTLS client certificates, an API key header, a bearer token, or none.
package shipper
