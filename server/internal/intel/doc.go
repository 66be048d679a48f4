// Package intel looks up IP reputation from an AbuseIPDB-compatible service.
//
// Lookups never fail from the caller's point of view: any error (no API key,
// network failure, bad response) degrades to score 0 and country "??".
// Results can be cached in Redis, and EnrichAll fans lookups out with a
// bounded errgroup.
package intel
