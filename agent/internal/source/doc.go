// Package source collects security events for the agent.
//
// Each configured source implements Source and is polled by the agent at its
// poll_interval:
//
//   - csv: re-reads a CSV log file and returns the rows newer than the last
//     collection. Files that are rewritten with older content are skipped
//     until new rows appear.
//   - demo: runs ingest.Generator over the ticks elapsed since the previous
//     collection, optionally backfilling demo.minutes of history first.
//   - kafka: reads JSON event messages with a segmentio/kafka-go consumer
//     group reader. Undecodable messages are logged, committed and skipped.
package source
