// Package receiver accepts event batches from agents and uploads.
//
// Receiver.Ingest stores a cleaned batch in the event window, archives it when
// an archive is configured, updates ingestion metrics, and schedules a
// detection run. HandleJSON and HandleCSV expose Ingest over HTTP; the API
// router mounts them behind the auth middleware.
package receiver
