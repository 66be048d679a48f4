// Package ingest turns raw event logs into normalized types.Event values.
//
// ParseCSV reads a CSV log with a header row. Column names are trimmed and
// lowercased; a missing timestamp column is an error (ErrMissingTimestamp),
// while individual unparseable timestamps only drop their row. Extra columns
// are ignored and missing optional columns are left empty.
//
// DecodeJSON and DecodeJSONArray accept the same fields as JSON objects and
// are lenient about timestamp and port encodings (strings or numbers).
//
// Generator produces the synthetic demo traffic used when no real log source
// is configured.
package ingest
