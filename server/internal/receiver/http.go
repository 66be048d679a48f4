package receiver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// MaxBodyBytes bounds the size of an ingestion request body.
const MaxBodyBytes = 32 << 20

// BatchIDHeader carries the sender's batch ID. Retried batches keep their ID.
const BatchIDHeader = "X-Batch-ID"

// HandleJSON handles POST /api/v1/events. The body is a JSON array of events
// or an object with an "events" array.
func (r *Receiver) HandleJSON(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusRequestEntityTooLarge, "request body too large or unreadable")
		return
	}

	events, err := decodeEvents(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	b := ingest.NewBatch(events)
	if id := req.Header.Get(BatchIDHeader); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			b.ID = id
		}
	}
	r.respond(w, req, b)
}

// HandleCSV handles POST /api/v1/events/csv. The body is a CSV event log with
// a header row.
func (r *Receiver) HandleCSV(w http.ResponseWriter, req *http.Request) {
	b, err := ingest.ParseCSV(http.MaxBytesReader(w, req.Body, MaxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	r.respond(w, req, b)
}

func (r *Receiver) respond(w http.ResponseWriter, req *http.Request, b *ingest.Batch) {
	ack, err := r.Ingest(req.Context(), b)
	if errors.Is(err, ErrEmptyBatch) {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("receiver: ingest failed", "err", err)
		writeErr(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func decodeEvents(body []byte) ([]types.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			Events json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		if len(env.Events) == 0 {
			return nil, ErrEmptyBatch
		}
		trimmed = env.Events
	}
	return ingest.DecodeJSONArray(trimmed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("receiver: encode response", "err", err)
	}
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
