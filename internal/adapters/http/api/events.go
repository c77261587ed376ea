package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/flume/internal/domain/model"
)

// EventsHandler accepts event envelopes and feeds them to the source
// topic. Contract validation happens downstream in the pipeline; the
// handler only rejects envelopes it cannot address.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// eventRequest mirrors the wire envelope for POST /events.
type eventRequest struct {
	ID            string          `json:"id"`
	SchemaVersion string          `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
	ProducedAt    time.Time       `json:"producedAt"`
	PartitionKey  string          `json:"partitionKey"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return errors.New("missing id")
	case strings.TrimSpace(e.SchemaVersion) == "":
		return errors.New("missing schemaVersion")
	}
	return nil
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.ProducedAt.IsZero() {
		req.ProducedAt = time.Now().UTC()
	}

	raw, err := model.EncodeEvent(model.Event{
		ID:            req.ID,
		SchemaVersion: req.SchemaVersion,
		Payload:       req.Payload,
		ProducedAt:    req.ProducedAt,
		PartitionKey:  req.PartitionKey,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	if err := h.deps.Publish(r.Context(), req.PartitionKey, raw); err != nil {
		writeError(w, http.StatusServiceUnavailable, "publish_failed", ErrPublish)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
