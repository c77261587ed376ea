package api

import (
	"io"
	"net/http"
	"strings"
)

// Schema documents are small; bound the body anyway.
const maxSchemaBytes = 1 << 20

// SchemasHandler registers contract documents at runtime.
type SchemasHandler struct {
	deps Dependencies
}

// NewSchemasHandler creates a new schemas handler.
func NewSchemasHandler(deps Dependencies) *SchemasHandler {
	return &SchemasHandler{deps: deps}
}

// HandlePutSchema handles PUT /schemas/{version} requests. The body is
// the JSON Schema document itself.
func (h *SchemasHandler) HandlePutSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.NotFound(w, r)
		return
	}
	version := strings.TrimPrefix(r.URL.Path, "/schemas/")
	if version == "" || strings.Contains(version, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadSchemaVersion)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSchemaBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.deps.RegisterSchema(version, string(body)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_schema", err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "registered"})
}
