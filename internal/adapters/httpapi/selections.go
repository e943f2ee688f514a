package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

type processRequest struct {
	Selections map[string][]string `json:"selections"`
}

func (h *Handler) handleProcessSelections(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if !decodeBody(w, r, &req, "invalid selections payload") {
		return
	}
	if req.Selections == nil {
		writeError(w, http.StatusBadRequest, "selections must be an object of name to identifier lists")
		return
	}
	ack := h.selections.Store(req.Selections)
	h.metrics.SetSelections(h.selections.Len())
	h.logger.Info("selections stored",
		zap.Strings("names", ack.Stored),
		zap.String("request_id", requestID(r)))
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) handleListSelections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"selections": h.selections.Names()})
}
