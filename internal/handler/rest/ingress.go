package rest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/webitel/change-relay/internal/service"
)

// DefaultMaxBodyBytes caps a broadcast submission when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

type ingressResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type IngressHandler struct {
	ingester     service.Ingester
	logger       *slog.Logger
	maxBodyBytes int64
}

func NewIngressHandler(ingester service.Ingester, logger *slog.Logger, maxBodyBytes int64) *IngressHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &IngressHandler{
		ingester:     ingester,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Broadcast answers synchronously once the event is validated and handed off.
// It never waits for the fan-out to finish.
func (h *IngressHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeIngress(w, http.StatusRequestEntityTooLarge, ingressResponse{Error: "body: too large"})
			return
		}
		writeIngress(w, http.StatusBadRequest, ingressResponse{Error: "body: unreadable"})
		return
	}

	res, err := h.ingester.Submit(r.Context(), raw)
	if err != nil {
		// the ingester has already logged the cause
		writeIngress(w, http.StatusServiceUnavailable, ingressResponse{Error: "broadcast unavailable"})
		return
	}
	if !res.Accepted {
		writeIngress(w, http.StatusBadRequest, ingressResponse{Error: res.Error})
		return
	}

	writeIngress(w, http.StatusOK, ingressResponse{Success: true})
}

// RejectJSON renders trust-boundary rejections in the ingress response shape.
func RejectJSON(w http.ResponseWriter, status int, msg string) {
	writeIngress(w, status, ingressResponse{Error: msg})
}

func writeIngress(w http.ResponseWriter, status int, body ingressResponse) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
