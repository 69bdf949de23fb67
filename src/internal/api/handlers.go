package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/VectorBits/crossleak/src/internal/dbutil"
	"github.com/VectorBits/crossleak/src/internal/depindex"
	"github.com/VectorBits/crossleak/src/internal/report"
)

// FindingSource lists the findings recorded against a victim.
type FindingSource interface {
	ListFindings(ctx context.Context, victim string) ([]report.Finding, error)
}

type ContractSource interface {
	GetContract(ctx context.Context, address string) (*dbutil.ContractRecord, error)
}

// StatsSource reports finding counts per victim.
type StatsSource interface {
	CountFindings(ctx context.Context) (map[string]int64, error)
}

// Handler serves findings, dependency indexes and contract metadata. Any
// source may be nil; its routes then answer 503.
type Handler struct {
	// Findings is preferred over Log when both are set.
	Findings  FindingSource
	Log       *report.FindingsLog
	Indexes   *depindex.Store
	Contracts ContractSource
	Stats     StatsSource
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Route("/api", func(r chi.Router) {
		r.Get("/findings/{address}", h.handleFindings)
		r.Get("/index/{address}", h.handleIndex)
		r.Get("/contracts/{address}", h.handleContract)
		r.Get("/stats", h.handleStats)
	})
}

func addressParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := strings.ToLower(chi.URLParam(r, "address"))
	if !common.IsHexAddress(addr) {
		writeErrorResponse(w, "invalid address", http.StatusBadRequest)
		return "", false
	}
	return addr, true
}

func (h *Handler) handleFindings(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	var (
		findings []report.Finding
		err      error
	)
	switch {
	case h.Findings != nil:
		findings, err = h.Findings.ListFindings(r.Context(), addr)
	case h.Log != nil:
		findings, err = h.Log.Read(addr)
	default:
		writeErrorResponse(w, "findings not available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, map[string]any{
		"address":  addr,
		"count":    len(findings),
		"findings": findings,
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	if h.Indexes == nil {
		writeErrorResponse(w, "dependency indexes not available", http.StatusServiceUnavailable)
		return
	}

	idx, err := h.Indexes.Load(addr)
	switch {
	case errors.Is(err, os.ErrNotExist):
		writeErrorResponse(w, "index not found", http.StatusNotFound)
	case errors.Is(err, depindex.ErrNoSource):
		writeErrorResponse(w, "no public source code", http.StatusNotFound)
	case err != nil:
		writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSONResponse(w, idx)
	}
}

func (h *Handler) handleContract(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	if h.Contracts == nil {
		writeErrorResponse(w, "contract store not available", http.StatusServiceUnavailable)
		return
	}

	rec, err := h.Contracts.GetContract(r.Context(), addr)
	switch {
	case errors.Is(err, dbutil.ErrNotFound):
		writeErrorResponse(w, "contract not found", http.StatusNotFound)
	case err != nil:
		writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSONResponse(w, rec)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.Stats == nil {
		writeErrorResponse(w, "finding store not available", http.StatusServiceUnavailable)
		return
	}
	counts, err := h.Stats.CountFindings(r.Context())
	if err != nil {
		writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	writeJSONResponse(w, map[string]any{
		"victims":  len(counts),
		"findings": total,
		"byVictim": counts,
	})
}

func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}
