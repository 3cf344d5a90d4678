package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/types"
)

// MaxVerifyBodyBytes caps the size of a /verify request body
const MaxVerifyBodyBytes = 4 << 20

// VerifyRequest carries a proof and the raw document bytes (base64 in JSON)
type VerifyRequest struct {
	Proof    *types.Proof `json:"proof"`
	Document []byte       `json:"document"`
}

type VerifyResponse struct {
	Valid  bool                      `json:"valid"`
	Result *proof.VerificationResult `json:"result"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

type BatchResponse struct {
	Batch        *persistence.BatchRecord         `json:"batch"`
	Certificates []*persistence.CertificateRecord `json:"certificates"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxVerifyBodyBytes)

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Proof == nil {
		http.Error(w, "proof is required", http.StatusBadRequest)
		return
	}

	result, err := s.verifier.Verify(r.Context(), req.Proof, req.Document)
	if err != nil {
		if errors.Is(err, proof.ErrMalformedProof) ||
			errors.Is(err, proof.ErrUnsupportedVersion) ||
			errors.Is(err, merkle.ErrInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Sugar().Errorw("Anchor check failed", "error", err)
		http.Error(w, "anchor check failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{Valid: result.Valid(), Result: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.store == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	if err := s.store.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Store health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.store == nil {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}

	batch, err := s.store.LoadBatch(id)
	if err != nil {
		s.logger.Sugar().Errorw("Failed to load batch", "batchId", id, "error", err)
		http.Error(w, "failed to load batch", http.StatusInternalServerError)
		return
	}
	if batch == nil {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}

	certs, err := s.store.ListCertificates(id)
	if err != nil {
		s.logger.Sugar().Errorw("Failed to list certificates", "batchId", id, "error", err)
		http.Error(w, "failed to list certificates", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{Batch: batch, Certificates: certs})
}
