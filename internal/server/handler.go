/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/agentvault/approvald/internal/approval"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MiB is generous for a decision batch.

	jsonContentType = "application/json"
)

type handler struct {
	store  *approval.Store
	logger *log.Logger
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
}

func newHandler(store *approval.Store, logger *log.Logger) (*handler, error) {
	return &handler{
		store:  store,
		logger: logger,
	}, nil
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/approval/pending":
		if r.Method != http.MethodGet {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h.listPending(w, r)
		return
	case "/approval/submit":
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h.submitDecisions(w, r)
		return
	default:
		http.NotFound(w, r)
		return
	}
}

func (h *handler) listPending(w http.ResponseWriter, r *http.Request) {
	payloads, err := h.store.PendingRequests(r.Context())
	if err != nil {
		h.logger.Printf("failed listing pending envelopes: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if payloads == nil {
		payloads = []*approval.DeferredRequestPayload{}
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		h.logger.Printf("failed encoding pending envelopes: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeResponse(w, responseSpec{
		status:      http.StatusOK,
		body:        body,
		contentType: jsonContentType,
	})
}

func (h *handler) submitDecisions(w http.ResponseWriter, r *http.Request) {
	// check the content
	if r.Header.Get("Content-Type") != jsonContentType {
		h.logger.Printf("content type mismatch: expected %s, actual %v", jsonContentType, r.Header.Get("Content-Type"))
		http.Error(w, "This endpoint only accepts Content-Type: application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		h.logger.Printf("failed reading request body: %v", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if err := r.Body.Close(); err != nil {
		h.logger.Printf("failed closing request body: %v", err)
		http.Error(w, "failed to close request body", http.StatusBadRequest)
		return
	}

	payload, err := approval.ParseSubmission(body)
	if err != nil {
		h.writeVerificationFailure(w, err)
		return
	}

	if err := h.store.StoreSignedApproval(r.Context(), payload.Nonce, payload.Decisions); err != nil {
		h.writeVerificationFailure(w, err)
		return
	}

	h.writeResponse(w, responseSpec{
		status:      http.StatusOK,
		body:        []byte(`{"status":"signed"}`),
		contentType: jsonContentType,
	})
}

// writeVerificationFailure renders a verification error without stack detail.
// Unexpected errors stay opaque to the client.
func (h *handler) writeVerificationFailure(w http.ResponseWriter, err error) {
	var verr *approval.VerificationError
	if !errors.As(err, &verr) {
		h.logger.Printf("failed handling submission: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := http.StatusConflict
	switch verr.Code {
	case approval.CodeUnknownNonce:
		status = http.StatusNotFound
	case approval.CodeInvalidSubmission, approval.CodeScopeSchemaUnsupported, approval.CodeToolPolicyViolation:
		status = http.StatusBadRequest
	}

	h.logger.Printf("submission rejected: %v", verr)
	body := "Approval verification failed [" + string(verr.Code) + "]: " + verr.Message
	h.writeResponse(w, responseSpec{
		status:      status,
		body:        []byte(body),
		contentType: "text/plain",
	})
}

func (h *handler) writeResponse(w http.ResponseWriter, spec responseSpec) {
	if len(spec.body) > 0 {
		for k, v := range defaultHeaders {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			h.logger.Printf("failed writing response body: %v", err)
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":           "no-store",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}
