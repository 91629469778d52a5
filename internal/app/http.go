package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"folio/api/internal/document"
)

// ownerHeader identifies the requesting user. Real authentication sits in
// front of this service; an empty header means an anonymous visitor whose
// edits live only in the session and draft cache.
const ownerHeader = "X-Folio-Owner"

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	switch {
	case r.URL.Path == "/api/sessions" && r.Method == http.MethodPost:
		s.handleOpenSession(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/sessions/"):
		s.handleSession(w, r)
	case r.URL.Path == "/api/documents" && r.Method == http.MethodGet:
		s.handleListDocuments(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/documents/"):
		s.handleDocument(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind       string `json:"kind"`
		DocumentID string `json:"documentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	state, err := s.service.OpenSession(r.Context(), r.Header.Get(ownerHeader), document.Kind(body.Kind), body.DocumentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// handleSession routes /api/sessions/{id}[/action].
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	sessionID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	if sessionID == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		state, err := s.service.GetState(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case action == "" && r.Method == http.MethodDelete:
		s.service.CloseSession(sessionID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case action == "mutations" && r.Method == http.MethodPost:
		var m MutationInput
		if err := decodeBody(r, &m); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		state, err := s.service.Apply(r.Context(), sessionID, m)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case action == "save" && r.Method == http.MethodPost:
		state, err := s.service.Save(r.Context(), sessionID)
		if errors.Is(err, ErrSaveInFlight) {
			// Coalesced into the running round-trip; not a failure.
			writeJSON(w, http.StatusAccepted, state)
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case action == "export" && r.Method == http.MethodGet:
		payload, err := s.service.Export(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)

	case action == "import" && r.Method == http.MethodPost:
		payload, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "could not read body")
			return
		}
		state, err := s.service.Import(r.Context(), sessionID, payload)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	response, err := s.service.ListDocuments(
		r.Context(),
		r.Header.Get(ownerHeader),
		r.URL.Query().Get("kind"),
		r.URL.Query().Get("q"),
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// handleDocument routes /api/documents/{id} and
// /api/documents/{id}/history[/{hash}].
func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	documentID := parts[0]
	if !validDocumentID(documentID) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteDocument(r.Context(), r.Header.Get(ownerHeader), documentID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) < 2 || parts[1] != "history" || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return
	}

	if len(parts) == 2 {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		versions, err := s.service.Versions(documentID, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
		return
	}

	if len(parts) == 3 {
		payload, err := s.service.VersionSnapshot(documentID, parts[2])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, origin string) {
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+ownerHeader)
}

// validDocumentID rejects path segments that could not have come from the
// id generator, notably "." and ".." which the history store would join
// into a filesystem path.
func validDocumentID(id string) bool {
	if id == "" {
		return false
	}
	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}
	return true
}

func randomRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var derr *DomainError
	if errors.As(err, &derr) {
		writeError(w, derr.Status, derr.Code, derr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
