// Package api provides HTTP handlers for Emergency Assistance endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/flow"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/util"
)

// maxUploadBytes bounds the multipart request body; the image service applies
// the exact per-image limit.
const maxUploadBytes = models.MaxImageSizeBytes + 1<<20

// flowDocumentResult is the GET /flows/{id} payload: the document plus
// per-request metadata.
type flowDocumentResult struct {
	Flow     *models.Flow        `json:"flow"`
	Metadata models.FlowMetadata `json:"metadata"`
}

// writeNoCacheHeaders defeats every cache between the editor and the store:
// flow read responses must always reflect the latest saved state. The ETag
// rotates per response so conditional requests never short-circuit.
func writeNoCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("%d-%s", time.Now().UnixMilli(), util.GenerateRandomHex(8))))
}

// rejectInvalidFlow writes the 400 response for a write whose document failed
// structural validation, carrying the collected errors for the editor.
func rejectInvalidFlow(w http.ResponseWriter, result flow.ValidationResult) {
	writeJSONResponse(w, http.StatusBadRequest, models.NewAPIResponseBuilder().
		WithStatus(models.APIStatusError).
		WithMessage("Flow validation failed").
		WithResult(result.Errors).
		Build())
}

// flowsHandler handles the flow collection (GET, POST /flows).
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.flowsHandler: processing flows request", "method", r.Method, "path", r.URL.Path)
	switch r.Method {
	case http.MethodGet:
		summaries, err := s.store.ListFlows()
		if err != nil {
			slog.Error("Server.flowsHandler: failed to list flows", "error", err)
			writeErrorResponse(w, err)
			return
		}
		slog.Debug("Server.flowsHandler: flows listed", "count", len(summaries))
		writeNoCacheHeaders(w)
		writeJSONResponse(w, http.StatusOK, models.Success(summaries))
	case http.MethodPost:
		var doc models.Flow
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			slog.Warn("Server.flowsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		fixed := flow.AutoFix(&doc)
		if result := flow.Validate(fixed); !result.IsValid {
			slog.Warn("Server.flowsHandler: flow failed validation", "flowID", fixed.ID, "errors", len(result.Errors))
			rejectInvalidFlow(w, result)
			return
		}
		created, err := s.store.CreateFlow(fixed)
		if err != nil {
			slog.Warn("Server.flowsHandler: failed to create flow", "error", err, "flowID", fixed.ID)
			writeErrorResponse(w, err)
			return
		}
		slog.Info("Server.flowsHandler: flow created", "flowID", created.ID, "title", created.Title)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Flow created successfully", created))
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.flowsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// flowsSubtreeHandler dispatches everything under /flows/.
func (s *Server) flowsSubtreeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	path := strings.TrimPrefix(r.URL.Path, "/flows/")
	segments := strings.Split(path, "/")

	switch segments[0] {
	case "":
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown flow endpoint"))
	case "validate":
		s.validateHandler(w, r)
	case "generate":
		s.generateHandler(w, r)
	case "search":
		s.searchHandler(w, r)
	case "images":
		if len(segments) == 1 {
			s.imagesHandler(w, r)
			return
		}
		if len(segments) == 2 {
			s.imageAssetHandler(w, r, segments[1])
			return
		}
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown image endpoint"))
	default:
		if len(segments) == 1 {
			s.flowByIDHandler(w, r, segments[0])
			return
		}
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown flow endpoint"))
	}
}

// flowByIDHandler handles one flow document (GET, PUT, DELETE /flows/{id}).
func (s *Server) flowByIDHandler(w http.ResponseWriter, r *http.Request, id string) {
	slog.Debug("Server.flowByIDHandler: processing flow request", "method", r.Method, "flowID", id)
	switch r.Method {
	case http.MethodGet:
		doc, meta, err := s.store.GetFlow(id)
		if err != nil {
			slog.Warn("Server.flowByIDHandler: failed to get flow", "error", err, "flowID", id)
			writeErrorResponse(w, err)
			return
		}
		meta.RequestID = util.GenerateRequestID()
		meta.ProcessedAt = time.Now().UTC()
		writeNoCacheHeaders(w)
		writeJSONResponse(w, http.StatusOK, models.Success(flowDocumentResult{Flow: doc, Metadata: meta}))
	case http.MethodPut:
		var doc models.Flow
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			slog.Warn("Server.flowByIDHandler: failed to decode JSON", "error", err, "flowID", id)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		// A body without an id targets the path id; a conflicting body id is
		// rejected by the store.
		if doc.ID == "" {
			doc.ID = id
		}
		fixed := flow.AutoFix(&doc)
		if result := flow.Validate(fixed); !result.IsValid {
			slog.Warn("Server.flowByIDHandler: flow failed validation", "flowID", id, "errors", len(result.Errors))
			rejectInvalidFlow(w, result)
			return
		}
		updated, err := s.store.UpdateFlow(id, fixed)
		if err != nil {
			slog.Warn("Server.flowByIDHandler: failed to update flow", "error", err, "flowID", id)
			writeErrorResponse(w, err)
			return
		}
		slog.Info("Server.flowByIDHandler: flow updated", "flowID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow updated successfully", updated))
	case http.MethodDelete:
		if err := s.store.DeleteFlow(id); err != nil {
			slog.Warn("Server.flowByIDHandler: failed to delete flow", "error", err, "flowID", id)
			writeErrorResponse(w, err)
			return
		}
		slog.Info("Server.flowByIDHandler: flow deleted", "flowID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow deleted successfully", nil))
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		slog.Warn("Server.flowByIDHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// validateHandler reports structural problems in a submitted flow document
// (POST /flows/validate). The strict query parameter additionally runs the
// graph reachability check.
func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.validateHandler: processing validate request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.validateHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var doc models.Flow
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		slog.Warn("Server.validateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	fixed := flow.AutoFix(&doc)
	result := flow.Validate(fixed)
	if strict := r.URL.Query().Get("strict"); strict == "1" || strings.EqualFold(strict, "true") {
		if issues := flow.CheckGraph(fixed); len(issues) > 0 {
			result.Errors = append(result.Errors, issues...)
			result.IsValid = false
		}
	}
	slog.Debug("Server.validateHandler: validation complete", "isValid", result.IsValid, "errors", len(result.Errors))
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// generateHandler drafts and stores a flow for a trigger keyword
// (POST /flows/generate). When the GenAI collaborator is unavailable or
// fails, a skeleton flow is stored instead of reporting an error.
func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.generateHandler: processing generate request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.generateHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Keyword string `json:"keyword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.generateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: keyword"))
		return
	}

	var doc *models.Flow
	if s.generator != nil {
		generated, err := s.generator.GenerateFlow(r.Context(), keyword)
		if err != nil {
			slog.Error("Server.generateHandler: generation failed, using skeleton flow", "error", err, "keyword", keyword)
		} else if result := flow.Validate(generated); !result.IsValid {
			slog.Warn("Server.generateHandler: generated flow failed validation, using skeleton flow",
				"keyword", keyword, "errors", len(result.Errors))
		} else {
			doc = generated
		}
	}
	if doc == nil {
		doc = skeletonFlow(keyword)
	}

	created, err := s.store.CreateFlow(doc)
	if err != nil {
		slog.Error("Server.generateHandler: failed to store generated flow", "error", err, "keyword", keyword)
		writeErrorResponse(w, err)
		return
	}
	slog.Info("Server.generateHandler: flow generated", "flowID", created.ID, "keyword", keyword)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Flow generated successfully", created))
}

// searchHandler matches flows by trigger keyword or title (GET /flows/search?q=).
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.searchHandler: processing search request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.searchHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	hits, err := s.store.SearchFlows(query)
	if err != nil {
		slog.Error("Server.searchHandler: search failed", "error", err, "query", query)
		writeErrorResponse(w, err)
		return
	}
	if hits == nil {
		hits = []models.FlowSummary{}
	}
	slog.Debug("Server.searchHandler: search complete", "query", query, "hits", len(hits))
	writeJSONResponse(w, http.StatusOK, models.Success(hits))
}

// imagesHandler handles the image collection (GET, POST /flows/images).
// Uploads are multipart with the file in the "image" field.
func (s *Server) imagesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.imagesHandler: processing images request", "method", r.Method)
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.images.List()))
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("image")
		if err != nil {
			slog.Warn("Server.imagesHandler: missing image form field", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required form field: image"))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			slog.Warn("Server.imagesHandler: failed to read upload", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read uploaded image"))
			return
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		result, err := s.images.Ingest(data, header.Filename, contentType)
		if err != nil {
			slog.Warn("Server.imagesHandler: upload rejected", "error", err, "fileName", header.Filename)
			writeErrorResponse(w, err)
			return
		}
		statusCode := http.StatusCreated
		if result.IsDuplicate {
			statusCode = http.StatusOK
		}
		slog.Info("Server.imagesHandler: image ingested", "fileName", result.FileName, "isDuplicate", result.IsDuplicate)
		writeJSONResponse(w, statusCode, models.SuccessWithMessage("Image uploaded successfully", result))
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.imagesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// imageAssetHandler serves one stored asset (GET /flows/images/{name}).
// Assets are content-addressed and never change, so they cache forever.
func (s *Server) imageAssetHandler(w http.ResponseWriter, r *http.Request, fileName string) {
	slog.Debug("Server.imageAssetHandler: serving asset", "method", r.Method, "fileName", fileName)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, contentType, err := s.images.Open(fileName)
	if err != nil {
		slog.Warn("Server.imageAssetHandler: asset unavailable", "error", err, "fileName", fileName)
		writeErrorResponse(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.imageAssetHandler: failed to write asset", "error", err, "fileName", fileName)
	}
}

// sessionsHandler starts diagnostic sessions (POST /sessions).
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sessionsHandler: processing sessions request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sessionsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		FlowID string `json:"flowId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sessionsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.FlowID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: flowId"))
		return
	}
	doc, _, err := s.store.GetFlow(req.FlowID)
	if err != nil {
		slog.Warn("Server.sessionsHandler: failed to load flow", "error", err, "flowID", req.FlowID)
		writeErrorResponse(w, err)
		return
	}
	state, err := s.sessions.Start(doc)
	if err != nil {
		slog.Warn("Server.sessionsHandler: failed to start session", "error", err, "flowID", req.FlowID)
		writeErrorResponse(w, err)
		return
	}
	slog.Info("Server.sessionsHandler: session started", "sessionID", state.ID, "flowID", req.FlowID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Session started successfully", state))
}

// sessionSubtreeHandler dispatches everything under /sessions/.
func (s *Server) sessionSubtreeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	segments := strings.Split(path, "/")
	if segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
		return
	}
	sessionID := segments[0]

	if len(segments) == 1 {
		s.sessionByIDHandler(w, r, sessionID)
		return
	}
	if len(segments) == 2 {
		switch segments[1] {
		case "answers":
			s.sessionAnswersHandler(w, r, sessionID)
			return
		case "reset":
			s.sessionResetHandler(w, r, sessionID)
			return
		}
	}
	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
}

// sessionByIDHandler handles one session (GET, DELETE /sessions/{id}).
func (s *Server) sessionByIDHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	slog.Debug("Server.sessionByIDHandler: processing session request", "method", r.Method, "sessionID", sessionID)
	switch r.Method {
	case http.MethodGet:
		state, err := s.sessions.Get(sessionID)
		if err != nil {
			slog.Warn("Server.sessionByIDHandler: session not found", "sessionID", sessionID)
			writeErrorResponse(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(state))
	case http.MethodDelete:
		if err := s.sessions.Delete(sessionID); err != nil {
			slog.Warn("Server.sessionByIDHandler: failed to delete session", "error", err, "sessionID", sessionID)
			writeErrorResponse(w, err)
			return
		}
		slog.Info("Server.sessionByIDHandler: session abandoned", "sessionID", sessionID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted successfully", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		slog.Warn("Server.sessionByIDHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// sessionAnswersHandler records one answer against a session
// (POST /sessions/{id}/answers). A submit racing another in-flight submit is
// rejected with a conflict, never queued.
func (s *Server) sessionAnswersHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	slog.Debug("Server.sessionAnswersHandler: processing answer", "method", r.Method, "sessionID", sessionID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sessionAnswersHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sessionAnswersHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	state, err := s.sessions.Submit(r.Context(), sessionID, req.Answer)
	if err != nil {
		slog.Warn("Server.sessionAnswersHandler: submit rejected", "error", err, "sessionID", sessionID)
		writeErrorResponse(w, err)
		return
	}
	slog.Debug("Server.sessionAnswersHandler: answer recorded", "sessionID", sessionID, "status", state.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// sessionResetHandler restarts a session at its first step (POST /sessions/{id}/reset).
func (s *Server) sessionResetHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	slog.Debug("Server.sessionResetHandler: processing reset", "method", r.Method, "sessionID", sessionID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sessionResetHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state, err := s.sessions.Reset(sessionID)
	if err != nil {
		slog.Warn("Server.sessionResetHandler: reset rejected", "error", err, "sessionID", sessionID)
		writeErrorResponse(w, err)
		return
	}
	slog.Info("Server.sessionResetHandler: session reset", "sessionID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.store.ListFlows(); err != nil {
		slog.Warn("Health check: flow store unavailable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Flow store unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}

// skeletonFlow is the degraded output of flow generation: a minimal flow the
// author can flesh out by hand.
func skeletonFlow(keyword string) *models.Flow {
	doc := &models.Flow{
		Title:           keyword,
		Description:     fmt.Sprintf("Diagnostic flow for %s", keyword),
		TriggerKeywords: []string{keyword},
		Steps: []models.Step{
			{
				ID:           "step_1",
				Title:        "Describe the problem",
				Message:      "Please describe the problem in more detail.",
				Type:         models.StepTypeStart,
				QuestionType: models.QuestionTypeText,
			},
			{
				ID:      "step_2",
				Title:   "Record observations",
				Message: "Record what you observe during a visual inspection.",
				Type:    models.StepTypeEnd,
			},
		},
	}
	return flow.AutoFix(doc)
}
