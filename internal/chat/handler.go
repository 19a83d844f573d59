package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	httpmiddleware "github.com/wolfman30/prescription-ai-platform/internal/http/middleware"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const multipartOverhead = 1 << 20

// Handler exposes the chat service over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("chat: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the prescription and chat endpoints. Callers must install
// user identity middleware in front of it.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/prescriptions", func(r chi.Router) {
		r.Get("/", h.ListPrescriptions)
		r.Post("/upload", h.Upload)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetPrescription)
			r.Delete("/", h.DeletePrescription)
			r.Get("/analysis", h.GetAnalysis)
			r.Post("/analyze", h.Analyze)
			r.Get("/presigned-url", h.PresignedURL)
		})
	})
	r.Route("/chats", func(r chi.Router) {
		r.Post("/send", h.Send)
		r.Get("/history", h.History)
		r.Delete("/history", h.ClearHistory)
		r.Get("/messages/{id}", h.PrescriptionMessages)
	})
	r.Post("/drug-info", h.DrugInfo)
}

type sendRequest struct {
	Message        string `json:"message"`
	PrescriptionID *int64 `json:"prescription_id,omitempty"`
}

type drugInfoRequest struct {
	DrugName string `json:"drug_name"`
}

type analysisResponse struct {
	PrescriptionID int64               `json:"prescription_id"`
	Status         prescription.Status `json:"analysis_status"`
	Analysis       string              `json:"ai_analysis,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
}

// Upload handles POST /prescriptions/upload (multipart: file, query).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.service.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		h.logger.Warn("invalid upload form", "user_id", userID, "error", err)
		writeError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := UploadRequest{UserID: userID, Text: r.FormValue("query")}
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		data, readErr := io.ReadAll(io.LimitReader(file, h.service.MaxUploadBytes()+1))
		if readErr != nil {
			h.logger.Warn("failed to read upload", "user_id", userID, "error", readErr)
			writeError(w, http.StatusBadRequest, "failed to read file")
			return
		}
		req.Image = &Image{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, http.StatusBadRequest, "invalid file field")
		return
	}

	result, err := h.service.HandleUploadAndChat(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Send handles POST /chats/send.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.service.HandleUploadAndChat(r.Context(), UploadRequest{
		UserID:         userID,
		Text:           body.Message,
		PrescriptionID: body.PrescriptionID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListPrescriptions handles GET /prescriptions.
func (h *Handler) ListPrescriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	recs, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescriptions": recs, "count": len(recs)})
}

// GetPrescription handles GET /prescriptions/{id}.
func (h *Handler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetAnalysis(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetAnalysis handles GET /prescriptions/{id}/analysis.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetAnalysis(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisResponse(rec))
}

// Analyze handles POST /prescriptions/{id}/analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.AnalyzeByID(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisResponse(rec))
}

// PresignedURL handles GET /prescriptions/{id}/presigned-url.
func (h *Handler) PresignedURL(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	url, err := h.service.PresignedURL(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(h.service.presignTTL.Seconds()),
	})
}

// DeletePrescription handles DELETE /prescriptions/{id}.
func (h *Handler) DeletePrescription(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /chats/history?limit=N.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	turns, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

// PrescriptionMessages handles GET /chats/messages/{id}.
func (h *Handler) PrescriptionMessages(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.userAndID(w, r)
	if !ok {
		return
	}
	turns, err := h.service.PrescriptionMessages(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescription_id": id, "turns": turns})
}

// DrugInfo handles POST /drug-info.
func (h *Handler) DrugInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}
	var body drugInfoRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	info, err := h.service.LookupDrug(r.Context(), body.DrugName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ClearHistory handles DELETE /chats/history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.ClearHistory(r.Context(), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := httpmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return "", false
	}
	return userID, true
}

func (h *Handler) userAndID(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid prescription id")
		return "", 0, false
	}
	return userID, id, true
}

// fail maps service errors to responses. Anything that is not a validation
// or not-found error is logged and hidden behind a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "))
	case errors.Is(err, prescription.ErrNotFound):
		writeError(w, http.StatusNotFound, "prescription not found")
	case errors.Is(err, drug.ErrNotFound):
		writeError(w, http.StatusNotFound, "drug not found")
	default:
		h.logger.Error("chat request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func toAnalysisResponse(rec *prescription.Record) analysisResponse {
	return analysisResponse{
		PrescriptionID: rec.ID,
		Status:         rec.Status,
		Analysis:       rec.AnalysisText,
		ErrorMessage:   rec.ErrorMessage,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
