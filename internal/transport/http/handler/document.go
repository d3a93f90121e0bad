package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SEK-11/OCR/internal/app"
	"github.com/SEK-11/OCR/internal/extract"
	"github.com/SEK-11/OCR/internal/session"
	"github.com/SEK-11/OCR/internal/templates"
	"github.com/SEK-11/OCR/internal/transport/http/middleware"
	"github.com/SEK-11/OCR/internal/transport/http/response"
)

// multipartOverhead covers boundaries and form fields on top of the file.
const multipartOverhead = 1 << 20

type DocumentHandler struct {
	documentService *app.DocumentService
	catalog         *templates.Catalog
	maxUploadBytes  int64
	tempDir         string
}

type AskRequest struct {
	Question string `json:"question"`
}

func NewDocumentHandler(documentService *app.DocumentService, catalog *templates.Catalog, maxUploadBytes int64, tempDir string) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		catalog:         catalog,
		maxUploadBytes:  maxUploadBytes,
		tempDir:         tempDir,
	}
}

// Upload accepts a multipart form with "file" and "api_key", extracts the
// document text and binds it to the caller's session.
func (h *DocumentHandler) Upload(c *gin.Context) {
	sessionID, ok := middleware.SessionID(c)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "session missing")
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}
	file, err := c.FormFile("file")
	if isBodyTooLarge(err) {
		response.Error(c, http.StatusBadRequest, response.CodeFileTooLarge,
			fmt.Sprintf("file too large (max %dMB)", h.maxUploadBytes>>20))
		return
	}
	if err != nil || file.Filename == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no file selected")
		return
	}
	credential := strings.TrimSpace(c.PostForm("api_key"))
	if credential == "" {
		response.Error(c, http.StatusBadRequest, response.CodeCredentialRequired, app.ErrCredentialRequired.Error())
		return
	}
	if _, _, err := extract.DetectFormat(file.Filename); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFormat,
			"unsupported file type, allowed: "+strings.Join(extract.SupportedExtensions(), ", "))
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		response.Error(c, http.StatusBadRequest, response.CodeFileTooLarge,
			fmt.Sprintf("file too large (max %dMB)", h.maxUploadBytes>>20))
		return
	}

	path, cleanup, err := h.saveTemp(file)
	if err != nil {
		slog.Error("store upload failed", "session_id", sessionID, "error", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to store upload")
		return
	}
	defer cleanup()

	result, err := h.documentService.Upload(c.Request.Context(), app.UploadInput{
		SessionID:  sessionID,
		Path:       path,
		Filename:   filepath.Base(file.Filename),
		Credential: credential,
		SizeBytes:  file.Size,
	})
	if err != nil {
		writeServiceError(c, err, "processing failed")
		return
	}

	response.OK(c, result)
}

// saveTemp copies the multipart file to a private temp file. The returned
// cleanup removes it and must run on every path.
func (h *DocumentHandler) saveTemp(fh *multipart.FileHeader) (string, func(), error) {
	src, err := fh.Open()
	if err != nil {
		return "", func() {}, fmt.Errorf("open upload failed: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.tempDir, "upload-*"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file failed: %w", err)
	}
	cleanup := func() {
		_ = os.Remove(dst.Name())
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file failed: %w", err)
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file failed: %w", err)
	}
	return dst.Name(), cleanup, nil
}

func (h *DocumentHandler) Ask(c *gin.Context) {
	sessionID, ok := middleware.SessionID(c)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "session missing")
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.documentService.Ask(c.Request.Context(), app.AskInput{
		SessionID: sessionID,
		Question:  req.Question,
	})
	if err != nil {
		writeServiceError(c, err, "answer failed")
		return
	}

	response.OK(c, result)
}

func (h *DocumentHandler) GetHistory(c *gin.Context) {
	sessionID, _ := middleware.SessionID(c)
	response.OK(c, gin.H{"chat_history": h.documentService.History(sessionID)})
}

func (h *DocumentHandler) ClearHistory(c *gin.Context) {
	sessionID, _ := middleware.SessionID(c)
	h.documentService.ClearHistory(sessionID)
	response.OK(c, gin.H{"success": true})
}

func (h *DocumentHandler) GetSession(c *gin.Context) {
	sessionID, _ := middleware.SessionID(c)
	response.OK(c, h.documentService.Status(sessionID))
}

func (h *DocumentHandler) EndSession(c *gin.Context) {
	sessionID, _ := middleware.SessionID(c)
	removed := h.documentService.EndSession(sessionID)
	response.OK(c, gin.H{"ended": removed})
}

func (h *DocumentHandler) GetTemplates(c *gin.Context) {
	if category := c.Query("category"); category != "" {
		questions, ok := h.catalog.Questions(category)
		if !ok {
			response.Error(c, http.StatusNotFound, response.CodeBadRequest, "unknown template category")
			return
		}
		response.OK(c, gin.H{category: questions})
		return
	}
	response.OK(c, h.catalog.All())
}

func isBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrCredentialRequired):
		response.Error(c, http.StatusBadRequest, response.CodeCredentialRequired, err.Error())
	case errors.Is(err, app.ErrQuestionEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeQuestionEmpty, err.Error())
	case errors.Is(err, session.ErrNotReady):
		response.Error(c, http.StatusBadRequest, response.CodeNotReady, "please upload and process a document first")
	case errors.Is(err, session.ErrDocumentReplaced):
		response.Error(c, http.StatusConflict, response.CodeDocumentReplaced, err.Error())
	case extract.IsKind(err, extract.UnsupportedFormat):
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFormat, err.Error())
	case extract.IsKind(err, extract.DecodeFailure):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeDecodeFailure, "could not read the document: "+err.Error())
	case extract.IsKind(err, extract.InsufficientContent):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeInsufficientContent, "very little text could be extracted from the document")
	case extract.IsKind(err, extract.Timeout):
		response.Error(c, http.StatusInternalServerError, response.CodeExtractionTimeout, "document processing timed out")
	default:
		slog.Error("request failed", "error", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
