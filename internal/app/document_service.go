package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SEK-11/OCR/internal/ai"
	"github.com/SEK-11/OCR/internal/cache"
	"github.com/SEK-11/OCR/internal/extract"
	"github.com/SEK-11/OCR/internal/metrics"
	"github.com/SEK-11/OCR/internal/model"
	"github.com/SEK-11/OCR/internal/session"
)

var (
	ErrQuestionEmpty      = errors.New("question is required")
	ErrCredentialRequired = errors.New("api key is required")
)

type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
}

type ExtractionCache interface {
	Get(ctx context.Context, fingerprint string) (*extract.Result, bool, error)
	Set(ctx context.Context, fingerprint string, res *extract.Result) error
}

type AuditPublisher interface {
	Publish(ctx context.Context, audit model.UploadAudit) error
}

type DocumentService struct {
	extractor    Extractor
	sessions     *session.Manager
	binder       ai.Binder
	cache        ExtractionCache
	audit        AuditPublisher
	previewChars int
	logger       *slog.Logger
}

type UploadInput struct {
	SessionID  string
	Path       string
	Filename   string
	Credential string
	SizeBytes  int64
}

type UploadResult struct {
	Success        bool   `json:"success"`
	TextLength     int    `json:"text_length"`
	Preview        string `json:"preview"`
	Filename       string `json:"filename"`
	FileType       string `json:"file_type"`
	Strategy       string `json:"strategy"`
	PagesProcessed int    `json:"pages_processed"`
	Cached         bool   `json:"cached"`
}

type AskInput struct {
	SessionID string
	Question  string
}

type AskResult struct {
	Answer      string              `json:"answer"`
	ChatHistory []session.ChatEntry `json:"chat_history"`
}

type SessionStatus struct {
	SessionID    string `json:"session_id"`
	Ready        bool   `json:"ready"`
	DocumentName string `json:"document_name,omitempty"`
	TextLength   int    `json:"text_length"`
	HistoryCount int    `json:"history_count"`
}

// NewDocumentService wires the upload and question flow. cache and audit
// may be nil.
func NewDocumentService(
	extractor Extractor,
	sessions *session.Manager,
	binder ai.Binder,
	cache ExtractionCache,
	audit AuditPublisher,
	previewChars int,
	logger *slog.Logger,
) *DocumentService {
	if previewChars <= 0 {
		previewChars = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		extractor:    extractor,
		sessions:     sessions,
		binder:       binder,
		cache:        cache,
		audit:        audit,
		previewChars: previewChars,
		logger:       logger,
	}
}

// Upload extracts text from the stored upload, binds an answer function to
// it and replaces the session's document.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if input.SessionID == "" {
		return nil, session.ErrSessionIDRequired
	}
	credential := strings.TrimSpace(input.Credential)
	if credential == "" {
		return nil, ErrCredentialRequired
	}
	_, fileType, err := extract.DetectFormat(input.Filename)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("session_id", input.SessionID, "file", input.Filename)
	start := time.Now()
	audit := model.UploadAudit{
		SessionID: input.SessionID,
		Filename:  input.Filename,
		FileType:  fileType,
		SizeBytes: input.SizeBytes,
		CreatedAt: start,
	}

	res, cached, fingerprint := s.lookupCache(ctx, logger, input.Path, fileType)
	audit.Fingerprint = fingerprint
	if res == nil {
		res, err = s.extractor.Extract(ctx, extract.Input{Path: input.Path, Filename: input.Filename})
		if err != nil {
			logger.Warn("extraction failed", "error", err, "kind", extract.KindOf(err).String())
			metrics.ObserveExtraction(fileType, "", "failed", time.Since(start))
			audit.Status = "failed"
			audit.Error = truncate(err.Error(), 512)
			audit.DurationMS = time.Since(start).Milliseconds()
			s.publishAudit(ctx, logger, audit)
			return nil, err
		}
		if s.cache != nil && fingerprint != "" {
			if err := s.cache.Set(ctx, fingerprint, res); err != nil {
				logger.Warn("cache extraction result failed", "error", err)
			}
		}
		metrics.ObserveExtraction(fileType, string(res.Strategy), "success", time.Since(start))
	} else {
		metrics.ObserveCacheHit()
	}

	answer := s.binder.Bind(res.Text, credential)
	s.sessions.ReplaceOnUpload(input.SessionID, res.Text, answer, input.Filename)
	metrics.SetActiveSessions(s.sessions.Len())

	textLength := utf8.RuneCountInString(res.Text)
	audit.Status = "success"
	audit.Strategy = string(res.Strategy)
	audit.PagesProcessed = res.PagesProcessed
	audit.TextLength = textLength
	audit.Cached = cached
	audit.DurationMS = time.Since(start).Milliseconds()
	s.publishAudit(ctx, logger, audit)

	logger.Info("document ready",
		"strategy", res.Strategy,
		"pages", res.PagesProcessed,
		"text_length", textLength,
		"cached", cached,
	)

	return &UploadResult{
		Success:        true,
		TextLength:     textLength,
		Preview:        truncate(res.Text, s.previewChars),
		Filename:       input.Filename,
		FileType:       fileType,
		Strategy:       string(res.Strategy),
		PagesProcessed: res.PagesProcessed,
		Cached:         cached,
	}, nil
}

func (s *DocumentService) lookupCache(ctx context.Context, logger *slog.Logger, path, fileType string) (*extract.Result, bool, string) {
	if s.cache == nil {
		return nil, false, ""
	}
	fingerprint, err := cache.Fingerprint(path, fileType)
	if err != nil {
		logger.Warn("fingerprint upload failed", "error", err)
		return nil, false, ""
	}
	res, hit, err := s.cache.Get(ctx, fingerprint)
	if err != nil {
		logger.Warn("read extraction cache failed", "error", err)
		return nil, false, fingerprint
	}
	if !hit {
		return nil, false, fingerprint
	}
	return res, true, fingerprint
}

func (s *DocumentService) publishAudit(ctx context.Context, logger *slog.Logger, audit model.UploadAudit) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(context.WithoutCancel(ctx), audit); err != nil {
		logger.Warn("publish upload audit failed", "error", err)
	}
}

// Ask answers a question against the session's current document. The
// answer is computed outside the session lock; if the document is replaced
// meanwhile the answer is discarded with session.ErrDocumentReplaced.
func (s *DocumentService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		metrics.ObserveQuestion("empty")
		return nil, ErrQuestionEmpty
	}

	current := s.sessions.GetOrCreate(input.SessionID)
	if !current.Ready() {
		metrics.ObserveQuestion("not_ready")
		return nil, session.ErrNotReady
	}

	answer := current.Answer(ctx, question)
	if _, err := s.sessions.AppendChatIfCurrent(input.SessionID, current.Generation, question, answer); err != nil {
		metrics.ObserveQuestion("rejected")
		return nil, err
	}

	outcome := "answered"
	if strings.HasPrefix(answer, "Error:") {
		outcome = "upstream_error"
		s.logger.Warn("answer generation failed", "session_id", input.SessionID, "answer", answer)
	}
	metrics.ObserveQuestion(outcome)

	return &AskResult{
		Answer:      answer,
		ChatHistory: s.sessions.History(input.SessionID),
	}, nil
}

func (s *DocumentService) History(sessionID string) []session.ChatEntry {
	return s.sessions.History(sessionID)
}

func (s *DocumentService) ClearHistory(sessionID string) {
	s.sessions.ClearHistory(sessionID)
}

func (s *DocumentService) Status(sessionID string) SessionStatus {
	current := s.sessions.GetOrCreate(sessionID)
	return SessionStatus{
		SessionID:    sessionID,
		Ready:        current.Ready(),
		DocumentName: current.DocumentName,
		TextLength:   utf8.RuneCountInString(current.ExtractedText),
		HistoryCount: len(current.History),
	}
}

// EndSession forgets the session's document and history.
func (s *DocumentService) EndSession(sessionID string) bool {
	removed := s.sessions.Evict(sessionID)
	metrics.SetActiveSessions(s.sessions.Len())
	return removed
}

func (s *DocumentService) ActiveSessions() int {
	return s.sessions.Len()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
