package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SEK-11/OCR/internal/app"
	"github.com/SEK-11/OCR/internal/extract"
	"github.com/SEK-11/OCR/internal/session"
	"github.com/SEK-11/OCR/internal/templates"
	"github.com/SEK-11/OCR/internal/transport/http/middleware"
	"github.com/SEK-11/OCR/internal/transport/http/response"
)

type stubExtractor struct {
	text string
	seen []string
	err  error
}

func (s *stubExtractor) Extract(_ context.Context, in extract.Input) (*extract.Result, error) {
	if _, err := os.Stat(in.Path); err != nil {
		return nil, err
	}
	s.seen = append(s.seen, in.Path)
	if s.err != nil {
		return nil, s.err
	}
	return &extract.Result{Text: s.text, Strategy: extract.StrategyNative, PagesProcessed: 3}, nil
}

type stubBinder struct{}

func (stubBinder) Bind(text, credential string) session.AnswerFunc {
	return func(_ context.Context, q string) string {
		return "re: " + q
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	cookies []*http.Cookie
	tempDir string
}

func newTestServer(t *testing.T, ex app.Extractor) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := app.NewDocumentService(ex, session.NewManager(), stubBinder{}, nil, nil, 500, logger)
	catalog, err := templates.Load()
	if err != nil {
		t.Fatal(err)
	}
	tempDir := t.TempDir()
	h := NewDocumentHandler(svc, catalog, 1<<20, tempDir)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/templates", h.GetTemplates)
	g := v1.Group("")
	g.Use(middleware.Session(middleware.SessionOptions{CookieName: "sid", Secret: "test-secret", TTL: time.Hour}))
	g.POST("/upload", h.Upload)
	g.POST("/ask", h.Ask)
	g.GET("/history", h.GetHistory)
	g.DELETE("/history", h.ClearHistory)
	g.DELETE("/session", h.EndSession)

	return &testServer{t: t, router: router, tempDir: tempDir}
}

func (s *testServer) do(req *http.Request) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if cookies := w.Result().Cookies(); len(cookies) > 0 {
		s.cookies = cookies
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func (s *testServer) upload(filename, apiKey string, body []byte) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			s.t.Fatal(err)
		}
		_, _ = fw.Write(body)
	}
	if apiKey != "" {
		_ = mw.WriteField("api_key", apiKey)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func (s *testServer) ask(question string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	payload, _ := json.Marshal(AskRequest{Question: question})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func TestDocumentFlow(t *testing.T) {
	text := strings.Repeat("Native page text. ", 40)
	ex := &stubExtractor{text: text}
	srv := newTestServer(t, ex)

	w, env := srv.ask("anything?")
	if w.Code != http.StatusBadRequest || env.Code != response.CodeNotReady {
		t.Fatalf("ask before upload = %d %+v", w.Code, env)
	}
	_, env = srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	var hist struct {
		ChatHistory []session.ChatEntry `json:"chat_history"`
	}
	if err := json.Unmarshal(env.Data, &hist); err != nil || len(hist.ChatHistory) != 0 {
		t.Fatalf("history before upload = %s", env.Data)
	}

	w, env = srv.upload("report.pdf", "key-123", []byte("%PDF-1.4 test"))
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d %+v", w.Code, env)
	}
	var up app.UploadResult
	if err := json.Unmarshal(env.Data, &up); err != nil {
		t.Fatal(err)
	}
	if !up.Success || up.TextLength != len(text) || up.Preview != text[:500] || up.Filename != "report.pdf" || up.FileType != "pdf" {
		t.Fatalf("upload result = %+v", up)
	}

	for _, q := range []string{"first?", "second?"} {
		if w, env := srv.ask(q); w.Code != http.StatusOK {
			t.Fatalf("ask %q = %d %+v", q, w.Code, env)
		}
	}
	_, env = srv.ask("third?")
	var answered app.AskResult
	if err := json.Unmarshal(env.Data, &answered); err != nil {
		t.Fatal(err)
	}
	if answered.Answer != "re: third?" || len(answered.ChatHistory) != 3 {
		t.Fatalf("ask result = %+v", answered)
	}
	for i := 1; i < len(answered.ChatHistory); i++ {
		if answered.ChatHistory[i].Timestamp.Before(answered.ChatHistory[i-1].Timestamp) {
			t.Fatal("history timestamps decreased")
		}
	}

	if w, _ := srv.do(httptest.NewRequest(http.MethodDelete, "/api/v1/history", nil)); w.Code != http.StatusOK {
		t.Fatalf("clear history = %d", w.Code)
	}
	_, env = srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	if err := json.Unmarshal(env.Data, &hist); err != nil || len(hist.ChatHistory) != 0 {
		t.Fatalf("history after clear = %s", env.Data)
	}
	if w, env := srv.ask("still bound?"); w.Code != http.StatusOK {
		t.Fatalf("ask after clear = %d %+v", w.Code, env)
	}

	entries, err := os.ReadDir(srv.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp files leaked: %v", entries)
	}
	if len(ex.seen) != 1 {
		t.Fatalf("extractor saw %d uploads", len(ex.seen))
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		apiKey   string
		body     []byte
		ex       *stubExtractor
		status   int
		code     int
	}{
		{name: "no file", apiKey: "k", ex: &stubExtractor{}, status: http.StatusBadRequest, code: response.CodeBadRequest},
		{name: "no api key", filename: "a.pdf", body: []byte("x"), ex: &stubExtractor{}, status: http.StatusBadRequest, code: response.CodeCredentialRequired},
		{name: "unsupported", filename: "a.exe", apiKey: "k", body: []byte("x"), ex: &stubExtractor{}, status: http.StatusBadRequest, code: response.CodeUnsupportedFormat},
		{name: "too large", filename: "a.png", apiKey: "k", body: bytes.Repeat([]byte("x"), 3<<19), ex: &stubExtractor{}, status: http.StatusBadRequest, code: response.CodeFileTooLarge},
		{name: "body cut off", filename: "a.png", apiKey: "k", body: bytes.Repeat([]byte("x"), 8<<20), ex: &stubExtractor{}, status: http.StatusBadRequest, code: response.CodeFileTooLarge},
		{
			name: "insufficient content", filename: "scan.png", apiKey: "k", body: []byte("x"),
			ex:     &stubExtractor{err: &extract.Error{Kind: extract.InsufficientContent, Op: "extract"}},
			status: http.StatusUnprocessableEntity, code: response.CodeInsufficientContent,
		},
		{
			name: "decode failure", filename: "bad.docx", apiKey: "k", body: []byte("x"),
			ex:     &stubExtractor{err: &extract.Error{Kind: extract.DecodeFailure, Op: "open docx"}},
			status: http.StatusUnprocessableEntity, code: response.CodeDecodeFailure,
		},
		{
			name: "timeout", filename: "big.pdf", apiKey: "k", body: []byte("x"),
			ex:     &stubExtractor{err: &extract.Error{Kind: extract.Timeout, Op: "extract"}},
			status: http.StatusInternalServerError, code: response.CodeExtractionTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.ex)
			w, env := srv.upload(tt.filename, tt.apiKey, tt.body)
			if w.Code != tt.status || env.Code != tt.code {
				t.Fatalf("upload = %d code %d (%s), want %d code %d", w.Code, env.Code, env.Message, tt.status, tt.code)
			}
			entries, err := os.ReadDir(srv.tempDir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Fatalf("temp files leaked: %v", entries)
			}
		})
	}
}

func TestAskValidation(t *testing.T) {
	srv := newTestServer(t, &stubExtractor{text: "enough document text"})
	if w, _ := srv.upload("a.pdf", "k", []byte("x")); w.Code != http.StatusOK {
		t.Fatalf("upload = %d", w.Code)
	}
	if w, env := srv.ask("   "); w.Code != http.StatusBadRequest || env.Code != response.CodeQuestionEmpty {
		t.Fatalf("blank question = %d %+v", w.Code, env)
	}
}

func TestSessionsAreSeparatedByCookie(t *testing.T) {
	srv := newTestServer(t, &stubExtractor{text: "enough document text"})
	if w, _ := srv.upload("a.pdf", "k", []byte("x")); w.Code != http.StatusOK {
		t.Fatalf("upload = %d", w.Code)
	}

	srv.cookies = nil
	if w, env := srv.ask("who am i?"); w.Code != http.StatusBadRequest || env.Code != response.CodeNotReady {
		t.Fatalf("fresh session ask = %d %+v", w.Code, env)
	}
}

func TestGetTemplates(t *testing.T) {
	srv := newTestServer(t, &stubExtractor{})

	_, env := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil))
	var all map[string][]string
	if err := json.Unmarshal(env.Data, &all); err != nil {
		t.Fatal(err)
	}
	if len(all["invoice"]) == 0 {
		t.Fatalf("templates = %v", all)
	}

	w, _ := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/templates?category=nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown category = %d", w.Code)
	}
}
