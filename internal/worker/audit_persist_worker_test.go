package worker

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/SEK-11/OCR/internal/model"
)

type memoryStore struct {
	saved []model.UploadAudit
	err   error
}

func (s *memoryStore) Create(audit *model.UploadAudit) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, *audit)
	return nil
}

func TestAuditWorkerHandle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		body    string
		store   *memoryStore
		wantErr bool
		saved   int
	}{
		{
			name:  "valid event",
			body:  `{"id":7,"session_id":"s1","filename":"a.pdf","file_type":"pdf","status":"success","text_length":120}`,
			store: &memoryStore{},
			saved: 1,
		},
		{
			name:    "malformed body",
			body:    `{"session_id":`,
			store:   &memoryStore{},
			wantErr: true,
		},
		{
			name:    "store failure",
			body:    `{"session_id":"s1","status":"success"}`,
			store:   &memoryStore{err: errors.New("db down")},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewAuditPersistWorker(nil, tt.store, "audit", logger)
			err := w.handle([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("handle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(tt.store.saved) != tt.saved {
				t.Fatalf("saved = %d, want %d", len(tt.store.saved), tt.saved)
			}
			if tt.saved > 0 {
				got := tt.store.saved[0]
				if got.ID != 0 || got.SessionID != "s1" || got.TextLength != 120 {
					t.Fatalf("saved audit = %+v", got)
				}
			}
		})
	}
}
