package repository_test

import (
	"github.com/SEK-11/OCR/internal/repository"
	"github.com/SEK-11/OCR/internal/worker"
)

// The audit worker persists through this repository.
var _ worker.AuditStore = (*repository.UploadAuditRepository)(nil)
