package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/SEK-11/OCR/internal/model"
)

type UploadAuditRepository struct {
	db *gorm.DB
}

func NewUploadAuditRepository(db *gorm.DB) *UploadAuditRepository {
	return &UploadAuditRepository{db: db}
}

func (r *UploadAuditRepository) Create(audit *model.UploadAudit) error {
	if err := r.db.Create(audit).Error; err != nil {
		return fmt.Errorf("create upload audit failed: %w", err)
	}
	return nil
}
