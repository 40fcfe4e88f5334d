package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByAttachmentID struct {
	AttachmentID uuid.UUID
}

func (s ByAttachmentID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("attachment_id = ?", s.AttachmentID)
}

type ByAttachmentIDs struct {
	AttachmentIDs []uuid.UUID
}

func (s ByAttachmentIDs) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("attachment_id IN ?", s.AttachmentIDs)
}

type ByVectorIDs struct {
	IDs []string
}

func (s ByVectorIDs) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("id IN ?", s.IDs)
}

type ByChunkIndex struct {
	Index int
}

func (s ByChunkIndex) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("chunk_index = ?", s.Index)
}
