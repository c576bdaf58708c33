package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resource is one ingested artifact and its aggregate metadata. A resource
// exclusively owns its chunks; deleting it cascades to them and to the
// suggestion terms it contributed.
type Resource struct {
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// Ownership. (tenant_id, uri) is unique; owner_id is immutable after
	// creation.
	TenantID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_resources_tenant_uri;index:idx_resources_tenant_file_type" json:"tenantId"`
	OwnerID  string `gorm:"type:varchar(100);not null" json:"ownerId"`
	URI      string `gorm:"type:varchar(1000);not null;uniqueIndex:idx_resources_tenant_uri" json:"uri"`

	// Descriptive fields.
	Name        string `gorm:"type:varchar(500);not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	MimeType    string `gorm:"type:varchar(100)" json:"mimeType"`
	FileType    string `gorm:"type:varchar(20);index:idx_resources_tenant_file_type" json:"fileType"`
	SizeBytes   int64  `gorm:"type:bigint" json:"sizeBytes"`

	// Summary artifacts.
	Summary string      `gorm:"type:text" json:"summary,omitempty"`
	Content string      `gorm:"type:text" json:"content,omitempty"`
	Tags    StringArray `gorm:"type:jsonb" json:"tags,omitempty"`

	// Extracted structured fields, denormalized for fast filtering.
	Vendor       string      `gorm:"type:varchar(200)" json:"vendor,omitempty"`
	Currency     string      `gorm:"type:varchar(3)" json:"currency,omitempty"`
	AmountsCents Int64Array  `gorm:"type:jsonb" json:"amountsCents,omitempty"`
	Entities     StringArray `gorm:"type:jsonb" json:"entities,omitempty"`
	Keywords     StringArray `gorm:"type:jsonb" json:"keywords,omitempty"`
	Dates        TimeArray   `gorm:"type:jsonb" json:"dates,omitempty"`
	InvoiceNo    string      `gorm:"type:varchar(100)" json:"invoiceNo,omitempty"`

	// Pointers into the external blob store.
	FileID   string `gorm:"type:varchar(200)" json:"fileId,omitempty"`
	FilePath string `gorm:"type:varchar(1000)" json:"filePath,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// FileType values recognized across ingestion and search.
const (
	FileTypePDF   = "pdf"
	FileTypeCSV   = "csv"
	FileTypeImage = "image"
	FileTypeText  = "text"
	FileTypeOther = "other"
)

// TableName specifies the table name.
func (Resource) TableName() string {
	return "resources"
}

// BeforeCreate assigns an ID and validates invariants.
func (r *Resource) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if r.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if r.Currency != "" && !isUpperAlpha(r.Currency) {
		return fmt.Errorf("currency must be uppercase A-Z, got %q", r.Currency)
	}
	for _, cents := range r.AmountsCents {
		if cents < 0 {
			return fmt.Errorf("amounts_cents must be non-negative, got %d", cents)
		}
	}
	return nil
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return len(strings.TrimSpace(s)) > 0
}
