package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// RecordType classifies an extracted financial record.
type RecordType string

const (
	RecordTypeTransaction RecordType = "transaction"
	RecordTypeLineItem    RecordType = "line_item"
)

// FinancialRecord is one typed row extracted from a source document by the
// (external) parsing layer. Amounts are negative for outflows.
type FinancialRecord struct {
	Type        RecordType `json:"type"`
	Date        string     `json:"date,omitempty"` // YYYY-MM-DD when known
	Description string     `json:"description"`
	Category    string     `json:"category,omitempty"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency,omitempty"`
}

// RecordArray stores extracted records as a JSON array column.
type RecordArray []FinancialRecord

// Value implements the driver.Valuer interface for database serialization.
func (a RecordArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *RecordArray) Scan(value interface{}) error {
	if value == nil {
		*a = RecordArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan RecordArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Document represents a registered source document together with the
// structured content the parsing layer extracted from it.
type Document struct {
	ID           string      `gorm:"type:text;primaryKey" json:"id"`
	Filename     string      `gorm:"type:text;not null" json:"filename"`
	ContentType  string      `gorm:"type:text" json:"content_type,omitempty"`
	SizeBytes    int64       `json:"size_bytes"`
	StorageKey   string      `gorm:"type:text" json:"storage_key,omitempty"`
	DocumentType string      `gorm:"type:text" json:"document_type,omitempty"` // bank_statement, invoice, ledger...
	Records      RecordArray `gorm:"type:text" json:"records"`
	RawText      StringArray `gorm:"type:text" json:"raw_text"`
	Processed    bool        `gorm:"default:false;index:idx_documents_processed" json:"processed"`
	UploadedAt   time.Time   `json:"uploaded_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string {
	return "documents"
}
