package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Vector is an embedding stored as a JSON array
type Vector []float64

// Value encodes the vector as a JSON string
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float64(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return string(b), nil
}

// Scan decodes the JSON column back into the vector
func (v *Vector) Scan(value any) error {
	var raw []byte
	switch val := value.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		return fmt.Errorf("unsupported vector column type %T", value)
	}
	return json.Unmarshal(raw, (*[]float64)(v))
}

// DocumentChunk is one embedded slice of a policy document
type DocumentChunk struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Source    string    `json:"source" gorm:"type:varchar(512);not null;uniqueIndex:idx_chunk_source_seq,priority:1"`
	Seq       int       `json:"seq" gorm:"not null;uniqueIndex:idx_chunk_source_seq,priority:2"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	Embedding Vector    `json:"-" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for DocumentChunk
func (DocumentChunk) TableName() string {
	return "document_chunks"
}
