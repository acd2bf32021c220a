// Package audit records supervision and scheduling decisions for conductor.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/conductor/internal/models"
)

// DecisionStore persists decision records.
type DecisionStore interface {
	WriteDecision(action, inputsHash, outcome, subject, details string) (*models.Decision, error)
}

// Writer writes decision records for audit trails.
type Writer struct {
	store DecisionStore
}

// NewWriter creates a new decision writer.
func NewWriter(s DecisionStore) *Writer {
	return &Writer{store: s}
}

// Record writes a decision entry. A nil writer discards the record.
func (w *Writer) Record(action string, inputs interface{}, outcome, subject, details string) (*models.Decision, error) {
	if w == nil || w.store == nil {
		return nil, nil
	}
	return w.store.WriteDecision(action, HashInputs(inputs), outcome, subject, details)
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
