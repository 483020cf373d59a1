// Package audit writes Process Decision Records for orchestrator decisions:
// skill attachment, task dispatch and skipped tasks.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/cfagents/internal/models"
)

// Sink persists decision records. *store.Store satisfies it.
type Sink interface {
	WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a decision. inputs are hashed, not stored,
// so identical inputs can be matched across runs.
func (w *PDRWriter) Record(action string, inputs any, outcome, taskID, details string) (*models.PDREntry, error) {
	return w.sink.WritePDR(action, HashInputs(inputs), outcome, taskID, details)
}

// HashInputs returns the hex SHA256 of the JSON encoding of inputs. Map keys
// are encoded in sorted order, so equal maps hash equally.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
