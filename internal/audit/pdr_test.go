package audit

import (
	"path/filepath"
	"testing"

	"github.com/fentz26/cfagents/internal/store"
)

func TestHashInputs(t *testing.T) {
	a := HashInputs(map[string]any{"agent": "data_analyst", "skill": "fec_code_expert"})
	b := HashInputs(map[string]any{"skill": "fec_code_expert", "agent": "data_analyst"})
	if a != b {
		t.Errorf("equal maps hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}

	c := HashInputs(map[string]any{"agent": "manager"})
	if a == c {
		t.Error("different inputs should hash differently")
	}
	if got := HashInputs(func() {}); got != "hash_error" {
		t.Errorf("unencodable input = %q, want hash_error", got)
	}
}

func TestRecordWritesToStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()

	w := NewPDRWriter(s)
	inputs := map[string]any{"task_id": "load_data"}
	entry, err := w.Record("task.dispatch", inputs, "success", "load_data", "")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if entry.InputsHash != HashInputs(inputs) {
		t.Errorf("inputs hash = %s", entry.InputsHash)
	}

	entries, err := s.ListPDR(0)
	if err != nil {
		t.Fatalf("ListPDR: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "load_data" || entries[0].Outcome != "success" {
		t.Errorf("entries = %+v", entries)
	}
}
