package tui

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/models"
)

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]agents.Info{
			{Name: "manager", Status: models.AgentStatusIdle, SkillSlots: 5, Skills: []string{}},
			{Name: "data_analyst", Status: models.AgentStatusFailed, SkillSlots: 5, Skills: []string{"fec-data-mining"}},
		})
	})
	mux.HandleFunc("GET /api/v1/agents/{name}/recommendations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("max") != "3" {
			http.Error(w, `{"error":"bad max"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode([]models.Skill{{Name: "fec-data-mining", SkillLevel: models.SkillLevelExpert}})
	})
	mux.HandleFunc("GET /api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("agent") != "manager" {
			http.Error(w, `{"error":"agent filter missing"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode([]models.Message{{ID: "m1", Sender: "manager", Recipient: "data_analyst"}})
	})
	mux.HandleFunc("POST /api/v1/agents/{name}/skills", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["skill"] == "unknown" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"skill not found: unknown"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/v1/coordination/delegate", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			From    string         `json:"from"`
			To      string         `json:"to"`
			Details map[string]any `json:"details"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.From != "manager" || body.Details["action"] != "run_etl" {
			http.Error(w, `{"error":"bad delegate body"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"message_ids": []string{"abc"}, "reached": 1})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientReads(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	if !c.Healthy() {
		t.Fatal("expected healthy daemon")
	}

	list, err := c.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(list) != 2 || list[1].Status != models.AgentStatusFailed {
		t.Errorf("agents = %+v", list)
	}

	recs, err := c.Recommendations("data_analyst", 3)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	if len(recs) != 1 || recs[0].SkillLevel != models.SkillLevelExpert {
		t.Errorf("recommendations = %+v", recs)
	}

	msgs, err := c.ListMessages("manager", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestClientWrites(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	if err := c.AttachSkill("data_analyst", "fec-data-mining"); err != nil {
		t.Fatalf("AttachSkill: %v", err)
	}

	err := c.AttachSkill("data_analyst", "unknown")
	if err == nil {
		t.Fatal("expected error for unknown skill")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "skill not found") {
		t.Errorf("error = %v", err)
	}

	id, err := c.Delegate("manager", "data_analyst", "run_etl")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if id != "abc" {
		t.Errorf("id = %q, want abc", id)
	}
}

func TestClientDaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url)
	if c.Healthy() {
		t.Error("closed server reported healthy")
	}
	if _, err := c.ListAgents(); err == nil {
		t.Error("expected connection error")
	}
}
