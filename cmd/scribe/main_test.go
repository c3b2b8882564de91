package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribed/internal/api"
)

func executeCommand(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	if srvURL != "" {
		args = append([]string{"--addr", srvURL, "--config", writeEmptyConfig(t)}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := executeCommand(t, "", "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"add", "queue", "models", "status", "config"} {
		if !strings.Contains(out, name) {
			t.Fatalf("help output missing %q:\n%s", name, out)
		}
	}
}

func TestQueueCommandRendersSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/queue" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(api.QueueSummary{
			Queue: []api.JobView{{
				ID:         "job-1",
				SourceFile: "/media/talk.mkv",
				Status:     "queued",
				Settings:   api.JobSettings{Model: "large-v3"},
			}},
			Stats: map[string]int{"queued": 1},
		})
	}))
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "queue")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !strings.Contains(out, "job-1") || !strings.Contains(out, "talk.mkv") {
		t.Fatalf("unexpected queue output:\n%s", out)
	}
}

func TestQueueCommandEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.QueueSummary{})
	}))
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "queue")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("expected empty message:\n%s", out)
	}
}

func TestCancelCommandSendsDeleteFlag(t *testing.T) {
	var got api.CancelRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/job-1/cancel" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1"})
	}))
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "cancel", "job-1", "--delete-data")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !got.DeleteData {
		t.Fatal("expected deleteData=true in request")
	}
	if !strings.Contains(out, "deleted its data") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestPrioritizeForceMode(t *testing.T) {
	var got api.PrioritizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.JobView{ID: "job-1", Status: "queued"}})
	}))
	defer srv.Close()

	if _, err := executeCommand(t, srv.URL, "prioritize", "job-1", "--force"); err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	if got.Mode != "force" {
		t.Fatalf("expected force mode, got %q", got.Mode)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, err := executeCommand(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected target path in output:\n%s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, err := executeCommand(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}
}
