package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukerupert/voxnote/internal/model"
)

func TestRegister(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/users/register" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req registerRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.DeviceID != "dev-1" {
			t.Errorf("device_id = %q, want dev-1", req.DeviceID)
		}
		json.NewEncoder(w).Encode(model.Registration{UserID: "u-1", Token: "tok-1"})
	}))
	defer server.Close()

	c := NewClient(server.URL + "/")
	reg, err := c.Register(context.Background(), "dev-1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.UserID != "u-1" || reg.Token != "tok-1" {
		t.Errorf("registration = %+v", reg)
	}
}

func TestBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(model.TaskCenter{Counts: model.TaskCounts{Pending: 3}})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithToken("abc"))
	tc, err := c.TaskCenter(context.Background())
	if err != nil {
		t.Fatalf("task center: %v", err)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("authorization = %q, want %q", gotAuth, "Bearer abc")
	}
	if tc.Counts.Pending != 3 {
		t.Errorf("pending = %d, want 3", tc.Counts.Pending)
	}

	c.SetToken("xyz")
	c.TaskCenter(context.Background())
	if gotAuth != "Bearer xyz" {
		t.Errorf("authorization = %q after SetToken", gotAuth)
	}
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.Dashboard(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T, want *StatusError", err)
	}
	if se.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", se.StatusCode)
	}
	if se.Body != "nope" {
		t.Errorf("body = %q, want nope", se.Body)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/v1/tasks/t-9/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req taskStatusRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Status != model.TaskStatusDone || !req.Done {
			t.Errorf("body = %+v", req)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.UpdateTaskStatus(context.Background(), "t-9", model.TaskStatusDone, true); err != nil {
		t.Fatalf("update task status: %v", err)
	}
}

func TestUploadBatch(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.m4a")
	pathB := filepath.Join(dir, "b.wav")
	os.WriteFile(pathA, []byte("audio-a"), 0o600)
	os.WriteFile(pathB, []byte("audio-b"), 0o600)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != batchUploadPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		ids := r.MultipartForm.Value["note_ids"]
		if len(ids) != 2 || ids[0] != "n-a" || ids[1] != "n-b" {
			t.Errorf("note_ids = %v", ids)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 {
			t.Fatalf("files = %d, want 2", len(files))
		}
		if files[0].Filename != "n-a.m4a" {
			t.Errorf("filename = %q, want n-a.m4a", files[0].Filename)
		}
		f, _ := files[1].Open()
		data, _ := io.ReadAll(f)
		f.Close()
		if string(data) != "audio-b" {
			t.Errorf("content = %q, want audio-b", data)
		}
		json.NewEncoder(w).Encode(model.BatchUpload{Status: "accepted", BatchJobID: "job-1", ProcessedCount: 2})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	res, err := c.UploadBatch(context.Background(), []Artifact{
		{NoteID: "n-a", Path: pathA},
		{NoteID: "n-b", Path: pathB},
	})
	if err != nil {
		t.Fatalf("upload batch: %v", err)
	}
	if res.BatchJobID != "job-1" || res.ProcessedCount != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestUploadBatchMissingFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.UploadBatch(context.Background(), []Artifact{{NoteID: "n", Path: "/does/not/exist.wav"}})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestUploadBatchEmpty(t *testing.T) {
	c := NewClient("http://127.0.0.1:0")
	if _, err := c.UploadBatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}
