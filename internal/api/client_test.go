package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tubemux/internal/services"
)

func TestNewClientNormalizesBase(t *testing.T) {
	tests := []struct {
		bind string
		want string
	}{
		{"127.0.0.1:7488", "http://127.0.0.1:7488"},
		{" http://host:1/ ", "http://host:1"},
		{"https://tubemux.example", "https://tubemux.example"},
	}
	for _, tt := range tests {
		if got := NewClient(tt.bind, "").base; got != tt.want {
			t.Errorf("NewClient(%q).base = %q, want %q", tt.bind, got, tt.want)
		}
	}
}

func TestClientSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceRef != "https://v.example/1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CreateJobResponse{ID: "job-1"})
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "tok").CreateJob(context.Background(), "https://v.example/1", "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("id = %q", id)
	}
	if _, err := NewClient(srv.URL, "").CreateJob(context.Background(), "https://v.example/1", ""); !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestClientErrorUnwrapsToKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/jobs/pending/output":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "not ready", Kind: string(services.KindNotReady)})
		case "/api/jobs/gone":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "canceled", Kind: string(services.KindCanceled)})
		default:
			http.Error(w, "plain failure", http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "")
	ctx := context.Background()

	_, _, err := client.DownloadJob(ctx, "pending", &bytes.Buffer{})
	if !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 api error, got %v", err)
	}

	if _, err := client.Job(ctx, "gone"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	_, err = client.Status(ctx)
	if !errors.As(err, &apiErr) || apiErr.Kind != "" || apiErr.Message != "plain failure" {
		t.Fatalf("unexpected plain error: %#v", err)
	}
	if errors.Unwrap(err) != nil {
		t.Fatalf("plain errors should not unwrap to a marker: %v", errors.Unwrap(err))
	}
}

func TestDownloadReadsFileName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="My Clip (2).mp4"`)
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	name, n, err := NewClient(srv.URL, "").DownloadBatchItem(context.Background(), "b", "i", &buf)
	if err != nil {
		t.Fatalf("DownloadBatchItem: %v", err)
	}
	if name != "My Clip (2).mp4" || n != 4 || buf.String() != "data" {
		t.Fatalf("got name=%q n=%d body=%q", name, n, buf.String())
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[services.ErrorKind]int{
		services.KindInvalidSource:    http.StatusBadRequest,
		services.KindEmptyList:        http.StatusBadRequest,
		services.KindInvalidEncoding:  http.StatusUnprocessableEntity,
		services.KindNotFound:         http.StatusNotFound,
		services.KindArtifactMissing:  http.StatusNotFound,
		services.KindNotReady:         http.StatusConflict,
		services.KindAlreadyFailed:    http.StatusConflict,
		services.KindNoCompletedItems: http.StatusConflict,
		services.KindConfiguration:    http.StatusInternalServerError,
		services.KindUnknown:          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := StatusForKind(kind); got != want {
			t.Errorf("StatusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}
