package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hitscribe/internal/config"
	"hitscribe/internal/services"
	"hitscribe/internal/testsupport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.Inference{BaseURL: server.URL, APIKey: "secret", TimeoutSeconds: 5})
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.wav")
	testsupport.WriteFile(t, path, testsupport.FakeAudio())
	return path
}

func TestSeparateWritesStem(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/separate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing auth header")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != string(testsupport.FakeAudio()) {
			t.Errorf("unexpected upload body")
		}
		_, _ = w.Write([]byte("isolated-stem"))
	})
	out := filepath.Join(t.TempDir(), "isolated.wav")
	if err := client.Separate(context.Background(), writeInput(t), out); err != nil {
		t.Fatalf("Separate: %v", err)
	}
	if got := string(testsupport.ReadFile(t, out)); got != "isolated-stem" {
		t.Fatalf("stem = %q", got)
	}
}

func TestSeparateServerErrorLeavesNoOutput(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "cuda out of memory", http.StatusInternalServerError)
	})
	out := filepath.Join(t.TempDir(), "isolated.wav")
	err := client.Separate(context.Background(), writeInput(t), out)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file, stat err %v", statErr)
	}
}

func TestPredictDecodesHits(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("user_bpm") != "96" {
			t.Errorf("user_bpm = %q", r.FormValue("user_bpm"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": []map[string]any{
				{"time": 0.5, "instrument": "kick", "velocity": 0.9},
				{"time": 1.0, "instrument": "snare", "velocity": 0.7},
			},
			"detected_bpm":     96.0,
			"bpm_unreliable":   false,
			"duration_seconds": 30.0,
			"confidence_score": 0.82,
			"model_version":    "annoteator-1",
		})
	})
	tempo := 96
	pred, err := client.Predict(context.Background(), writeInput(t), &tempo)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(pred.Hits) != 2 || pred.Hits[1].Label != "snare" {
		t.Fatalf("unexpected hits: %+v", pred.Hits)
	}
	if pred.Tempo != 96 || pred.Confidence != 0.82 || pred.ModelVersion != "annoteator-1" {
		t.Fatalf("unexpected prediction: %+v", pred)
	}
}

func TestPredictUnprocessableIsValidation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"no drum onsets detected"}`))
	})
	_, err := client.Predict(context.Background(), writeInput(t), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if services.Cause(err) != "no drum onsets detected" {
		t.Fatalf("cause = %q", services.Cause(err))
	}
}

func TestPredictTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)
	client := NewClient(config.Inference{BaseURL: server.URL},
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	_, err := client.Predict(context.Background(), writeInput(t), nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestWarmAndCheck(t *testing.T) {
	var warmed atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/warm":
			warmed.Store(true)
		case "/health":
		default:
			http.NotFound(w, r)
		}
	})
	if err := client.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if !warmed.Load() {
		t.Fatal("warm endpoint not called")
	}
	if err := client.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestMissingBaseURLIsConfigurationError(t *testing.T) {
	client := NewClient(config.Inference{})
	if err := client.Check(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
