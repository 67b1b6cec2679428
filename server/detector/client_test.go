package detector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		EndpointURL: server.URL,
		APIKey:      "test-key",
		TargetClass: "balding",
	}, zap.NewNop())
	return client, server
}

func TestClient_Detect_Success(t *testing.T) {
	var captured inferenceRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"predictions": [{"class": "balding", "confidence": 0.75, "x": 10, "y": 10, "width": 4, "height": 4}]}`))
	})

	extraction, err := client.Detect(context.Background(), "aW1hZ2U=", 0.5)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if captured.APIKey != "test-key" {
		t.Errorf("api key = %q, expected test-key", captured.APIKey)
	}
	if captured.Image != "aW1hZ2U=" {
		t.Errorf("image payload = %q", captured.Image)
	}
	if captured.Confidence != 0.5 {
		t.Errorf("confidence = %v, expected 0.5", captured.Confidence)
	}
	if captured.Prompt != "balding" {
		t.Errorf("prompt = %q, expected balding", captured.Prompt)
	}
	if len(extraction.Predictions) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(extraction.Predictions))
	}
}

func TestClient_Detect_NonSuccessStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "invalid api key"}`))
	})

	_, err := client.Detect(context.Background(), "aW1hZ2U=", 0.5)
	if !errors.Is(err, ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("expected response body in error detail, got %q", err.Error())
	}
}

func TestClient_Detect_MalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	})

	_, err := client.Detect(context.Background(), "aW1hZ2U=", 0.5)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClient_Detect_ConnectionRefused(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Detect(context.Background(), "aW1hZ2U=", 0.5)
	if !errors.Is(err, ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable, got %v", err)
	}
}

func TestClient_Detect_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Detect(ctx, "aW1hZ2U=", 0.5); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}
