package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoSendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ping" || r.Header.Get("X-Token") != "tok" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("json body must set content type")
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := New(srv.URL+"/", nil, time.Second).WithHeader("X-Token", "tok")
	status, body, err := client.Do(context.Background(), http.MethodPost, "api/ping", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if status != http.StatusAccepted || string(body) != `{"a":1}` {
		t.Fatalf("unexpected response %d %s", status, body)
	}
}

func TestDoWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("no content type expected without body")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	status, body, err := New(srv.URL, srv.Client(), 0).Do(context.Background(), http.MethodGet, "/x", nil)
	if err != nil || status != http.StatusNoContent || len(body) != 0 {
		t.Fatalf("unexpected %d %q %v", status, body, err)
	}
}
