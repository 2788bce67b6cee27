package qna

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebSearchClientSearchReturnsCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		w.Write([]byte(`{"results":[{"title":"Go docs","url":"https://go.dev","snippet":"The Go programming language"}]}`))
	}))
	defer srv.Close()

	c := NewWebSearchClient(srv.URL, "test-key", 0, srv.Client())
	cits, err := c.Search(context.Background(), "golang")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cits) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(cits))
	}
	if cits[0].Type != "web" || cits[0].URI != "https://go.dev" {
		t.Errorf("unexpected citation: %+v", cits[0])
	}
}

func TestWebSearchClientSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewWebSearchClient(srv.URL, "", 0, srv.Client())
	_, err := c.Search(context.Background(), "golang")
	if err == nil {
		t.Fatal("expected error for 500 status")
	}
}
