package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/moisson/netpool"
)

func writeSources(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSources(t *testing.T) {
	path := writeSources(t, `
sources:
  - code: alpha
    name: Alpha Search
    url: https://alpha.example/search?q={query}
  - code: beta
    url: https://beta.example/api?q={query}
    result_path: data.results
`)

	bindings, err := loadSources(path, netpool.New(netpool.Config{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(bindings) != 2 {
		t.Fatalf("bindings = %d, want 2", len(bindings))
	}
	if bindings[0].Source.Code != "alpha" || bindings[0].Source.Name != "Alpha Search" {
		t.Fatalf("binding[0] = %+v", bindings[0].Source)
	}
}

func TestLoadSources_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "sources: []"},
		{"missing code", "sources:\n  - url: https://x.example/{query}"},
		{"missing url", "sources:\n  - code: x"},
		{"malformed", "sources: [not"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSources(t, tt.yaml)
			if _, err := loadSources(path, netpool.New(netpool.Config{})); err == nil {
				t.Fatal("invalid sources file accepted")
			}
		})
	}
}

func TestAPIQuerier(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"url": "https://a.example/1", "title": "One", "snippet": "first"},
			{"url": "https://a.example/2", "title": "Two"},
			{"url": "", "title": "skipped"},
			{"url": "https://a.example/3"}
		]`))
	}))
	defer srv.Close()

	t.Setenv("TEST_API_KEY", "sekret")
	spec := sourceSpec{
		Code:    "alpha",
		URL:     srv.URL + "/search?q={query}",
		Headers: map[string]string{"Authorization": "Bearer ${TEST_API_KEY}"},
	}

	q := newAPIQuerier(spec, netpool.New(netpool.Config{}))
	records, err := q(context.Background(), "solar kits", 2)
	if err != nil {
		t.Fatal(err)
	}

	if gotQuery != "solar kits" {
		t.Fatalf("server saw q=%q", gotQuery)
	}
	if gotAuth != "Bearer sekret" {
		t.Fatalf("Authorization = %q, env not expanded", gotAuth)
	}
	// maxResults 2 caps the output; empty URLs are skipped.
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].URL != "https://a.example/1" || records[0].Rank != 1 {
		t.Fatalf("records[0] = %+v", records[0])
	}
	if records[0].SourceCode != "alpha" {
		t.Fatalf("SourceCode = %q", records[0].SourceCode)
	}
}

func TestAPIQuerier_ResultPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data": {"results": [{"url": "https://a.example/1", "title": "Nested"}]}}`))
	}))
	defer srv.Close()

	spec := sourceSpec{Code: "beta", URL: srv.URL + "?q={query}", ResultPath: "data.results"}
	q := newAPIQuerier(spec, netpool.New(netpool.Config{}))

	records, err := q(context.Background(), "q", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Title != "Nested" {
		t.Fatalf("records = %+v", records)
	}
}

func TestAPIQuerier_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		path    string
	}{
		{
			name:    "http error status",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
		},
		{
			name:    "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("<html>oops</html>")) },
		},
		{
			name:    "missing result path",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(`{"data": {}}`)) },
			path:    "data.results",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			spec := sourceSpec{Code: "x", URL: srv.URL + "?q={query}", ResultPath: tt.path}
			q := newAPIQuerier(spec, netpool.New(netpool.Config{}))
			if _, err := q(context.Background(), "q", 0); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("  short  "); got != "short" {
		t.Fatalf("snippet = %q", got)
	}
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	if got := snippet(string(long)); len(got) != 280 {
		t.Fatalf("snippet length = %d, want 280", len(got))
	}
}
