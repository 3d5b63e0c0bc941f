package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/moisson/netpool"
	"github.com/hazyhaar/moisson/orchestrate"
	"github.com/hazyhaar/moisson/source"
)

// sourceSpec is one declarative source binding: a JSON API whose URL
// template carries a {query} placeholder and whose response is a JSON
// array of {url, title, snippet} objects (optionally nested under
// result_path). Anything richer belongs in a real adapter, not here.
type sourceSpec struct {
	Code       string            `yaml:"code"`
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"` // contains {query}
	ResultPath string            `yaml:"result_path"`
	Headers    map[string]string `yaml:"headers"` // ${ENV_VAR} expanded
}

type sourcesFile struct {
	Sources []sourceSpec `yaml:"sources"`
}

// loadSources reads sources.yaml and builds orchestrator bindings.
func loadSources(path string, pool *netpool.Pool) ([]orchestrate.Binding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sources: read %s: %w", path, err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("sources: parse %s: %w", path, err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("sources: %s defines no sources", path)
	}

	bindings := make([]orchestrate.Binding, 0, len(f.Sources))
	for _, spec := range f.Sources {
		if spec.Code == "" || spec.URL == "" {
			return nil, fmt.Errorf("sources: entry needs code and url")
		}
		bindings = append(bindings, orchestrate.Binding{
			Source:  source.Source{Code: spec.Code, Name: spec.Name},
			Querier: newAPIQuerier(spec, pool),
		})
	}
	return bindings, nil
}

// newAPIQuerier builds a Querier that GETs the templated URL and decodes
// a JSON array of result objects.
func newAPIQuerier(spec sourceSpec, pool *netpool.Pool) source.Querier {
	return func(ctx context.Context, query string, maxResults int) ([]source.ResultRecord, error) {
		target := strings.ReplaceAll(spec.URL, "{query}", url.QueryEscape(query))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("source %s: new request: %w", spec.Code, err)
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range spec.Headers {
			req.Header.Set(k, os.ExpandEnv(v))
		}

		resp, err := pool.Client().Do(req)
		if err != nil {
			return nil, fmt.Errorf("source %s: http: %w", spec.Code, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 400 {
			return nil, fmt.Errorf("source %s: http %d", spec.Code, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, fmt.Errorf("source %s: read body: %w", spec.Code, err)
		}

		items, err := resultItems(body, spec.ResultPath)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", spec.Code, err)
		}

		records := make([]source.ResultRecord, 0, len(items))
		for i, item := range items {
			if maxResults > 0 && len(records) >= maxResults {
				break
			}
			if item.URL == "" {
				continue
			}
			records = append(records, source.ResultRecord{
				URL:        item.URL,
				Title:      item.Title,
				Snippet:    item.Snippet,
				SourceCode: spec.Code,
				Rank:       i + 1,
			})
		}
		return records, nil
	}
}

type apiItem struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// resultItems decodes the response body, walking an optional dot-notation
// path ("data.results") to the item array.
func resultItems(body []byte, path string) ([]apiItem, error) {
	if path == "" {
		var items []apiItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
		return items, nil
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	for _, part := range strings.Split(path, ".") {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse results: %q not an object", part)
		}
		raw, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("parse results: missing %q", part)
		}
	}

	arr, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	var items []apiItem
	if err := json.Unmarshal(arr, &items); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return items, nil
}
