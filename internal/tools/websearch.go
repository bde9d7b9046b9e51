package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"amightyclaw/internal/llm"
)

const (
	defaultBraveBaseURL   = "https://api.search.brave.com"
	defaultBraveTimeout   = 30 * time.Second
	defaultBraveMaxBytes  = 256 * 1024
	defaultBraveMaxCount  = 10
)

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type webSearchArgs struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

func (t *WebSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs and snippets for the top results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query"},
				"count": map[string]any{"type": "integer", "description": "Number of results (default 5, max 10)"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *WebSearchTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in webSearchArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	if strings.TrimSpace(t.APIKey) == "" {
		return "", errors.New("web search is not configured (brave_api_key missing)")
	}
	count := in.Count
	if count <= 0 {
		count = 5
	}
	if count > defaultBraveMaxCount {
		count = defaultBraveMaxCount
	}

	base := strings.TrimSpace(t.BaseURL)
	if base == "" {
		base = defaultBraveBaseURL
	}
	endpoint := strings.TrimRight(base, "/") + "/res/v1/web/search?q=" +
		url.QueryEscape(query) + "&count=" + strconv.Itoa(count)

	reqCtx, cancel := context.WithTimeout(ctx, defaultBraveTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", strings.TrimSpace(t.APIKey))

	client := t.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultBraveTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, truncated, err := readLimited(resp.Body, defaultBraveMaxBytes)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 2000 {
			snippet = snippet[:2000] + "..."
		}
		return "", fmt.Errorf("brave api error: %s: %s", resp.Status, snippet)
	}

	formatted, err := formatBraveResults(body)
	if err != nil || formatted == "" {
		// Unexpected shape: hand the model the raw payload instead.
		raw := strings.TrimSpace(string(body))
		if raw == "" {
			raw = "(empty response)"
		}
		if truncated {
			raw += "\n" + truncationMarker
		}
		return raw, nil
	}
	return formatted, nil
}

func formatBraveResults(body []byte) (string, error) {
	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if len(payload.Web.Results) == 0 {
		return "No results found.", nil
	}
	var b strings.Builder
	for i, r := range payload.Web.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if desc := strings.TrimSpace(r.Description); desc != "" {
			fmt.Fprintf(&b, "   %s\n", desc)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func readLimited(r io.Reader, maxBytes int) ([]byte, bool, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		return data, false, err
	}
	limited := io.LimitReader(r, int64(maxBytes)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return data, false, err
	}
	if len(data) > maxBytes {
		return data[:maxBytes], true, nil
	}
	return data, false, nil
}
