package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"amightyclaw/internal/llm"
	"amightyclaw/internal/store"
)

const (
	phantomBaseURL      = "https://api.phantombuster.com/api/v2"
	phantomPollInterval = 5 * time.Second
	phantomPollBudget   = 3 * time.Minute
)

// phantomClient launches a PhantomBuster agent and polls its container until
// output is available.
type phantomClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func (c phantomClient) base() string {
	if b := strings.TrimSpace(c.BaseURL); b != "" {
		return strings.TrimRight(b, "/")
	}
	return phantomBaseURL
}

func (c phantomClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: socialHTTPTimeout}
}

func (c phantomClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("phantombuster is not configured (api_key missing)")
	}
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Phantombuster-Key", strings.TrimSpace(c.APIKey))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _, err := readLimited(resp.Body, socialMaxRespBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 500 {
			snippet = snippet[:500] + "..."
		}
		return nil, fmt.Errorf("phantombuster api error: %s: %s", resp.Status, snippet)
	}
	return data, nil
}

// run launches the agent with arguments and polls until the container
// finishes, returning its JSON result output.
func (c phantomClient) run(ctx context.Context, agentID string, arguments map[string]any) ([]byte, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, errors.New("phantombuster agent id is not configured")
	}
	launch, err := c.do(ctx, http.MethodPost, "/agents/launch", map[string]any{
		"id":        agentID,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	var launched struct {
		ContainerID string `json:"containerId"`
	}
	if err := json.Unmarshal(launch, &launched); err != nil || launched.ContainerID == "" {
		return nil, fmt.Errorf("unexpected launch response: %s", strings.TrimSpace(string(launch)))
	}

	deadline := time.Now().Add(phantomPollBudget)
	for {
		if time.Now().After(deadline) {
			return nil, errors.New("phantombuster run did not finish in time")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(phantomPollInterval):
		}

		out, err := c.do(ctx, http.MethodGet,
			"/containers/fetch-output?id="+url.QueryEscape(launched.ContainerID), nil)
		if err != nil {
			return nil, err
		}
		var status struct {
			Status       string `json:"status"`
			ResultObject string `json:"resultObject"`
		}
		if err := json.Unmarshal(out, &status); err != nil {
			return nil, fmt.Errorf("parse container output: %w", err)
		}
		if status.Status == "running" {
			continue
		}
		return []byte(status.ResultObject), nil
	}
}

func parsePhantomTweets(result []byte) []store.SocialPost {
	var tweets []struct {
		TweetID   string `json:"tweetId"`
		ID        string `json:"id"`
		Text      string `json:"text"`
		Handle    string `json:"handle"`
		Author    string `json:"author"`
		TweetLink string `json:"tweetLink"`
		URL       string `json:"url"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &tweets); err != nil {
		return nil
	}
	out := make([]store.SocialPost, 0, len(tweets))
	for _, t := range tweets {
		id := t.TweetID
		if id == "" {
			id = t.ID
		}
		author := t.Handle
		if author == "" {
			author = t.Author
		}
		link := t.TweetLink
		if link == "" {
			link = t.URL
		}
		if id == "" || strings.TrimSpace(t.Text) == "" {
			continue
		}
		out = append(out, store.SocialPost{
			Platform:   "x",
			ExternalID: id,
			Author:     author,
			Content:    t.Text,
			URL:        link,
			PostedAt:   t.Timestamp,
		})
	}
	return out
}

// XTrackTool pulls recent tweets from an account via a PhantomBuster tweet
// extractor agent.
type XTrackTool struct {
	Store   PostStore
	Client  phantomClient
	AgentID string
}

func NewXTrackTool(s PostStore, apiKey, agentID string) *XTrackTool {
	return &XTrackTool{Store: s, Client: phantomClient{APIKey: apiKey}, AgentID: agentID}
}

type xTrackArgs struct {
	Handle string `json:"handle"`
}

func (t *XTrackTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "x_track_account",
		Description: "Fetch recent posts from an X (Twitter) account. Results are saved for later querying.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"handle": map[string]any{"type": "string", "description": "Account handle, with or without @"},
			},
			"required": []string{"handle"},
		},
	}
}

func (t *XTrackTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in xTrackArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	handle := strings.TrimPrefix(strings.TrimSpace(in.Handle), "@")
	if handle == "" {
		return "", errors.New("handle is required")
	}
	result, err := t.Client.run(ctx, t.AgentID, map[string]any{
		"spreadsheetUrl": "https://x.com/" + handle,
	})
	if err != nil {
		return "", err
	}
	posts := parsePhantomTweets(result)
	if t.Store != nil && len(posts) > 0 {
		if _, err := t.Store.IngestPosts(posts); err != nil {
			return "", fmt.Errorf("save posts: %w", err)
		}
	}
	return renderPosts(posts, fmt.Sprintf("Recent posts from @%s:", handle)), nil
}

// XSearchTool runs a keyword search on X via a PhantomBuster search export
// agent.
type XSearchTool struct {
	Store   PostStore
	Client  phantomClient
	AgentID string
}

func NewXSearchTool(s PostStore, apiKey, agentID string) *XSearchTool {
	return &XSearchTool{Store: s, Client: phantomClient{APIKey: apiKey}, AgentID: agentID}
}

type xSearchArgs struct {
	Query string `json:"query"`
}

func (t *XSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "x_search",
		Description: "Search X (Twitter) posts by keyword. Results are saved for later querying.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *XSearchTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in xSearchArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	result, err := t.Client.run(ctx, t.AgentID, map[string]any{"search": query})
	if err != nil {
		return "", err
	}
	posts := parsePhantomTweets(result)
	if t.Store != nil && len(posts) > 0 {
		if _, err := t.Store.IngestPosts(posts); err != nil {
			return "", fmt.Errorf("save posts: %w", err)
		}
	}
	return renderPosts(posts, fmt.Sprintf("X results for %q:", query)), nil
}
