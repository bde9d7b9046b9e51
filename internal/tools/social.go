package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"amightyclaw/internal/llm"
	"amightyclaw/internal/store"
)

const (
	redditBaseURL      = "https://www.reddit.com"
	redditUserAgent    = "amightyclaw/1.0 (social intel)"
	socialHTTPTimeout  = 30 * time.Second
	socialMaxRespBytes = 512 * 1024
)

// PostStore is the ingest surface the social tools use.
type PostStore interface {
	IngestPosts(posts []store.SocialPost) (int, error)
	PostExists(platform, externalID string) (bool, error)
	SearchPosts(query, platform string, limit int) ([]store.SocialPost, error)
	RecentPosts(platform string, limit int) ([]store.SocialPost, error)
}

type redditClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c redditClient) fetch(ctx context.Context, path string) ([]byte, error) {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = redditBaseURL
	}
	reqCtx, cancel := context.WithTimeout(ctx, socialHTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", redditUserAgent)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: socialHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _, err := readLimited(resp.Body, socialMaxRespBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("reddit api error: %s", resp.Status)
	}
	return body, nil
}

func parseRedditListing(body []byte) ([]store.SocialPost, error) {
	var listing struct {
		Data struct {
			Children []struct {
				Data struct {
					Name      string  `json:"name"`
					Title     string  `json:"title"`
					Selftext  string  `json:"selftext"`
					Author    string  `json:"author"`
					Subreddit string  `json:"subreddit"`
					Permalink string  `json:"permalink"`
					CreatedAt float64 `json:"created_utc"`
					Score     int     `json:"score"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("parse reddit listing: %w", err)
	}
	out := make([]store.SocialPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		d := child.Data
		content := d.Title
		if strings.TrimSpace(d.Selftext) != "" {
			content += "\n" + d.Selftext
		}
		meta, _ := json.Marshal(map[string]any{"subreddit": d.Subreddit, "score": d.Score})
		out = append(out, store.SocialPost{
			Platform:   "reddit",
			ExternalID: d.Name,
			Author:     d.Author,
			Content:    content,
			URL:        redditBaseURL + d.Permalink,
			PostedAt:   time.Unix(int64(d.CreatedAt), 0).UTC().Format(time.RFC3339),
			Metadata:   string(meta),
		})
	}
	return out, nil
}

func renderPosts(posts []store.SocialPost, header string) string {
	if len(posts) == 0 {
		return header + " (none)"
	}
	var b strings.Builder
	b.WriteString(header + "\n")
	for i, p := range posts {
		text := p.Content
		if len(text) > 400 {
			text = text[:400] + "..."
		}
		fmt.Fprintf(&b, "%d. [%s] @%s: %s\n   %s\n", i+1, p.Platform, p.Author,
			strings.ReplaceAll(text, "\n", " "), p.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

type RedditSearchTool struct {
	Store      PostStore
	BaseURL    string
	HTTPClient *http.Client
}

type redditSearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *RedditSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "reddit_search",
		Description: "Search Reddit posts. Results are saved for later querying.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "description": "Max results (default 10, max 25)"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *RedditSearchTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in redditSearchArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 25 {
		limit = 25
	}
	body, err := redditClient{BaseURL: t.BaseURL, HTTPClient: t.HTTPClient}.
		fetch(ctx, "/search.json?q="+url.QueryEscape(query)+"&limit="+strconv.Itoa(limit))
	if err != nil {
		return "", err
	}
	posts, err := parseRedditListing(body)
	if err != nil {
		return "", err
	}
	if t.Store != nil {
		if _, err := t.Store.IngestPosts(posts); err != nil {
			return "", fmt.Errorf("save posts: %w", err)
		}
	}
	return renderPosts(posts, fmt.Sprintf("Reddit results for %q:", query)), nil
}

// RedditMonitorTool reports only posts not seen in a previous check of the
// same subreddit.
type RedditMonitorTool struct {
	Store      PostStore
	BaseURL    string
	HTTPClient *http.Client
}

type redditMonitorArgs struct {
	Subreddit string `json:"subreddit"`
	Limit     int    `json:"limit"`
}

func (t *RedditMonitorTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "reddit_monitor",
		Description: "Check a subreddit for posts that are new since the last check.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subreddit": map[string]any{"type": "string", "description": "Subreddit name without r/"},
				"limit":     map[string]any{"type": "integer"},
			},
			"required": []string{"subreddit"},
		},
	}
}

func (t *RedditMonitorTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in redditMonitorArgs
	if err := json.Unmarshal(inv.Args, &in); err != nil {
		return "", err
	}
	sub := strings.TrimPrefix(strings.TrimSpace(in.Subreddit), "r/")
	if sub == "" {
		return "", errors.New("subreddit is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 25
	}
	body, err := redditClient{BaseURL: t.BaseURL, HTTPClient: t.HTTPClient}.
		fetch(ctx, "/r/"+url.PathEscape(sub)+"/new.json?limit="+strconv.Itoa(limit))
	if err != nil {
		return "", err
	}
	posts, err := parseRedditListing(body)
	if err != nil {
		return "", err
	}

	var fresh []store.SocialPost
	for _, p := range posts {
		seen, err := t.Store.PostExists(p.Platform, p.ExternalID)
		if err != nil {
			return "", err
		}
		if !seen {
			fresh = append(fresh, p)
		}
	}
	if _, err := t.Store.IngestPosts(fresh); err != nil {
		return "", fmt.Errorf("save posts: %w", err)
	}
	return renderPosts(fresh, fmt.Sprintf("New posts in r/%s:", sub)), nil
}

// SocialQueryTool searches previously ingested posts.
type SocialQueryTool struct {
	Store PostStore
}

type socialQueryArgs struct {
	Query    string `json:"query"`
	Platform string `json:"platform"`
	Limit    int    `json:"limit"`
}

func (t *SocialQueryTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "social_query",
		Description: "Search saved social posts from earlier searches and monitors. Omit query to list recent posts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":    map[string]any{"type": "string"},
				"platform": map[string]any{"type": "string", "description": "reddit or x (optional)"},
				"limit":    map[string]any{"type": "integer"},
			},
		},
	}
}

func (t *SocialQueryTool) Call(ctx context.Context, inv Invocation) (string, error) {
	var in socialQueryArgs
	if len(inv.Args) > 0 {
		if err := json.Unmarshal(inv.Args, &in); err != nil {
			return "", err
		}
	}
	var (
		posts []store.SocialPost
		err   error
	)
	if strings.TrimSpace(in.Query) == "" {
		posts, err = t.Store.RecentPosts(in.Platform, in.Limit)
	} else {
		posts, err = t.Store.SearchPosts(in.Query, in.Platform, in.Limit)
	}
	if err != nil {
		return "", err
	}
	return renderPosts(posts, "Saved posts:"), nil
}
