package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebSearchTool implements market research search using Tavily API
type WebSearchTool struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// WebSearchArgs represents the arguments for web search
type WebSearchArgs struct {
	Query      string `json:"query"`
	Company    string `json:"company,omitempty"`
	Period     string `json:"period,omitempty"`      // e.g. "Q2 2024", "FY2023"
	SearchType string `json:"search_type,omitempty"` // news, peers, filings, all
}

// TavilyRequest represents a request to Tavily API
type TavilyRequest struct {
	APIKey            string   `json:"api_key"`
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth,omitempty"`
	Topic             string   `json:"topic,omitempty"`
	IncludeAnswer     bool     `json:"include_answer,omitempty"`
	IncludeRawContent bool     `json:"include_raw_content,omitempty"`
	MaxResults        int      `json:"max_results,omitempty"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
}

// TavilyResponse represents a response from Tavily API
type TavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []TavilyResult `json:"results"`
}

// TavilyResult represents a single search result
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

const maxResultContent = 500

// NewWebSearchTool creates a new web search tool
func NewWebSearchTool(apiKey, apiURL string) *WebSearchTool {
	if apiURL == "" {
		apiURL = "https://api.tavily.com/search"
	}
	return &WebSearchTool{
		apiKey: apiKey,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return `Search the web for market context that a financial document alone does not contain.
Use this tool to find:
- Recent news about the reporting company
- Industry peers and their published metrics
- Regulatory filings and analyst coverage

Cite the URLs you rely on. Figures from the document take precedence over search results.`
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	schema := `{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query. Be specific and include the company name."
			},
			"company": {
				"type": "string",
				"description": "The company the document reports on (optional, helps contextualize search)"
			},
			"period": {
				"type": "string",
				"description": "Reporting period such as 'Q2 2024' or 'FY2023' (optional)"
			},
			"search_type": {
				"type": "string",
				"enum": ["news", "peers", "filings", "all"],
				"description": "Type of search: 'news' for recent coverage, 'peers' for competitor metrics, 'filings' for regulatory filings, 'all' for a general search"
			}
		},
		"required": ["query"]
	}`
	return json.RawMessage(schema)
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var searchArgs WebSearchArgs
	if err := json.Unmarshal(args, &searchArgs); err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Failed to parse search arguments: %v", err),
			IsError: true,
		}, nil
	}
	if strings.TrimSpace(searchArgs.Query) == "" {
		return ErrorResult("query must not be empty"), nil
	}

	query := t.buildQuery(searchArgs)

	results, err := t.search(ctx, query, topicFor(searchArgs.SearchType))
	if err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Search failed: %v", err),
			IsError: true,
		}, nil
	}

	return ToolResult{Content: t.formatResults(results)}, nil
}

func (t *WebSearchTool) buildQuery(args WebSearchArgs) string {
	query := args.Query
	if args.Company == "" {
		return query
	}

	prefix := args.Company
	if args.Period != "" {
		prefix += " " + args.Period
	}
	switch args.SearchType {
	case "news":
		return fmt.Sprintf("%s latest news %s", prefix, query)
	case "peers":
		return fmt.Sprintf("%s competitors industry peers %s", prefix, query)
	case "filings":
		return fmt.Sprintf("%s SEC filing annual report %s", prefix, query)
	default:
		return fmt.Sprintf("%s %s", prefix, query)
	}
}

func topicFor(searchType string) string {
	if searchType == "news" {
		return "news"
	}
	return "general"
}

func (t *WebSearchTool) search(ctx context.Context, query, topic string) (*TavilyResponse, error) {
	request := TavilyRequest{
		APIKey:        t.apiKey,
		Query:         query,
		SearchDepth:   "basic",
		Topic:         topic,
		IncludeAnswer: true,
		MaxResults:    5,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tavilyResp TavilyResponse
	if err := json.Unmarshal(body, &tavilyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &tavilyResp, nil
}

func (t *WebSearchTool) formatResults(resp *TavilyResponse) string {
	var result strings.Builder

	fmt.Fprintf(&result, "Search Query: %s\n\n", resp.Query)

	if resp.Answer != "" {
		fmt.Fprintf(&result, "Summary: %s\n\n", resp.Answer)
	}

	if len(resp.Results) == 0 {
		result.WriteString("No results found.\n")
		return result.String()
	}

	result.WriteString("Search Results:\n")
	for i, r := range resp.Results {
		fmt.Fprintf(&result, "\n%d. %s\n", i+1, r.Title)
		fmt.Fprintf(&result, "   URL: %s\n", r.URL)
		content := r.Content
		if len(content) > maxResultContent {
			content = content[:maxResultContent] + "..."
		}
		fmt.Fprintf(&result, "   Content: %s\n", content)
	}

	return result.String()
}
