package llm

import (
	"errors"
	"net/http"
	"strings"
)

// Config describes one OpenAI-compatible chat-completions endpoint
// (OpenRouter, OpenAI, a local gateway).
//
// Timeout is per attempt, in seconds. MaxRetries is the number of extra
// attempts made after a network error, a 429 or a 5xx response.
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	MaxRetries  int     `json:"max_retries"`
	// SiteURL and AppName feed OpenRouter's attribution headers.
	SiteURL string `json:"site_url"`
	AppName string `json:"app_name"`
}

// Validate reports every problem at once so a misconfigured deployment shows
// the full list in one log line.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("API key is required"))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("API URL is required"))
	} else if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		errs = append(errs, errors.New("API URL must be http(s)"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, errors.New("max tokens must be greater than 0"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("temperature must be between 0 and 2"))
	}
	if c.Timeout < 1 {
		errs = append(errs, errors.New("timeout must be greater than 0"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) setHeaders(h http.Header) {
	h.Set("Authorization", "Bearer "+c.APIKey)
	h.Set("Content-Type", "application/json")
	if c.SiteURL != "" {
		h.Set("HTTP-Referer", c.SiteURL)
	}
	if c.AppName != "" {
		h.Set("X-Title", c.AppName)
	}
}
