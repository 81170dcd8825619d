// Package explain talks to the diagnostic-explanation service: a DTC
// string goes in, a structured explanation comes out. The backend is a
// generative-language wrapper whose output is free text shaped loosely
// like JSON, so responses are scrubbed before decoding.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Explanation is the structured answer for one trouble code.
type Explanation struct {
	Title       string   `json:"title"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Causes      []string `json:"causes"`
	Fixes       []string `json:"fixes"`
}

// Client queries the explanation backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Analyze posts the code to the backend and decodes its answer. A
// response that cannot be parsed as JSON even after cleanup is wrapped
// into a fallback explanation rather than returned as an error, since
// the raw text is still useful to show.
func (c *Client) Analyze(ctx context.Context, code string) (*Explanation, error) {
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("explain: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explain: backend returned %s", resp.Status)
	}
	return Parse(raw), nil
}

// Parse decodes a backend answer, scrubbing free-text artifacts first.
// Unparseable text is folded into a fallback explanation.
func Parse(raw []byte) *Explanation {
	cleaned := CleanJSON(string(raw))
	var e Explanation
	if err := json.Unmarshal([]byte(cleaned), &e); err != nil || e.Title == "" && e.Description == "" {
		return &Explanation{
			Title:       "Parsing Error",
			Severity:    "-",
			Description: "Backend returned unstructured text.",
			Causes:      []string{strings.TrimSpace(cleaned)},
			Fixes:       []string{},
		}
	}
	return &e
}

var (
	braceRe         = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)
)

// CleanJSON extracts the JSON object from model output and removes the
// decorations language models like to add: markdown fences, bullet
// characters, smart quotes and trailing commas.
func CleanJSON(text string) string {
	if m := braceRe.FindString(text); m != "" {
		text = m
	}
	replacer := strings.NewReplacer(
		"|", "",
		"•", "", // bullet
		"json", "",
		"“", `"`, "”", `"`, // curly double quotes
		"’", "'", // curly apostrophe
	)
	text = replacer.Replace(text)
	text = trailingCommaRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
