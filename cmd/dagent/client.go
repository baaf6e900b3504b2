package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	"github.com/ZanzyTHEbar/deck-agent/dagent/harness"
)

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) conversationPath(id, leaf string) string {
	return "/v1/conversations/" + url.PathEscape(id) + "/" + leaf
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) signal(ctx context.Context, id string, sig conversation.Signal) (uint64, error) {
	var resp struct {
		Seq uint64 `json:"seq"`
	}
	payload := map[string]any{
		"query":       sig.Query,
		"pptx_paths":  nonNil(sig.PPTXPaths),
		"excel_paths": nonNil(sig.ExcelPaths),
	}
	if err := c.do(ctx, http.MethodPost, c.conversationPath(id, "signals"), payload, &resp); err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

func (c *apiClient) status(ctx context.Context, id string) (harness.Status, error) {
	var st harness.Status
	err := c.do(ctx, http.MethodGet, c.conversationPath(id, "status"), nil, &st)
	return st, err
}

func (c *apiClient) log(ctx context.Context, id string) ([]conversation.Turn, error) {
	var turns []conversation.Turn
	err := c.do(ctx, http.MethodGet, c.conversationPath(id, "log"), nil, &turns)
	return turns, err
}

// awaitSignal polls the status until seq has been processed or the
// conversation stalls.
func (c *apiClient) awaitSignal(ctx context.Context, id string, seq uint64, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st, err := c.status(ctx, id)
		if err != nil {
			return err
		}
		if st.LastSignalSeq >= seq {
			return nil
		}
		if st.Stalled {
			return fmt.Errorf("conversation %s stalled: %s", id, st.LastError)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for signal %d: %w", seq, ctx.Err())
		case <-ticker.C:
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
