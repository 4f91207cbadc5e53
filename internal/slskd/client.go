package slskd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	searchTimeout   = 30 * time.Second
	pollTimeout     = 10 * time.Second
	downloadTimeout = 15 * time.Second

	searchPollInterval = time.Second
)

// Client provides access to the slskd API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new slskd API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: searchTimeout},
	}
}

// Search runs a search on the Soulseek network and blocks until the
// search reaches a terminal state or ctx expires, then returns all user
// responses. The server-side search object is deleted afterwards.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	searchID, err := c.startSearch(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.deleteSearch(context.WithoutCancel(ctx), searchID) }()

	ticker := time.NewTicker(searchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Timed out waiting; return whatever arrived.
			responses, rerr := c.searchResponses(context.WithoutCancel(ctx), searchID)
			if rerr != nil {
				return nil, ctx.Err()
			}
			return responses, nil
		case <-ticker.C:
			status, err := c.searchStatus(ctx, searchID)
			if err != nil {
				return nil, err
			}
			if SearchState(status.State).IsComplete() {
				return c.searchResponses(ctx, searchID)
			}
		}
	}
}

func (c *Client) startSearch(ctx context.Context, query string) (string, error) {
	body := map[string]string{"searchText": query}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v0/searches", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result SearchRequest
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.ID, nil
}

func (c *Client) searchStatus(ctx context.Context, searchID string) (*SearchRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v0/searches/"+searchID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result SearchRequest
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func (c *Client) searchResponses(ctx context.Context, searchID string) ([]SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	reqURL := c.baseURL + "/api/v0/searches/" + searchID + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result []SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func (c *Client) deleteSearch(ctx context.Context, searchID string) error {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v0/searches/"+searchID, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// Download queues files for download from a specific user.
func (c *Client) Download(ctx context.Context, username string, files []File) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	jsonBody, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	encodedUsername := url.PathEscape(username)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/api/v0/transfers/downloads/"+encodedUsername,
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GetDownloads returns all current transfers as a flattened list.
func (c *Client) GetDownloads(ctx context.Context) ([]Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v0/transfers/downloads", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var responses []DownloadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var transfers []Transfer
	for _, userResp := range responses {
		for _, dir := range userResp.Directories {
			for _, file := range dir.Files {
				pct := file.PercentComplete
				if pct == 0 && file.Size > 0 {
					pct = float64(file.BytesTransferred) / float64(file.Size) * 100
				}
				transfers = append(transfers, Transfer{
					ID:              file.ID,
					Username:        file.Username,
					Filename:        file.Filename,
					State:           file.State,
					Size:            file.Size,
					PercentComplete: pct,
				})
			}
		}
	}
	return transfers, nil
}

// CancelDownload cancels a transfer; remove also deletes the record.
func (c *Client) CancelDownload(ctx context.Context, username, downloadID string, remove bool) error {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	encodedUsername := url.PathEscape(username)
	encodedID := url.PathEscape(downloadID)
	reqURL := c.baseURL + "/api/v0/transfers/downloads/" + encodedUsername + "/" + encodedID
	if remove {
		reqURL += "?remove=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	resp.Body.Close()

	// 404 means it is already gone, which is fine.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// ClearCompleted removes all completed transfers from the daemon table.
func (c *Client) ClearCompleted(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v0/transfers/downloads/all/completed", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// CheckConnection verifies the daemon is reachable and responding.
func (c *Client) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v0/application", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// setHeaders sets common headers for API requests.
func (c *Client) setHeaders(req *http.Request) {
	if req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
}
