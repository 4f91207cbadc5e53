package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	apiBaseURL   = "https://api.spotify.com/v1"
	tokenURL     = "https://accounts.spotify.com/api/token"
	rateLimitDur = 200 * time.Millisecond // minimum gap between API calls

	maxRetries   = 3
	initialDelay = 2 * time.Second
	maxDelay     = 30 * time.Second
)

// ErrUnauthorized is returned when the provider rejects our credentials.
// Callers must not mark entities as failed on this error.
var ErrUnauthorized = errors.New("spotify: unauthorized")

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("spotify: not found")

// Client provides access to the streaming metadata provider.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	token       string
	tokenExpiry time.Time
}

// NewClient creates a new provider client with client-credentials auth.
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// IsAuthenticated reports whether a usable token is held. Cheap and
// side-effect-free: it never refreshes.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != "" && time.Now().Before(c.tokenExpiry)
}

// SearchArtists searches artists by name.
func (c *Client) SearchArtists(ctx context.Context, query string, limit int) ([]Artist, error) {
	var result searchResponse
	if err := c.search(ctx, query, "artist", limit, &result); err != nil {
		return nil, err
	}
	if result.Artists == nil {
		return nil, nil
	}
	return result.Artists.Items, nil
}

// SearchAlbums searches albums by free-text query.
func (c *Client) SearchAlbums(ctx context.Context, query string, limit int) ([]Album, error) {
	var result searchResponse
	if err := c.search(ctx, query, "album", limit, &result); err != nil {
		return nil, err
	}
	if result.Albums == nil {
		return nil, nil
	}
	return result.Albums.Items, nil
}

// SearchTracks searches tracks by free-text query.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	var result searchResponse
	if err := c.search(ctx, query, "track", limit, &result); err != nil {
		return nil, err
	}
	if result.Tracks == nil {
		return nil, nil
	}
	return result.Tracks.Items, nil
}

// GetArtist fetches a single artist by provider ID.
func (c *Client) GetArtist(ctx context.Context, id string) (*Artist, error) {
	var artist Artist
	if err := c.get(ctx, "/artists/"+url.PathEscape(id), nil, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// GetArtistAlbums fetches an artist's releases. albumType may be a
// comma-separated filter ("album,single") or "" for all.
func (c *Client) GetArtistAlbums(ctx context.Context, id, albumType string, limit int) ([]Album, error) {
	params := url.Values{}
	if albumType != "" {
		params.Set("include_groups", albumType)
	}
	params.Set("limit", strconv.Itoa(clampLimit(limit)))

	var page pagedAlbums
	if err := c.get(ctx, "/artists/"+url.PathEscape(id)+"/albums", params, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// GetAlbum fetches a full album payload including its tracklist.
func (c *Client) GetAlbum(ctx context.Context, id string) (*Album, error) {
	var result albumResponse
	if err := c.get(ctx, "/albums/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	album := result.Album
	album.Tracks = result.TracksPage.Items
	// Track payloads inside an album omit the album object; backfill so
	// descriptors stay self-contained.
	for i := range album.Tracks {
		if album.Tracks[i].Album.ID == "" {
			album.Tracks[i].Album = Album{
				ID:          album.ID,
				Name:        album.Name,
				AlbumType:   album.AlbumType,
				ReleaseDate: album.ReleaseDate,
				TotalTracks: album.TotalTracks,
				Images:      album.Images,
				Artists:     album.Artists,
			}
		}
	}
	return &album, nil
}

// GetAlbumTracks fetches the tracklist of an album.
func (c *Client) GetAlbumTracks(ctx context.Context, id string) ([]Track, error) {
	var page pagedTracks
	if err := c.get(ctx, "/albums/"+url.PathEscape(id)+"/tracks", nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) search(ctx context.Context, query, kind string, limit int, out *searchResponse) error {
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", kind)
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	return c.get(ctx, "/search", params, out)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 50 {
		return 50
	}
	return limit
}

// get performs an authenticated GET with rate limiting and retry.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := apiBaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	delay := initialDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(delay*2, maxDelay)
		}

		err := c.doGet(ctx, reqURL, out)
		if err == nil {
			return nil
		}
		// Auth and not-found are terminal; only transient upstream
		// failures are retried.
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) doGet(ctx context.Context, reqURL string, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	c.waitForRateLimit()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.invalidateToken()
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (retry-after %s)", resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ensureToken returns a valid access token, refreshing when expired.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	body := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, body)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrUnauthorized
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	// Refresh one minute early to avoid mid-batch expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	c.mu.Unlock()

	return tok.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// waitForRateLimit enforces the minimum gap between provider calls.
func (c *Client) waitForRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastRequest)
	if elapsed < rateLimitDur {
		time.Sleep(rateLimitDur - elapsed)
	}
	c.lastRequest = time.Now()
}
