package yodeck

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

	"github.com/rs/zerolog/log"
)

const maxDiagnosticBody = 300

// Client is a thin retrying HTTP client for the remote signage
// platform. It owns auth, error classification, and transient-failure
// retries; everything above it works with typed calls and APIError.
type Client struct {
	baseURL    string
	tokenLabel string
	tokenValue string
	httpClient *http.Client

	// retry policy for transient failures only
	maxAttempts  int
	initialDelay time.Duration
	sleep        func(time.Duration)
}

// NewClient parses the platform token ("label:secret") and fails fast
// on a malformed one: a bad token can never succeed remotely, so there
// is no point constructing a client that will 401 on every call.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	label, secret, ok := strings.Cut(token, ":")
	if !ok || label == "" || secret == "" {
		return nil, &APIError{Kind: KindAuthInvalid, Path: baseURL, Body: "token must be label:secret"}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenLabel:   label,
		tokenValue:   secret,
		httpClient:   &http.Client{Timeout: timeout},
		maxAttempts:  3,
		initialDelay: 500 * time.Millisecond,
		sleep:        time.Sleep,
	}, nil
}

// do performs one classified request without retries.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Token %s:%s", c.tokenLabel, c.tokenValue))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// the token label identifies which credential is in use; the secret
	// half never reaches the log
	log.Debug().
		Str("method", method).
		Str("path", path).
		Str("token_label", c.tokenLabel).
		Msg("[yodeck] request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindAPIError, Path: path, Body: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindAPIError, StatusCode: resp.StatusCode, Path: path, Body: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &APIError{Kind: KindAuthError, StatusCode: resp.StatusCode, Path: path}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &APIError{Kind: KindNotFound, StatusCode: resp.StatusCode, Path: path}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{Kind: KindAPIError, StatusCode: resp.StatusCode, Path: path, Body: Truncate(string(raw), maxDiagnosticBody)}
	}

	// The platform occasionally serves an HTML error page with a 200.
	// Detect it instead of handing garbage to json.Unmarshal upstream.
	if len(raw) > 0 && !json.Valid(raw) {
		return nil, &APIError{Kind: KindProtocolError, StatusCode: resp.StatusCode, Path: path, Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	return raw, nil
}

// Do performs a classified request, retrying transient failures with
// exponential backoff. Auth failures and 404s are returned immediately.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var lastErr error
	delay := c.initialDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		raw, err := c.do(ctx, method, path, body)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("path", path).Int("attempt", attempt).Msg("[yodeck] request succeeded after retry")
			}
			return raw, nil
		}
		lastErr = err
		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.Retryable() || attempt == c.maxAttempts {
			break
		}
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt).
			Err(err).
			Msg("[yodeck] transient failure, retrying")
		c.sleep(delay)
		delay *= 2
	}
	return nil, lastErr
}

// SearchPlaylistByName returns the playlist with an exact name match,
// or nil when no playlist carries that name.
func (c *Client) SearchPlaylistByName(ctx context.Context, name string) (*Playlist, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/playlists/?name="+url.QueryEscape(name), nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		Results []Playlist `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, &APIError{Kind: KindProtocolError, Path: "/playlists/", Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	// the name filter is a substring match remotely, require exact
	for i := range page.Results {
		if page.Results[i].Name == name {
			return &page.Results[i], nil
		}
	}
	return nil, nil
}

// CreatePlaylist creates an empty remote playlist with the given name.
func (c *Client) CreatePlaylist(ctx context.Context, name string) (*Playlist, error) {
	raw, err := c.Do(ctx, http.MethodPost, "/playlists/", map[string]any{"name": name, "items": []PlaylistItem{}})
	if err != nil {
		return nil, err
	}
	var p Playlist
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &APIError{Kind: KindProtocolError, Path: "/playlists/", Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	return &p, nil
}

// GetPlaylistItems fetches the live ordered item list of a playlist.
func (c *Client) GetPlaylistItems(ctx context.Context, playlistID int64) ([]PlaylistItem, error) {
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/playlists/%d/", playlistID), nil)
	if err != nil {
		return nil, err
	}
	var p Playlist
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &APIError{Kind: KindProtocolError, Path: fmt.Sprintf("/playlists/%d/", playlistID), Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	return p.Items, nil
}

// ReplacePlaylistItems overwrites the playlist's items in one write.
// The PATCH body is full-replace, which avoids the partial-state window
// an add/remove sequence would open.
func (c *Client) ReplacePlaylistItems(ctx context.Context, playlistID int64, items []PlaylistItem) error {
	if items == nil {
		items = []PlaylistItem{}
	}
	_, err := c.Do(ctx, http.MethodPatch, fmt.Sprintf("/playlists/%d/", playlistID), map[string]any{"items": items})
	return err
}

// GetScreen fetches the live state of a remote player.
func (c *Client) GetScreen(ctx context.Context, playerID int64) (*ScreenState, error) {
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/screens/%d/", playerID), nil)
	if err != nil {
		return nil, err
	}
	var s ScreenState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, &APIError{Kind: KindProtocolError, Path: fmt.Sprintf("/screens/%d/", playerID), Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	return &s, nil
}

// AssignPlaylist points the player's content source at a playlist.
func (c *Client) AssignPlaylist(ctx context.Context, playerID, playlistID int64) error {
	body := map[string]any{
		"screen_content": ScreenContent{SourceType: SourceTypePlaylist, SourceID: playlistID},
	}
	_, err := c.Do(ctx, http.MethodPatch, fmt.Sprintf("/screens/%d/", playerID), body)
	return err
}

// PushScreen asks the platform to refresh the player's content now.
func (c *Client) PushScreen(ctx context.Context, playerID int64) error {
	_, err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/screens/%d/push/", playerID), nil)
	return err
}

// CreateMedia registers a media record and returns the presigned
// upload destination for its bytes.
func (c *Client) CreateMedia(ctx context.Context, name string) (*MediaUploadTicket, error) {
	raw, err := c.Do(ctx, http.MethodPost, "/media/", map[string]any{"name": name, "type": "video"})
	if err != nil {
		return nil, err
	}
	var t MediaUploadTicket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, &APIError{Kind: KindProtocolError, Path: "/media/", Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	return &t, nil
}

// UploadMediaFile streams the raw bytes to the presigned URL. This is
// the one call that bypasses the platform API host, so it gets its own
// plain request without the Token header.
func (c *Client) UploadMediaFile(ctx context.Context, uploadURL string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Kind: KindAPIError, Path: "presigned-upload", Body: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &APIError{Kind: KindAPIError, StatusCode: resp.StatusCode, Path: "presigned-upload", Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	return nil
}

// CompleteMediaUpload tells the platform the presigned upload finished.
func (c *Client) CompleteMediaUpload(ctx context.Context, mediaID int64) error {
	_, err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/media/%d/complete/", mediaID), nil)
	return err
}

// GetMediaStatus fetches and decodes the media readiness endpoint.
func (c *Client) GetMediaStatus(ctx context.Context, mediaID int64) (MediaStatus, error) {
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/media/%d/status/", mediaID), nil)
	if err != nil {
		return MediaStatus{}, err
	}
	return DecodeMediaStatus(raw)
}

// GetMedia fetches the canonical media record. Used as final
// verification after a "ready" status: the status endpoint has been
// observed reporting ready while the object itself still 404s.
func (c *Client) GetMedia(ctx context.Context, mediaID int64) (*Media, error) {
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/media/%d/", mediaID), nil)
	if err != nil {
		return nil, err
	}
	var m Media
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &APIError{Kind: KindProtocolError, Path: fmt.Sprintf("/media/%d/", mediaID), Body: Truncate(string(raw), maxDiagnosticBody)}
	}
	return &m, nil
}
