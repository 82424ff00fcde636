package clouddrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// TokenSource provides OAuth2 bearer tokens, mirroring graph.TokenSource.
type TokenSource interface {
	Token() (string, error)
}

const (
	userAgent  = "treesync/0.1"
	maxRetries = 5
	baseDelay  = 1 * time.Second
	maxDelay   = 60 * time.Second
)

// Client is an HTTP client for a Google-Drive-like remote API: request
// construction, bearer auth, and retry/backoff via go-retry, the same
// library the rest of this engine already depends on.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a Client against baseURL (e.g. a Drive API v3 root).
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, token: token, logger: logger}
}

// Do executes an authenticated request, retrying transient failures with
// exponential backoff. The caller closes the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.DoWithHeaders(ctx, method, path, body, nil)
}

// DoWithHeaders behaves like Do but merges extraHeaders into the request.
func (c *Client) DoWithHeaders(
	ctx context.Context, method, path string, body io.Reader, extraHeaders http.Header,
) (*http.Response, error) {
	backoff := retry.WithMaxRetries(maxRetries, retry.WithCappedDuration(maxDelay, retry.NewExponential(baseDelay)))

	var result *http.Response

	err := retry.Do(ctx, backoff, func(rctx context.Context) error {
		resp, err := c.doOnce(rctx, method, path, body, extraHeaders)
		if err != nil {
			return retry.RetryableError(err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			result = resp
			return nil
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(errBody), Err: classifyStatus(resp.StatusCode)}

		if isRetryable(resp.StatusCode) {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, convErr := strconv.Atoi(ra); convErr == nil && seconds > 0 {
					select {
					case <-rctx.Done():
						return rctx.Err()
					case <-time.After(time.Duration(seconds) * time.Second):
					}
				}
			}

			return retry.RetryableError(apiErr)
		}

		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("clouddrive: %s %s: %w", method, path, err)
	}

	return result, nil
}

func (c *Client) doOnce(
	ctx context.Context, method, path string, body io.Reader, extraHeaders http.Header,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("clouddrive: building request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("clouddrive: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, vals := range extraHeaders {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("clouddrive: request failed", "method", method, "path", path, "error", err)
		return nil, err
	}

	return resp, nil
}

// itemResponse is the wire shape decoded into Item.
type itemResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ParentIDs  []string  `json:"parents"`
	Size       int64     `json:"size"`
	ETag       string    `json:"etag"`
	IsFolder   bool      `json:"isFolder"`
	MimeType   string    `json:"mimeType"`
	Hash       string    `json:"contentHash"`
	HashAlgo   string    `json:"hashAlgo"`
	CreatedAt  time.Time `json:"createdTime"`
	ModifiedAt time.Time `json:"modifiedTime"`
	ChildCount int       `json:"childCount"`
	IsDeleted  bool      `json:"trashed"`
}

func (r itemResponse) toItem() Item {
	cc := r.ChildCount
	if cc == 0 && !r.IsFolder {
		cc = ChildCountUnknown
	}

	return Item{
		ID: r.ID, Name: r.Name, ParentIDs: r.ParentIDs, Size: r.Size, ETag: r.ETag,
		IsFolder: r.IsFolder, MimeType: r.MimeType, Hash: r.Hash, HashAlgo: r.HashAlgo,
		CreatedAt: r.CreatedAt, ModifiedAt: r.ModifiedAt, ChildCount: cc, IsDeleted: r.IsDeleted,
	}
}

// GetItem fetches a single item's metadata by ID.
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/files/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("clouddrive: decoding item %s: %w", id, err)
	}

	item := ir.toItem()

	return &item, nil
}

// ListChildren lists every direct child of folder parentID, paging
// through the API's nextPageToken cursor until it comes back empty.
func (c *Client) ListChildren(ctx context.Context, parentID string) ([]Item, error) {
	var out []Item

	pageToken := ""

	for {
		items, next, err := c.listChildrenPage(ctx, parentID, pageToken)
		if err != nil {
			return nil, err
		}

		out = append(out, items...)

		if next == "" {
			return out, nil
		}

		pageToken = next
	}
}

func (c *Client) listChildrenPage(ctx context.Context, parentID, pageToken string) ([]Item, string, error) {
	path := "/files?parent=" + url.QueryEscape(parentID)
	if pageToken != "" {
		path += "&pageToken=" + url.QueryEscape(pageToken)
	}

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var list struct {
		Items         []itemResponse `json:"items"`
		NextPageToken string         `json:"nextPageToken"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, "", fmt.Errorf("clouddrive: decoding children of %s: %w", parentID, err)
	}

	out := make([]Item, 0, len(list.Items))
	for _, ir := range list.Items {
		out = append(out, ir.toItem())
	}

	return out, list.NextPageToken, nil
}

// CreateFolder creates a folder named name under parentID.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	reqBody, err := json.Marshal(map[string]any{"name": name, "parents": []string{parentID}, "isFolder": true})
	if err != nil {
		return nil, fmt.Errorf("clouddrive: marshaling create-folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/files", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("clouddrive: decoding create-folder response: %w", err)
	}

	item := ir.toItem()

	return &item, nil
}

// DeleteItem deletes id (moves to trash on APIs that support it).
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	resp, err := c.Do(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// MoveItem reparents id from its current folder(s) to newParentID and
// renames it to newName in a single patch request.
func (c *Client) MoveItem(ctx context.Context, id, newParentID, newName string) (*Item, error) {
	reqBody, err := json.Marshal(map[string]any{"name": newName, "parents": []string{newParentID}})
	if err != nil {
		return nil, fmt.Errorf("clouddrive: marshaling move request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPatch, "/files/"+url.PathEscape(id), bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("clouddrive: decoding move response: %w", err)
	}

	item := ir.toItem()

	return &item, nil
}
