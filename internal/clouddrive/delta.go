package clouddrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// deltaResponse mirrors the wire shape of a "list changes since token"
// response, using a two-token pagination convention (a page-continuation
// token plus a next-start token for once paging completes).
type deltaResponse struct {
	Items     []itemResponse `json:"items"`
	NextToken string         `json:"nextPageToken"`
	NewToken  string         `json:"newStartPageToken"`
}

// Delta fetches one page of changes since token (empty token means "from
// the beginning"). A non-empty NewToken on the returned page means the
// caller has reached the end and should persist it for the next poll
// cycle; a non-empty NextToken means more pages remain.
func (c *Client) Delta(ctx context.Context, token string) (*DeltaPage, error) {
	path := "/changes"
	if token != "" {
		path += "?pageToken=" + token
	}

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGone {
			return nil, fmt.Errorf("clouddrive: %w", ErrGone)
		}

		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("clouddrive: decoding delta response: %w", err)
	}

	items := make([]Item, 0, len(dr.Items))
	for _, ir := range dr.Items {
		items = append(items, ir.toItem())
	}

	return &DeltaPage{Items: items, NextToken: dr.NextToken, NewToken: dr.NewToken}, nil
}

// DeltaAll pages through every change since token and returns the
// combined items plus the token to persist for the next poll cycle.
func (c *Client) DeltaAll(ctx context.Context, token string) ([]Item, string, error) {
	var all []Item

	current := token

	for {
		page, err := c.Delta(ctx, current)
		if err != nil {
			return nil, "", err
		}

		all = append(all, page.Items...)

		if page.NewToken != "" {
			return all, page.NewToken, nil
		}

		if page.NextToken == "" {
			return all, "", nil
		}

		current = page.NextToken
	}
}
