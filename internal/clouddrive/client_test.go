package clouddrive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func TestGetItemDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/abc", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(itemResponse{ID: "abc", Name: "f.txt", Size: 5})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok"), nil)

	item, err := c.GetItem(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "f.txt", item.Name)
	require.Equal(t, int64(5), item.Size)
}

func TestDoRetriesOnServerErrorThenSucceeds(t *testing.T) {
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_ = json.NewEncoder(w).Encode(itemResponse{ID: "x"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok"), nil)

	item, err := c.GetItem(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "x", item.ID)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestListChildrenFollowsNextPageTokenWithoutDuplicates(t *testing.T) {
	var tokensSeen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "folder1", r.URL.Query().Get("parent"))

		tokensSeen = append(tokensSeen, r.URL.Query().Get("pageToken"))

		switch r.URL.Query().Get("pageToken") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items":         []itemResponse{{ID: "a"}},
				"nextPageToken": "page2",
			})
		case "page2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []itemResponse{{ID: "b"}},
			})
		default:
			t.Fatalf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok"), nil)

	items, err := c.ListChildren(context.Background(), "folder1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].ID)
	require.Equal(t, "b", items[1].ID)
	require.Equal(t, []string{"", "page2"}, tokensSeen)
}

func TestDoReturnsNotFoundClassifiedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok"), nil)

	_, err := c.GetItem(context.Background(), "missing")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
}
