package clouddrive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeltaAllPagesUntilNewToken(t *testing.T) {
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(deltaResponse{
				Items:     []itemResponse{{ID: "a"}},
				NextToken: "page2",
			})
			return
		}

		_ = json.NewEncoder(w).Encode(deltaResponse{
			Items:    []itemResponse{{ID: "b"}},
			NewToken: "final-token",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok"), nil)

	items, newToken, err := c.DeltaAll(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, items, 2)
	require.Equal(t, "final-token", newToken)
}

func TestDeltaReturnsErrGoneOnExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok"), nil)

	_, err := c.Delta(context.Background(), "stale-token")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrGone))
}
