package cryptopanic_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/cryptopanic"
)

func TestFetch_Posts(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts/", r.URL.Path)
		assert.Equal(t, "BTC", r.URL.Query().Get("currencies"))
		assert.Equal(t, "tok", r.URL.Query().Get("auth_token"))
		_, _ = w.Write([]byte(`{"count": 1, "results": [{
			"id": 19876, "title": "ETF inflows continue", "url": "https://cryptopanic.com/news/19876/",
			"published_at": "2024-03-01T09:30:00Z",
			"source": {"title": "The Block", "domain": "theblock.co"},
			"currencies": [{"code": "BTC"}, {"code": "eth"}]
		}]}`))
	}))
	t.Cleanup(srv.Close)
	p, err := cryptopanic.New(provider.Config{Name: "cryptopanic", BaseURL: srv.URL, Credential: "tok", QueryKey: "auth_token"})
	require.NoError(t, err)

	// Act
	b, err := p.Fetch(t.Context(), provider.Request{Category: model.News, Params: map[string]string{"symbol": "btc"}})

	// Assert
	require.NoError(t, err)
	require.Len(t, b.Articles, 1)
	a := b.Articles[0]
	assert.Equal(t, "19876", a.ID)
	assert.Equal(t, "The Block", a.Publisher)
	assert.Equal(t, []string{"BTC", "ETH"}, a.Symbols)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), a.PublishedAt)
}

func TestFetch_InfoDocumentIsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "Incomplete", "info": "Token not found"}`))
	}))
	t.Cleanup(srv.Close)
	p, err := cryptopanic.New(provider.Config{Name: "cryptopanic", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Fetch(t.Context(), provider.Request{Category: model.News})

	var aerr *provider.APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "Token not found", aerr.Message)
}
