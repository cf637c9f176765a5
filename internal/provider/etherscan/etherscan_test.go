package etherscan_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/etherscan"
)

func newProvider(t *testing.T, body string) *provider.Upstream {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gasoracle", r.URL.Query().Get("action"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	p, err := etherscan.New(provider.Config{Name: "etherscan", BaseURL: srv.URL, Credential: "secret", QueryKey: "apikey"})
	require.NoError(t, err)
	return p
}

func TestFetch_GasOracle(t *testing.T) {
	t.Parallel()

	// Arrange
	p := newProvider(t, `{"status": "1", "message": "OK", "result": {
		"LastBlock": "19350000", "SafeGasPrice": "21", "ProposeGasPrice": "22", "FastGasPrice": "25.5", "suggestBaseFee": "20.713"
	}}`)

	// Act
	b, err := p.Fetch(t.Context(), provider.Request{Category: model.Gas})

	// Assert
	require.NoError(t, err)
	require.Len(t, b.Gas, 1)
	g := b.Gas[0]
	assert.Equal(t, "ethereum", g.Chain)
	assert.Equal(t, 21.0, g.Safe)
	assert.Equal(t, 22.0, g.Standard)
	assert.Equal(t, 25.5, g.Fast)
	assert.Equal(t, 20.713, g.BaseFee)
	assert.Equal(t, int64(19350000), g.Block)
	assert.Equal(t, "gwei", g.Unit)
	assert.Equal(t, "etherscan", g.Source)
}

func TestFetch_StatusZero(t *testing.T) {
	t.Parallel()

	p := newProvider(t, `{"status": "0", "message": "NOTOK", "result": "Max rate limit reached"}`)

	_, err := p.Fetch(t.Context(), provider.Request{Category: model.Gas})

	var aerr *provider.APIError
	require.True(t, errors.As(err, &aerr))
	assert.True(t, aerr.Temporary)
	assert.True(t, provider.Retryable(err))
}
