package main

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFlag(t *testing.T) {
	t.Parallel()

	ps := params{}
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(ps, "param", "")

	err := fs.Parse([]string{"-param", "symbols=BTC,ETH", "-param", " currency = eur "})

	require.NoError(t, err)
	assert.Equal(t, params{"symbols": "BTC,ETH", "currency": "eur"}, ps)
}

func TestParamsFlag_Invalid(t *testing.T) {
	t.Parallel()

	ps := params{}
	assert.Error(t, ps.Set("symbols"))
	assert.Error(t, ps.Set("=BTC"))
}

func TestRun_UnknownCategory(t *testing.T) {
	t.Parallel()

	err := run("", "weather", params{}, false, false, 0)

	assert.Error(t, err)
}
