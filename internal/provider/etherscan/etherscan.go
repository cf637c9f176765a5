// Package etherscan reads the Etherscan gas oracle.
package etherscan

import (
	"fmt"
	"net/url"
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
)

// Adapter implements provider.Adapter for Etherscan compatible explorers.
type Adapter struct{}

func (Adapter) Categories() []model.Category { return []model.Category{model.Gas} }

func (Adapter) Endpoint(req provider.Request) (provider.Endpoint, error) {
	if req.Category != model.Gas {
		return provider.Endpoint{}, fmt.Errorf("etherscan %s: %w", req.Category, provider.ErrUnsupported)
	}
	return provider.Endpoint{
		Path:  "/api",
		Query: url.Values{"module": {"gastracker"}, "action": {"gasoracle"}},
	}, nil
}

// Normalize reads {"status": "1", "result": {"SafeGasPrice": "12", ...}}.
// A status of "0" carries the error message in result.
func (Adapter) Normalize(req provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.Gas, source, now)
	root, ok := normalize.Object(raw)
	if !ok {
		return b, normalize.Errorf(source, model.Gas, "expected object")
	}
	if normalize.StringField(root, "status") == "0" {
		msg := normalize.StringField(root, "result")
		if msg == "" {
			msg = normalize.StringField(root, "message")
		}
		return b, provider.NewAPIError(source, msg)
	}
	result, ok := normalize.Object(root["result"])
	if !ok {
		return b, normalize.Errorf(source, model.Gas, "missing result object")
	}
	b.Gas = append(b.Gas, model.GasPrice{
		Chain:    req.Param("chain", "ethereum"),
		Safe:     normalize.FloatField(result, "SafeGasPrice"),
		Standard: normalize.FloatField(result, "ProposeGasPrice"),
		Fast:     normalize.FloatField(result, "FastGasPrice"),
		BaseFee:  normalize.FloatField(result, "suggestBaseFee"),
		Unit:     "gwei",
		Block:    normalize.IntField(result, "LastBlock"),
	})
	return b.Stamp(source, now, 0), nil
}

// New builds the Etherscan provider.
func New(cfg provider.Config, opts ...provider.Option) (*provider.Upstream, error) {
	return provider.NewUpstream(cfg, Adapter{}, opts...)
}
