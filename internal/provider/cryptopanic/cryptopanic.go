// Package cryptopanic reads the CryptoPanic posts feed.
package cryptopanic

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
)

// Adapter implements provider.Adapter for CryptoPanic.
type Adapter struct{}

func (Adapter) Categories() []model.Category { return []model.Category{model.News} }

func (Adapter) Endpoint(req provider.Request) (provider.Endpoint, error) {
	if req.Category != model.News {
		return provider.Endpoint{}, fmt.Errorf("cryptopanic %s: %w", req.Category, provider.ErrUnsupported)
	}
	q := url.Values{"public": {"true"}}
	if s := req.Symbols(); len(s) > 0 {
		q.Set("currencies", strings.Join(s, ","))
	}
	if f := req.Param("filter", ""); f != "" {
		q.Set("filter", f)
	}
	return provider.Endpoint{Path: "/posts/", Query: q}, nil
}

// Normalize reads {"results": [{"id": 1, "title": "...", "source": {"title": "..."}, "currencies": [{"code": "BTC"}]}]}.
func (Adapter) Normalize(_ provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.News, source, now)
	root, ok := normalize.Object(raw)
	if !ok {
		return b, normalize.Errorf(source, model.News, "expected object")
	}
	results, ok := normalize.Array(root["results"])
	if !ok {
		if info := normalize.StringField(root, "info", "detail"); info != "" {
			return b, provider.NewAPIError(source, info)
		}
		return b, normalize.Errorf(source, model.News, "missing results array")
	}
	for _, r := range results {
		m, ok := normalize.Object(r)
		if !ok {
			continue
		}
		a := model.NewsArticle{
			ID:    normalize.StringField(m, "id"),
			Title: normalize.StringField(m, "title"),
			URL:   normalize.StringField(m, "url"),
		}
		if src, ok := normalize.Object(m["source"]); ok {
			a.Publisher = normalize.StringField(src, "title", "domain")
		}
		a.PublishedAt, _ = normalize.TimeField(m, "published_at", "created_at")
		if curs, ok := normalize.Array(m["currencies"]); ok {
			for _, c := range curs {
				if cm, ok := normalize.Object(c); ok {
					if code := normalize.Symbol(normalize.StringField(cm, "code")); code != "" {
						a.Symbols = append(a.Symbols, code)
					}
				}
			}
		}
		b.Articles = append(b.Articles, a)
	}
	return b.Stamp(source, now, 0), nil
}

// New builds the CryptoPanic provider.
func New(cfg provider.Config, opts ...provider.Option) (*provider.Upstream, error) {
	return provider.NewUpstream(cfg, Adapter{}, opts...)
}
