// Command probe calls every configured provider of a category directly,
// bypassing breakers, limits and the cache, and reports how each one
// answered. It is meant for checking credentials and payload formats.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"marketfeed/internal/app"
	"marketfeed/internal/config"
	"marketfeed/internal/logger"
	"marketfeed/internal/model"
	"marketfeed/internal/provider"
	"marketfeed/internal/registry"
)

// Result is the outcome of probing one provider.
type Result struct {
	Provider string         `json:"provider"`
	Category model.Category `json:"category"`
	Records  int            `json:"records"`
	Empty    bool           `json:"empty"`
	Latency  time.Duration  `json:"latency_ns"`
	Error    string         `json:"error,omitempty"`
	Sample   model.Record   `json:"sample,omitempty"`
}

func main() {
	var (
		configPath  string
		category    string
		only        string
		concurrency int
		timeout     time.Duration
		asJSON      bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json or config.yaml (optional)")
	flag.StringVar(&category, "category", "", "category to probe (default: all)")
	flag.StringVar(&only, "provider", "", "probe only this provider")
	flag.IntVar(&concurrency, "concurrency", 4, "number of providers probed in parallel")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "timeout per provider")
	flag.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Log.Output = "stderr"
	a, err := app.New(cfg, logger.New(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	cats := model.Categories
	if category != "" {
		cat, err := model.ParseCategory(category)
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe: %v\n", err)
			os.Exit(2)
		}
		cats = []model.Category{cat}
	}

	var targets []registry.ProviderConfig
	for _, cat := range cats {
		for _, e := range a.Registry.Chain(cat) {
			if only == "" || strings.EqualFold(only, e.Config.Name) {
				targets = append(targets, e.Config)
			}
		}
	}

	results := probe(context.Background(), targets, a.Catalog.Unguarded, concurrency, timeout)
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		printTable(os.Stdout, results)
	}
	for _, r := range results {
		if r.Error != "" {
			os.Exit(1)
		}
	}
}

// probe calls each target once with default parameters. Results keep the
// order of targets.
func probe(ctx context.Context, targets []registry.ProviderConfig, build func(registry.ProviderConfig) (provider.Provider, error), concurrency int, timeout time.Duration) []Result {
	results := make([]Result, len(targets))
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, cfg := range targets {
		g.Go(func() error {
			r := Result{Provider: cfg.Name, Category: cfg.Category}
			p, err := build(cfg)
			if err != nil {
				r.Error = err.Error()
				results[i] = r
				return nil
			}

			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			b, err := p.Fetch(cctx, provider.Request{Category: cfg.Category})
			r.Latency = time.Since(start)
			if err != nil {
				r.Error = err.Error()
			}
			r.Records = b.Len()
			r.Empty = b.Empty()
			if recs := b.Records(); len(recs) > 0 {
				r.Sample = recs[0]
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func printTable(w io.Writer, results []Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tCATEGORY\tRECORDS\tLATENCY\tSTATUS")
	for _, r := range results {
		status := "ok"
		switch {
		case r.Error != "":
			status = r.Error
		case r.Empty:
			status = "empty"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Provider, r.Category, r.Records, r.Latency.Round(time.Millisecond), status)
	}
	_ = tw.Flush()
}
