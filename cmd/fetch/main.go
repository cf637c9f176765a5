// Command fetch runs one aggregator request from the command line and
// prints the JSON result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketfeed/internal/aggregator"
	"marketfeed/internal/app"
	"marketfeed/internal/config"
	"marketfeed/internal/logger"
	"marketfeed/internal/model"
	"marketfeed/internal/ratelimit"
)

// params collects repeated -param key=value flags.
type params map[string]string

func (p params) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (p params) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	p[k] = strings.TrimSpace(v)
	return nil
}

func main() {
	var (
		configPath  string
		category    string
		fanOut      bool
		primaryOnly bool
		timeout     time.Duration
	)
	ps := params{}
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json or config.yaml (optional)")
	flag.StringVar(&category, "category", "market_data", "data category: market_data, ohlc, news, sentiment, gas")
	flag.Var(ps, "param", "provider parameter key=value (repeatable), e.g. -param symbols=BTC,ETH")
	flag.BoolVar(&fanOut, "fanout", false, "query every provider concurrently instead of falling back")
	flag.BoolVar(&primaryOnly, "primary-only", false, "only ask the primary source")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "overall timeout")
	flag.Parse()

	if err := run(configPath, category, ps, fanOut, primaryOnly, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, category string, ps params, fanOut, primaryOnly bool, timeout time.Duration) error {
	cat, err := model.ParseCategory(category)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// stdout carries the result.
	cfg.Log.Output = "stderr"
	cfg.CallerLimit = ratelimit.Limits{}
	log := logger.New(cfg.Log)

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := aggregator.Request{Caller: "cli", Category: cat, Params: ps, PrimaryOnly: primaryOnly}
	var out any
	if fanOut {
		out, err = a.Aggregator.FanOut(ctx, req)
	} else {
		out, err = a.Aggregator.Fetch(ctx, req)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
