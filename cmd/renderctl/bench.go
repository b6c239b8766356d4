package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lecternapp/render/internal/codec"
	"github.com/lecternapp/render/internal/config"
	"github.com/lecternapp/render/internal/decode"
	"github.com/lecternapp/render/internal/render"
)

var (
	benchPages    int
	benchSize     int
	benchRequests int
	benchLatency  time.Duration
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic decode workload and print pipeline statistics",
	Long: `bench simulates a reading session against the synthetic codec: random
page visits at visible priority with prefetch of neighbours, followed by a
spread composition and an in-document search. It prints cache, pool and
queue statistics as JSON.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchPages, "pages", 200, "pages in the synthetic document")
	benchCmd.Flags().IntVar(&benchSize, "size", 256, "square render target size in pixels")
	benchCmd.Flags().IntVar(&benchRequests, "requests", 500, "page visits to simulate")
	benchCmd.Flags().DurationVar(&benchLatency, "latency", 2*time.Millisecond, "synthetic decode latency")
}

func runBench(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	registry, err := codec.NewRegistry(codec.RegistryConfig{
		MaxOpenDocuments: cfg.MaxOpenDocuments,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	gw := codec.NewMockGateway(benchPages)
	gw.Latency = benchLatency
	gw.WithText = true
	registry.Register("pdf", gw)

	coord := decode.New(decode.Config{
		Workers:         cfg.Workers,
		MaxCacheEntries: cfg.MaxCacheEntries,
		MaxCacheBytes:   cfg.MaxCacheBytes(),
		DecodeTimeout:   cfg.DecodeTimeout(),
		Logger:          logger,
	}, registry)

	ctx := cmd.Context()
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Shutdown()

	// Cache budgets follow config file edits while the bench runs.
	mgr.OnChange(func(c *config.Config) {
		coord.Cache().Resize(c.MaxCacheEntries, c.MaxCacheBytes())
	})
	mgr.WatchConfig()

	doc, err := registry.Open(ctx, "/bench/synthetic.pdf")
	if err != nil {
		return err
	}

	start := time.Now()
	hits := 0

	// Simulated reading: mostly sequential with occasional jumps, the
	// access pattern the cache is tuned for.
	page := 0
	for i := 0; i < benchRequests; i++ {
		if rand.Intn(10) == 0 {
			page = rand.Intn(benchPages)
		} else {
			page = (page + 1) % benchPages
		}

		f := coord.RequestPage(doc.ID, page, benchSize, benchSize, render.CropRect{}, render.ModeSingle, render.PriorityVisible)
		select {
		case <-f.Done():
			hits++ // resolved synchronously: cache hit
		default:
		}
		view, err := f.Wait(ctx)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		view.Release()

		coord.PrefetchAround(doc.ID, page, cfg.PrefetchRadius, benchSize, benchSize)
	}
	elapsed := time.Since(start)

	// Spread composition over two adjacent pages.
	left, err := coord.RequestPage(doc.ID, 0, benchSize, benchSize, render.CropRect{}, render.ModeLeftHalf, render.PriorityVisible).Wait(ctx)
	if err != nil {
		return err
	}
	right, err := coord.RequestPage(doc.ID, 1, benchSize, benchSize, render.CropRect{}, render.ModeRightHalf, render.PriorityVisible).Wait(ctx)
	if err != nil {
		return err
	}
	spread, err := coord.ComposeSpread(left, right)
	left.Release()
	right.Release()
	if err != nil {
		return err
	}
	coord.ReleaseResult(spread)

	// Search warms the text index in the background.
	matches := 0
	for range coord.Search(doc.ID, "fox") {
		matches++
	}

	report := struct {
		Requests   int          `json:"requests"`
		CacheHits  int          `json:"cache_hits"`
		ElapsedMS  int64        `json:"elapsed_ms"`
		PerPageUS  int64        `json:"per_page_us"`
		Matches    int          `json:"search_matches"`
		SpreadW    int          `json:"spread_width"`
		Statistics decode.Stats `json:"stats"`
	}{
		Requests:   benchRequests,
		CacheHits:  hits,
		ElapsedMS:  elapsed.Milliseconds(),
		PerPageUS:  elapsed.Microseconds() / int64(benchRequests),
		Matches:    matches,
		SpreadW:    spread.Width,
		Statistics: coord.Stats(),
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
