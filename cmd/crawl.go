package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
	"github.com/JakeFAU/influence-crawler/internal/orchestrator"
	"github.com/JakeFAU/influence-crawler/internal/server"
)

type crawlOutput struct {
	Target       string                `json:"target_username"`
	Depth        int                   `json:"depth"`
	MinFollowers int64                 `json:"min_followers"`
	Results      []crawler.ResultEntry `json:"results"`
	Visited      int                   `json:"visited"`
	Pages        int                   `json:"pages"`
	Error        *crawler.JobError     `json:"error,omitempty"`
}

// newCrawlCmd runs one traversal in the foreground and prints the result as
// JSON. Partial results are printed even when the run fails.
func newCrawlCmd() *cobra.Command {
	var depth int
	var minFollowers int64
	cmd := &cobra.Command{
		Use:   "crawl <username>",
		Short: "Run one discovery synchronously and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			req := orchestrator.CreateRequest{Username: args[0]}
			if cmd.Flags().Changed("depth") {
				req.Depth = &depth
			}
			if cmd.Flags().Changed("min-followers") {
				req.MinFollowers = &minFollowers
			}
			run, err := orchestrator.Validate(orchestrator.Config{
				DefaultDepth:        rt.cfg.Crawler.DefaultDepth,
				MaxDepth:            rt.cfg.Crawler.MaxDepth,
				DefaultMinFollowers: rt.cfg.Crawler.MinFollowers,
			}, req)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			source, err := server.NewSourceProvider(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			var redisClient *goredis.Client
			if rt.cfg.Cache.Enabled {
				redisClient, err = server.NewRedisClient(ctx, rt.cfg.Redis)
				if err != nil {
					return err
				}
				defer func() { _ = redisClient.Close() }()
			}
			engine := server.NewEngine(rt.cfg, server.NewProviderStack(rt.cfg, source, redisClient, rt.logger), rt.logger)

			out := crawlOutput{
				Target:       run.Target,
				Depth:        run.Depth,
				MinFollowers: run.MinFollowers,
				Results:      []crawler.ResultEntry{},
			}
			stats, runErr := engine.Run(ctx, run, crawler.Hooks{
				OnResult: func(_ context.Context, entry crawler.ResultEntry) error {
					out.Results = append(out.Results, entry)
					return nil
				},
				OnProgress: func(_ context.Context, msg string) {
					rt.logger.Info(msg)
				},
			})
			out.Visited, out.Pages = stats.Visited, stats.Pages
			if runErr != nil {
				out.Error = crawler.NewJobError(runErr)
				rt.logger.Warn("crawl failed", zap.Error(runErr))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			if runErr != nil {
				return fmt.Errorf("crawl %s: %w", run.Target, runErr)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "traversal depth (1..crawler.max_depth)")
	cmd.Flags().Int64Var(&minFollowers, "min-followers", 0, "follower threshold (default crawler.min_followers)")
	return cmd
}
