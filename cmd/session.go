package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/influence-crawler/internal/orchestrator"
	"github.com/JakeFAU/influence-crawler/internal/server"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the provider session artifact",
	}
	cmd.AddCommand(newSessionCheckCmd())
	return cmd
}

// newSessionCheckCmd loads the session file and proves it with one profile
// fetch through the rate-limit gate.
func newSessionCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [username]",
		Short: "Verify the session file with a single profile lookup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			username := rt.cfg.Provider.Username
			if len(args) == 1 {
				username = args[0]
			}
			username = orchestrator.NormalizeUsername(username)
			if username == "" {
				return errors.New("no username to look up: pass one or set provider.username")
			}

			source, err := server.NewSourceProvider(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			profile, err := server.NewGate(rt.cfg, rt.logger).Provider(source).FetchProfile(cmd.Context(), username)
			if err != nil {
				return fmt.Errorf("session check failed: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{
				"status":          "ok",
				"username":        profile.Username,
				"follower_count":  profile.FollowerCount,
				"following_count": profile.FollowingCount,
				"is_private":      profile.IsPrivate,
			}); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
}
