package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scriptorium/scriptorium/internal/config"
	"github.com/scriptorium/scriptorium/internal/output"
	"github.com/scriptorium/scriptorium/internal/retier"
)

func newRetierCmd() *cobra.Command {
	var tierFile string
	var watch bool

	cmd := &cobra.Command{
		Use:   "retier",
		Short: "Apply the collection tier file to the library",
		Long: `Apply the collection tier file to the library.

Reads the tier file (a YAML mapping of collection name to authority tier
1-10) and updates every collection's tier in the metadata store. Already
indexed passages are re-ranked under the new tiers on their next query.

With --watch the command keeps running and re-applies the file on every
change until interrupted, so editors can re-tier collections live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRetier(cmd, tierFile, watch)
		},
	}

	cmd.Flags().StringVar(&tierFile, "file", "", "Tier file path (default: tier_file from configuration)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep watching the tier file and re-apply on change")

	return cmd
}

func runRetier(cmd *cobra.Command, tierFile string, watch bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	if err := requireIndex(cfg); err != nil {
		return err
	}

	if tierFile == "" {
		tierFile = cfg.Paths.TierFile
	}
	if tierFile == "" {
		return fmt.Errorf("no tier file: pass --file or set paths.tier_file in %s", config.ConfigFileName)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	if watch {
		return watchTierFile(cmd, out, tierFile, stores)
	}

	tiers, err := retier.LoadTierFile(tierFile)
	if err != nil {
		return err
	}
	if err := stores.metadata.ReloadCollectionTiers(cmd.Context(), tiers); err != nil {
		return fmt.Errorf("apply collection tiers: %w", err)
	}

	out.Successf("applied tiers for %d collections from %s", len(tiers), tierFile)
	return nil
}

// watchTierFile applies the tier file, then blocks re-applying it on
// every change until the context is cancelled or a signal arrives.
func watchTierFile(cmd *cobra.Command, out *output.Writer, tierFile string, stores *libraryStores) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No invalidator: each CLI process builds its query cache fresh, so
	// there is no live cache to purge here. An embedding service passes
	// its engine's InvalidateCache instead.
	w, err := retier.New(tierFile, stores.metadata, nil)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	out.Successf("watching %s for tier changes (ctrl-c to stop)", tierFile)
	<-ctx.Done()
	return w.Stop()
}
