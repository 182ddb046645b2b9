package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scriptorium/scriptorium/internal/config"
	"github.com/scriptorium/scriptorium/internal/output"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show library index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	if err := requireIndex(cfg); err != nil {
		return err
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	passages, err := stores.metadata.PassageCount(cmd.Context())
	if err != nil {
		return fmt.Errorf("count passages: %w", err)
	}
	lexicalDocs, err := stores.lexical.DocCount()
	if err != nil {
		return fmt.Errorf("count lexical documents: %w", err)
	}

	out.Header("Library status")
	out.Label("data directory", cfg.Paths.DataDir)
	out.Label("passages", fmt.Sprintf("%d", passages))
	out.Label("lexical documents", fmt.Sprintf("%d", lexicalDocs))
	out.Label("vector entries", fmt.Sprintf("%d", stores.vector.Count()))

	if lexicalDocs != uint64(passages) || stores.vector.Count() != passages {
		out.Warning("store counts disagree; consider re-indexing the corpus")
	}
	return nil
}
