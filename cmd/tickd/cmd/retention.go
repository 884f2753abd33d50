package cmd

import (
	"fmt"

	"github.com/ralphlabs/tickd/internal/compliance"
	"github.com/ralphlabs/tickd/internal/config"
	"github.com/ralphlabs/tickd/internal/store"
	"github.com/spf13/cobra"
)

var (
	retentionDays    int
	retentionConfirm bool
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Delete conversation sessions past the retention horizon",
	Long: `retention removes conversation sessions (and their messages) older than
the horizon. Sessions under legal hold are never touched.

Without --confirm this is a preview: candidates are counted, nothing is
deleted. Every run is recorded in the access audit log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}

		days := retentionDays
		if days == 0 {
			// Fall back to the project config in the working directory.
			cfg, err := config.LoadProjectConfig(".")
			if err != nil {
				return err
			}
			days = cfg.RetentionDays
		}

		st, err := store.New(store.Config{DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer func() { _ = st.Close() }()

		res, err := compliance.NewLog(st).RunRetention(days, retentionConfirm)
		if err != nil {
			return err
		}

		if res.DryRun {
			fmt.Printf("dry run: %d session(s) older than %s would be deleted\n", res.Examined, res.Cutoff)
			fmt.Println("re-run with --confirm to delete")
			return nil
		}
		fmt.Printf("deleted %d of %d expired session(s)\n", len(res.Deleted), res.Examined)
		for _, id := range res.Failed {
			fmt.Printf("failed: %s\n", id)
		}
		return nil
	},
}

func init() {
	retentionCmd.Flags().IntVar(&retentionDays, "days", 0, "retention horizon in days (default: project config, 90)")
	retentionCmd.Flags().BoolVar(&retentionConfirm, "confirm", false, "actually delete instead of previewing")
	rootCmd.AddCommand(retentionCmd)
}
