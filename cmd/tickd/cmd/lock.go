package cmd

import (
	"fmt"
	"os"

	"github.com/ralphlabs/tickd/internal/config"
	"github.com/ralphlabs/tickd/internal/lock"
	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect or clear the advisory PID lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current lock record and owner liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := lockManager()
		if err != nil {
			return err
		}

		rec, err := mgr.Read()
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("no lock file at %s\n", mgr.Path())
				return nil
			}
			return fmt.Errorf("reading lock file: %w", err)
		}

		liveness := "alive"
		if mgr.IsStale(rec) {
			liveness = "dead (stale)"
		}
		fmt.Printf("lock file: %s\n", mgr.Path())
		fmt.Printf("owner:     pid %d (%s), type %s\n", rec.PID, liveness, rec.Type)
		fmt.Printf("started:   %s\n", rec.StartedAt)
		return nil
	},
}

var lockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the lock file, whoever owns it",
	Long: `clear removes the lock file unconditionally. Use it when a crashed
process left a record behind that staleness detection cannot resolve
(for example after a PID was recycled). The database itself is unaffected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := lockManager()
		if err != nil {
			return err
		}

		if rec, err := mgr.Read(); err == nil && !mgr.IsStale(rec) {
			fmt.Fprintf(os.Stderr, "warning: lock owner pid %d is still alive\n", rec.PID)
		}
		if err := os.Remove(mgr.Path()); err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no lock file to clear")
				return nil
			}
			return fmt.Errorf("removing lock file: %w", err)
		}
		fmt.Println("lock cleared")
		return nil
	},
}

func init() {
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockClearCmd)
	rootCmd.AddCommand(lockCmd)
}

func lockManager() (*lock.Manager, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}
	return lock.NewManager(config.LockPath(dataDir)), nil
}
