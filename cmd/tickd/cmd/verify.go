package cmd

import (
	"fmt"
	"os"

	"github.com/ralphlabs/tickd/internal/config"
	"github.com/ralphlabs/tickd/internal/integrity"
	"github.com/ralphlabs/tickd/internal/mirror"
	"github.com/spf13/cobra"
)

// Exit codes for verify-state, consumed by shell hooks:
//
//	0  mirror valid, or signing disabled
//	1  signature verification failed
//	2  mirror unreadable or key unavailable
const (
	verifyOK      = 0
	verifyInvalid = 1
	verifyErr     = 2
)

var verifyProjectDir string

var verifyCmd = &cobra.Command{
	Use:   "verify-state",
	Short: "Verify the project's local state mirror signature",
	Long: `verify-state checks the HMAC signature on .claude/ralph-state.json.

Designed for shell hooks: the result is the exit code, with a one-line
explanation on stderr. When ` + config.SigningEnv + ` is not enabled the
check passes trivially.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runVerify())
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyProjectDir, "project", ".", "project root containing the state mirror")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify() int {
	if !config.SigningEnabled() {
		fmt.Fprintln(os.Stderr, "state signing not enabled; nothing to verify")
		return verifyOK
	}

	dataDir, err := resolveDataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving data dir: %v\n", err)
		return verifyErr
	}
	key, err := integrity.LoadOrCreateKey(config.KeyPath(dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading signing key: %v\n", err)
		return verifyErr
	}

	doc, err := mirror.Read(verifyProjectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading state mirror: %v\n", err)
		return verifyErr
	}

	res := integrity.NewSigner(key, true).Verify(doc)
	if !res.Valid {
		fmt.Fprintf(os.Stderr, "state mirror INVALID: %s\n", res.Reason)
		return verifyInvalid
	}
	fmt.Fprintln(os.Stderr, "state mirror signature valid")
	return verifyOK
}
