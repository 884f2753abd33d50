package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/ralphlabs/tickd/internal/config"
	"github.com/ralphlabs/tickd/internal/lock"
	"github.com/ralphlabs/tickd/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	// Stdout belongs to the MCP transport; all logging goes to stderr.
	log.SetOutput(os.Stderr)

	dataDir, err := resolveDataDir()
	if err != nil {
		return err
	}

	lockMgr := lock.NewManager(config.LockPath(dataDir))
	acq := lockMgr.Acquire(lock.OwnerServer)
	if acq.Warning != "" {
		log.Printf("WARNING: %s", acq.Warning)
	}
	defer func() {
		if released, err := lockMgr.Release(); err != nil {
			log.Printf("WARNING: releasing lock: %v", err)
		} else if !released && acq.Acquired {
			log.Printf("WARNING: lock was gone or reclaimed before shutdown")
		}
	}()

	s, cleanup, err := server.New(dataDir, lockMgr)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Release the lock on interrupt too: ServeStdio returns when stdin
	// closes, but a signal can arrive first.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down", sig)
		if _, err := lockMgr.Release(); err != nil {
			log.Printf("WARNING: releasing lock: %v", err)
		}
		cleanup()
		os.Exit(0)
	}()

	return mcpserver.ServeStdio(s)
}
