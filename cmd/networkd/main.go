// Command networkd runs one OpenAgents network from a descriptor
// file (spec.md §6): the Router, the Mod Pipeline, and whichever
// transports the descriptor configures, until it receives SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openagents/network/internal/network"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "networkd",
	Short: "Run an OpenAgents network from a descriptor file",
	Long: `networkd loads a network descriptor (name, transports, mods,
observability) and runs the Router, Mod Pipeline, and configured
transports until interrupted.`,
	Version: "0.1.0",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the network and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		descriptorPath, _ := cmd.Flags().GetString("config")
		tickInterval, _ := cmd.Flags().GetDuration("tick-interval")

		n, err := network.Build(descriptorPath)
		if err != nil {
			return fmt.Errorf("failed to build network: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("failed to start network: %w", err)
		}

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ticker.C:
					n.Tick(ctx)
				case <-ctx.Done():
					return
				}
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return n.Stop(shutdownCtx)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a network descriptor without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		descriptorPath, _ := cmd.Flags().GetString("config")
		n, err := network.Build(descriptorPath)
		if err != nil {
			return err
		}
		if err := n.Stop(context.Background()); err != nil {
			return err
		}
		fmt.Println("descriptor is valid")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "network.yaml", "path to the network descriptor")
	runCmd.Flags().Duration("tick-interval", 10*time.Second, "interval between Mod Pipeline housekeeping ticks and heartbeat sweeps")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
