// Command walletctl is a thin operational CLI over the wallet core:
// mint trust management and balance inspection against an in-memory
// repository.Store. Send, receive and melt
// are saga-driven and need a BlindSigner collaborator (§1 Non-goals) this
// binary does not provide, so they are not exposed here.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lerianwallet/ecash-core/internal/repository/memory"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

func main() {
	store := memory.New()

	logger, err := mlog.NewZapLogger(false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "walletctl: logger init failed:", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "walletctl",
		Short: "Operational CLI for the ecash wallet core",
	}

	root.AddCommand(mintsCmd(store, logger), balanceCmd(store, logger))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func mintsCmd(store *memory.Store, logger mlog.Logger) *cobra.Command {
	cmd := &cobra.Command{Use: "mints", Short: "Manage trusted mints"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known mints",
		RunE: func(cmd *cobra.Command, args []string) error {
			mints, err := store.Mints().List(context.Background())
			if err != nil {
				return err
			}

			for _, m := range mints {
				fmt.Printf("%s\ttrusted=%t\n", m.URL, m.Trusted)
			}

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <url>",
		Short: "Add a mint by URL, untrusted by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := walletcore.NormalizeMintURL(args[0])
			if err != nil {
				return merrors.NewValidationError("mint", err.Error())
			}

			return store.Mints().Save(context.Background(), walletcore.Mint{URL: url})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "trust <url>",
		Short: "Mark a mint trusted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.Mints().SetTrusted(context.Background(), args[0], true)
		},
	})

	return cmd
}

func balanceCmd(store *memory.Store, logger mlog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <mint>",
		Short: "Print the available proof balance for a mint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proofs, err := store.Proofs().GetAvailableProofs(context.Background(), args[0])
			if err != nil {
				return err
			}

			var total uint64
			for _, p := range proofs {
				total += p.Amount
			}

			fmt.Printf("%d\n", total)

			return nil
		},
	}
}
