package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledger-intake/internal/categorize"
	"github.com/Veraticus/ledger-intake/internal/cli"
	"github.com/Veraticus/ledger-intake/internal/model"
)

// errNotVerified makes `intake verify` exit non-zero for a failed run.
var errNotVerified = errors.New("run failed verification")

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [document ids...]",
		Short: "Verify the integrity of an import run",
		Long: `Check that every document of a run is ready, has its stored object and
extraction record, and produced transactions. With no document ids the run's
documents are looked up by --run-id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			runID, _ := cmd.Flags().GetString("run-id")
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			v := a.verifier.Verify(cmd.Context(), owner, args, runID)
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderVerification(v))
			if !v.Verified {
				return errNotVerified
			}
			return nil
		},
	}
	cmd.Flags().String("owner", "", "owner id (required)")
	cmd.Flags().String("run-id", "", "import run id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func announceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Post the owner's pending import announcement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			posted, err := a.notifier.Announce(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if posted {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Announcement posted"))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing to announce"))
			}
			return nil
		},
	}
	cmd.Flags().String("owner", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Record a category correction for a merchant",
		Long: `Record that a merchant belongs in a category. Once the same correction has
been made categorize.min_corrections times, future imports use it, and the
owner's existing transactions from the merchant are relabeled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			merchant, _ := cmd.Flags().GetString("merchant")
			category, _ := cmd.Flags().GetString("category")
			subcategory, _ := cmd.Flags().GetString("subcategory")
			canonical, _ := cmd.Flags().GetString("canonical")
			if c, ok := model.InVocabulary(category); ok {
				category = c
			} else {
				slog.Warn("Category is outside the standard vocabulary", "category", category)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.corrections.Record(cmd.Context(), categorize.Correction{
				OwnerID:     owner,
				Merchant:    merchant,
				Category:    category,
				Subcategory: subcategory,
				Canonical:   canonical,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderCorrection(res))
			return nil
		},
	}
	cmd.Flags().String("owner", "", "owner id (required)")
	cmd.Flags().String("merchant", "", "merchant name as it appears on transactions (required)")
	cmd.Flags().String("category", "", "category to assign (required)")
	cmd.Flags().String("subcategory", "", "optional subcategory")
	cmd.Flags().String("canonical", "", "canonical vendor name to alias the merchant to")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("merchant")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, slog.Default())
}
