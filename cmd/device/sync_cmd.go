package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
	syncpkg "github.com/ifirmawan/akvo-mis-sub000/internal/sync"
)

var (
	syncPull   bool
	syncDrafts bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long:  "Runs a form version check, draft reconciliation when drafts are pending, and a submission sync. With --pull, downloads remote datapoints instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		engine, _, cleanup, err := buildEngine(cfg, syncpkg.LogNotifier{})
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		switch {
		case syncPull:
			return runOnce("pull", engine.PullDataPoints(ctx))
		case syncDrafts:
			return runOnce("draft reconciliation", engine.ReconcileDrafts(ctx))
		default:
			if _, err := engine.CheckFormVersions(ctx); err != nil {
				return describe("form version check", err)
			}
			if engine.DraftsPending() {
				if err := engine.ReconcileDrafts(ctx); err != nil {
					return describe("draft reconciliation", err)
				}
			}
			result, err := engine.SubmissionSync(ctx)
			if err != nil {
				return describe("submission sync", err)
			}
			fmt.Printf("Synced %d of %d records (%d failed)\n",
				result.Synced, result.Total, result.Failed)
			return nil
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPull, "pull", false, "download remote datapoints instead of pushing")
	syncCmd.Flags().BoolVar(&syncDrafts, "drafts", false, "reconcile drafts only")
}

func runOnce(name string, err error) error {
	if err != nil {
		return describe(name, err)
	}
	fmt.Printf("%s completed\n", name)
	return nil
}

func describe(name string, err error) error {
	if apperrors.Is(err, apperrors.ErrOffline) {
		return fmt.Errorf("%s skipped: device is offline", name)
	}
	if apperrors.Is(err, apperrors.ErrNetworkRestricted) {
		return fmt.Errorf("%s skipped: wrong network type for wifi-only mode", name)
	}
	return fmt.Errorf("%s failed: %w", name, err)
}
