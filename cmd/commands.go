package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"artvault/internal/layout"
	"artvault/internal/lifecycle"
	"artvault/internal/naming"
	"artvault/internal/processing"
	"artvault/internal/queue"
	"artvault/internal/storage"
	"artvault/internal/validate"
)

var validateStage string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every record holds the files its stage requires",
	Long: `Without --stage, checks the unanalysed and processed trees. --stage
may be unanalysed, processed, finalised or locked. Exits non-zero when
problems are found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		problems, err := validate.Stage(cfg.BaseDir, validateStage)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range problems {
			fmt.Fprintln(out, p)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d problem(s) found", len(problems))
		}
		fmt.Fprintln(out, "ok")
		return nil
	},
}

var skuCmd = &cobra.Command{
	Use:   "sku",
	Short: "SKU counter commands",
}

var skuPeek bool

var skuNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Issue the next SKU",
	Long:  `Issues and prints the next SKU. With --peek the counter is left untouched.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := naming.NewTracker(cfg.SKUTrackerPath, cfg.SKUPrefix, cfg.SKUDigits)
		if skuPeek {
			fmt.Fprintln(cmd.OutOrStdout(), naming.FormatSKU(cfg.SKUPrefix, cfg.SKUDigits, tracker.Current()+1))
			return nil
		}
		sku, err := tracker.Next()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sku)
		return nil
	},
}

var mockupsCmd = &cobra.Command{
	Use:   "mockups <slug>",
	Short: "Generate missing mockups for a processed record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := layout.NewPaths(cfg.BaseDir)
		svc, err := newService(paths, nil, nil)
		if err != nil {
			return err
		}
		res, err := svc.Mockups(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, slot := range res.Slots {
			fmt.Fprintf(out, "%s  %-9s %s\n", layout.MockupLabel(slot.Slot), slot.Outcome, slot.Template)
		}
		fmt.Fprintf(out, "%d created\n", res.Created())
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateStage, "stage", "", "check a single stage directory")
	skuNextCmd.Flags().BoolVar(&skuPeek, "peek", false, "print the next SKU without issuing it")
	skuCmd.AddCommand(skuNextCmd)
}

// newService wires the lifecycle service from the loaded config. A nil jobs
// dispatcher leaves background work to explicit calls.
func newService(paths layout.Paths, jobs queue.Dispatcher, journal storage.Journal) (*lifecycle.Service, error) {
	opts := processing.OptionsFromConfig(cfg)
	wm, err := processing.NewWatermarker(opts)
	if err != nil {
		return nil, err
	}
	return lifecycle.NewService(lifecycle.Deps{
		Paths:       paths,
		Tracker:     naming.NewTracker(cfg.SKUTrackerPath, cfg.SKUPrefix, cfg.SKUDigits),
		Registry:    storage.NewRegistry(cfg.RegistryPath, appLog),
		Journal:     journal,
		Jobs:        jobs,
		Deriver:     processing.NewDeriver(opts, appLog),
		Compositor:  processing.NewCompositor(paths, opts, appLog),
		Watermarker: wm,
		Log:         appLog,
	}), nil
}
