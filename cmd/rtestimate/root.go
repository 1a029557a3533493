package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rtestimate/internal/config"
	"rtestimate/internal/estimate"
	"rtestimate/internal/logging"
	"rtestimate/internal/orchestrate"
	"rtestimate/internal/series"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "rtestimate",
		Short: "Estimate time-varying reproduction numbers from case reports",
		Long: "rtestimate fits a renewal-equation model with delay convolution to\n" +
			"reported case series, estimating Rt, latent infections and expected\n" +
			"reports with credible intervals, and projecting them forward.",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newEstimateCmd(&verbose))
	root.AddCommand(newRegionsCmd(&verbose))
	return root
}

func newEstimateCmd(verbose *bool) *cobra.Command {
	var (
		configPath string
		casesPath  string
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Fit a single case series",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(*verbose)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			opts, err := loadOptions(configPath, log)
			if err != nil {
				return err
			}
			cases, err := series.LoadCSV(casesPath)
			if err != nil {
				return err
			}
			log.Info("loaded case series",
				zap.String("path", casesPath),
				zap.Int("days", cases.Len()))

			res, err := estimate.Estimate(cmd.Context(), cases, opts)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "model config YAML")
	cmd.Flags().StringVar(&casesPath, "cases", "", "case series CSV (date,confirm)")
	cmd.MarkFlagRequired("cases") //nolint:errcheck
	cmd.MarkFlagRequired("config") //nolint:errcheck
	return cmd
}

func newRegionsCmd(verbose *bool) *cobra.Command {
	var (
		configPath  string
		regionSpecs []string
		parallelism int
	)
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Fit several regions in parallel",
		Long:  "Each --region takes name=path-to-csv. Regions run independently;\none region's failure never aborts the others.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(*verbose)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			opts, err := loadOptions(configPath, log)
			if err != nil {
				return err
			}

			var regions []orchestrate.Region
			for _, spec := range regionSpecs {
				name, path, ok := strings.Cut(spec, "=")
				if !ok {
					return fmt.Errorf("bad --region %q, want name=path", spec)
				}
				cases, err := series.LoadCSV(path)
				if err != nil {
					// Pass the load failure through as that region's
					// outcome rather than aborting the whole run.
					regions = append(regions, orchestrate.Region{Name: name, Cases: nil, Options: opts})
					log.Warn("region series failed to load", zap.String("region", name), zap.Error(err))
					continue
				}
				regions = append(regions, orchestrate.Region{Name: name, Cases: cases, Options: opts})
			}
			if len(regions) == 0 {
				return fmt.Errorf("no regions supplied")
			}

			outcomes := orchestrate.Run(cmd.Context(), regions, orchestrate.Options{
				Parallelism: parallelism,
				Log:         log,
			})
			for _, o := range outcomes {
				fmt.Fprintf(cmd.OutOrStdout(), "\n=== Region %s ===\n", o.Region)
				if o.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "failed: %v\n", o.Err)
					continue
				}
				printResult(cmd.OutOrStdout(), o.Result)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "model config YAML")
	cmd.Flags().StringArrayVar(&regionSpecs, "region", nil, "region as name=path, repeatable")
	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "max concurrent regions (0 = all)")
	cmd.MarkFlagRequired("region") //nolint:errcheck
	cmd.MarkFlagRequired("config") //nolint:errcheck
	return cmd
}

func loadOptions(path string, log *zap.Logger) (estimate.Options, error) {
	opts := estimate.Options{}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return opts, err
		}
		opts, err = cfg.Build()
		if err != nil {
			return opts, err
		}
	}
	opts.Log = log
	return opts, nil
}
