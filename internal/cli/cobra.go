package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"

	"photomatch/internal/colmap"
	"photomatch/internal/config"
	"photomatch/internal/pairs"
	"photomatch/internal/pipeline"
	"photomatch/internal/reconstruction"
	"photomatch/internal/web"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := NewRoot(cfg, log)

	rootCmd := &cobra.Command{
		Use:   "photomatch",
		Short: "Photomatch prepares image sets for 3D reconstruction",
		Long: `Photomatch selects image pairs, extracts and matches local features, and
assembles the match database a structure-from-motion engine consumes.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newPairsCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newVerifyCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// bindRunFlags attaches the flags shared by run and watch to cmd, mutating
// cfg in place when the user sets them.
func bindRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVarP(&cfg.General.OutputDir, "output", "o", cfg.General.OutputDir, "output directory")
	f.StringVar((*string)(&cfg.General.Strategy), "strategy", string(cfg.General.Strategy), "pairing strategy (exhaustive|sequential|retrieval|from-file)")
	f.IntVar(&cfg.General.Overlap, "overlap", cfg.General.Overlap, "window size for the sequential strategy")
	f.StringVar(&cfg.General.PairFile, "pair-file", cfg.General.PairFile, "pair list for the from-file strategy")
	f.IntVar(&cfg.Retrieval.TopK, "top-k", cfg.Retrieval.TopK, "neighbours per image for the retrieval strategy")
	f.IntVarP(&cfg.General.ParallelJobs, "jobs", "j", cfg.General.ParallelJobs, "parallel workers for extraction and matching")
	f.StringVar(&cfg.Extractor.Binary, "extractor", cfg.Extractor.Binary, "feature extractor binary")
	f.StringVar(&cfg.Matcher.Binary, "matcher", cfg.Matcher.Binary, "matcher binary (empty selects the native matcher)")
	f.StringVar(&cfg.Database.CameraModel, "camera-model", cfg.Database.CameraModel, "camera model (simple-pinhole|pinhole|simple-radial|radial|opencv)")
	f.StringVar((*string)(&cfg.Database.CameraMode), "camera-mode", string(cfg.Database.CameraMode), "camera sharing (single|per-image)")
	f.BoolVar(&cfg.General.SkipReconstruction, "skip-reconstruction", cfg.General.SkipReconstruction, "stop after database export")

	var noUpright, geometricVerify bool
	f.BoolVar(&noUpright, "no-upright", false, "skip upright orientation normalization")
	f.BoolVar(&geometricVerify, "geometric-verify", false, "verify pairs geometrically before export")
	prev := cmd.PreRunE
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if prev != nil {
			if err := prev(cmd, args); err != nil {
				return err
			}
		}
		if noUpright {
			cfg.General.Upright = false
		}
		if geometricVerify {
			cfg.Database.SkipGeometricVerify = false
		}
		return cfg.Validate()
	}
}

func newRunCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <image_directory>",
		Short: "Run the full matching pipeline once",
		Long: `Run pairing, upright normalization, feature extraction, matching and
database export over one image directory.

Examples:
  # Exhaustive matching with the configured extractor
  photomatch run /photos/survey/ -o survey-out/

  # Sequential video frames with a 3-frame window
  photomatch run /photos/frames/ --strategy sequential --overlap 3

  # User-curated pair list
  photomatch run /photos/site/ --strategy from-file --pair-file pairs.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root.cfg.General.ImageDir = args[0]
			ctx, cancel := signalContext()
			defer cancel()
			defer root.closeStore()

			pipe := root.pipelineFactory(root.cfg, root.openStore(), root.log)
			res, err := pipe.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s completed\n", res.RunID)
			fmt.Printf("  images:  %d (%d skipped)\n", res.Images, res.SkippedImages)
			fmt.Printf("  pairs:   %d generated, %d matched, %d skipped\n", res.Pairs, res.MatchedPairs, res.SkippedPairs)
			fmt.Printf("  output:  %s\n", res.DatabasePath)
			if res.Reconstructed {
				fmt.Printf("  model:   %s\n", filepath.Join(root.cfg.General.OutputDir, "sparse"))
			}
			return nil
		},
	}
	bindRunFlags(cmd, root.cfg)
	return cmd
}

func newPairsCmd(root *Root) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "pairs <image_directory>",
		Short: "Generate the pair list without running the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root.cfg.General.ImageDir = args[0]
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			list, err := pipeline.GeneratePairs(ctx, root.cfg, root.log)
			if err != nil {
				return err
			}
			if outFile != "" {
				if err := pairs.WritePairList(outFile, list); err != nil {
					return err
				}
				fmt.Printf("%d pairs written to %s\n", len(list), outFile)
				return nil
			}
			for _, p := range list {
				fmt.Printf("%s %s\n", p.A, p.B)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "output", "o", "", "write the pair list to a file instead of stdout")
	cmd.Flags().StringVar((*string)(&root.cfg.General.Strategy), "strategy", string(root.cfg.General.Strategy), "pairing strategy (exhaustive|sequential|retrieval|from-file)")
	cmd.Flags().IntVar(&root.cfg.General.Overlap, "overlap", root.cfg.General.Overlap, "window size for the sequential strategy")
	cmd.Flags().StringVar(&root.cfg.General.PairFile, "pair-file", root.cfg.General.PairFile, "pair list for the from-file strategy")
	cmd.Flags().IntVar(&root.cfg.Retrieval.TopK, "top-k", root.cfg.Retrieval.TopK, "neighbours per image for the retrieval strategy")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <image_directory>",
		Short: "Re-run the pipeline whenever the image directory changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root.cfg.General.ImageDir = args[0]
			ctx, cancel := signalContext()
			defer cancel()
			defer root.closeStore()

			pipe := root.pipelineFactory(root.cfg, root.openStore(), root.log)
			err := pipeline.NewWatcher(pipe).Watch(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
	bindRunFlags(cmd, root.cfg)
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history over HTTP",
		Long: `Start a read-only HTTP server exposing run history from the artifact store.

Endpoints: /api/status, /api/runs, /api/runs/{id}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			defer root.closeStore()

			store := root.openStore()
			srv := web.NewServer(addr, store, root.log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				return srv.Shutdown(context.Background())
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Web.Listen, "listen address (host:port)")
	return cmd
}

func newVerifyCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <database_path>",
		Short: "Cross-check an exported match database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rep, err := colmap.Verify(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("cameras:    %d\n", rep.Cameras)
			fmt.Printf("images:     %d\n", rep.Images)
			fmt.Printf("keypoints:  %d rows, %d total\n", rep.KeypointRows, rep.TotalKeypoints)
			fmt.Printf("matches:    %d pairs, %d total\n", rep.MatchPairs, rep.TotalMatches)
			fmt.Printf("two-view:   %d pairs\n", rep.TwoViewPairs)
			if rep.OK() {
				fmt.Println("database is consistent")
				return nil
			}
			for _, p := range rep.Problems {
				fmt.Printf("problem: %s\n", p)
			}
			return fmt.Errorf("%d integrity problems found", len(rep.Problems))
		},
	}
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show availability of external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := func(role, binary string) {
				if binary == "" {
					fmt.Printf("  %-16s (not configured)\n", role)
					return
				}
				if path, err := exec.LookPath(binary); err == nil {
					fmt.Printf("  %-16s %s (%s)\n", role, binary, path)
				} else {
					fmt.Printf("  %-16s %s (not found)\n", role, binary)
				}
			}

			fmt.Println("External tools:")
			report("extractor", root.cfg.Extractor.Binary)
			if root.cfg.Matcher.Binary == "" {
				fmt.Printf("  %-16s native descriptor matcher\n", "matcher")
			} else {
				report("matcher", root.cfg.Matcher.Binary)
			}
			report("exif", "exiftool")
			report("rotation", "convert")
			report("reconstruction", root.cfg.Reconstruction.Binary)

			engine := reconstruction.Detect(root.cfg.Reconstruction, root.log)
			if e, ok := engine.(*reconstruction.ColmapCLI); ok {
				ctx, cancel := signalContext()
				defer cancel()
				fmt.Printf("\nreconstruction engine: %s\n", e.Version(ctx))
			}
			return nil
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate photomatch configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := json.MarshalIndent(root.cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("photomatch v0.3.0")
		},
	}
}
