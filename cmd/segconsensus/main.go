// Command segconsensus fuses independent segmentations of one 3D
// volume into a consensus reference and compares each segmentation
// against a reference with overlap and surface-distance metrics.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"segconsensus/internal/report"
	"segconsensus/pkg/config"
	"segconsensus/pkg/fusion"
	"segconsensus/pkg/volio"
	"segconsensus/pkg/voxel"
)

var (
	rootCmd = &cobra.Command{
		Use:   "segconsensus",
		Short: "Label fusion and segmentation comparison for 3D volumes",
	}

	fuseCmd = &cobra.Command{
		Use:   "fuse",
		Short: "Fuse a directory of rater volumes into a consensus volume",
		RunE:  runFuse,
	}

	compareCmd = &cobra.Command{
		Use:   "compare",
		Short: "Compare every rater volume against a reference volume",
		RunE:  runCompare,
	}

	configPath    string
	ratersDir     string
	outputPath    string
	referencePath string
	method        string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "segconsensus.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&ratersDir, "raters", "r", "", "directory of rater volume headers (*.yaml)")

	fuseCmd.Flags().StringVarP(&outputPath, "output", "o", "consensus.yaml", "output consensus volume header")
	fuseCmd.Flags().StringVarP(&method, "method", "m", "", "fusion method: majority or staple (overrides config)")

	compareCmd.Flags().StringVar(&referencePath, "reference", "", "reference volume header")

	rootCmd.AddCommand(fuseCmd, compareCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSetup() (*config.Config, []*voxel.Grid[int32], []string, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if !cfg.Output.Verbose {
		logrus.SetLevel(logrus.WarnLevel)
	}
	if ratersDir == "" {
		return nil, nil, nil, fmt.Errorf("--raters is required")
	}

	raters, names, err := volio.LoadRaterSet(ratersDir)
	if err != nil {
		return nil, nil, nil, err
	}
	logrus.WithFields(logrus.Fields{
		"raters": len(raters),
		"size":   raters[0].Size,
	}).Info("loaded rater set")
	return cfg, raters, names, nil
}

func runFuse(cmd *cobra.Command, args []string) error {
	cfg, raters, names, err := loadSetup()
	if err != nil {
		return err
	}
	if method == "" {
		method = cfg.Fusion.Method
	}

	start := time.Now()
	switch method {
	case "majority":
		consensus, err := fusion.MajorityVote(raters, cfg.Fusion.UndecidedLabel)
		if err != nil {
			return err
		}
		if err := volio.SaveLabelGrid(outputPath, consensus); err != nil {
			return err
		}

	case "staple":
		estimator := fusion.NewStaple(fusion.StapleParams{
			ForegroundLabel: cfg.Fusion.ForegroundLabel,
			MaxIterations:   cfg.Fusion.MaxIterations,
			Tolerance:       cfg.Fusion.Tolerance,
			Prior:           cfg.Fusion.Prior,
			Workers:         cfg.Processing.Workers,
		})
		result, err := estimator.Estimate(raters)
		if err != nil {
			return err
		}
		for j, perf := range result.Performance {
			logrus.WithFields(logrus.Fields{
				"rater":       names[j],
				"sensitivity": fmt.Sprintf("%.4f", perf.Sensitivity),
				"specificity": fmt.Sprintf("%.4f", perf.Specificity),
			}).Info("estimated rater performance")
		}
		logrus.WithFields(logrus.Fields{
			"iterations": result.Iterations,
			"converged":  result.Converged,
		}).Info("STAPLE finished")

		probPath := probabilityPath(outputPath)
		if err := volio.SaveProbabilityGrid(probPath, result.Probability); err != nil {
			return err
		}
		consensus := fusion.ThresholdProbability(result.Probability, cfg.Fusion.Threshold, cfg.Fusion.ForegroundLabel)
		if err := volio.SaveLabelGrid(outputPath, consensus); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown fusion method %q (want majority or staple)", method)
	}

	logrus.WithFields(logrus.Fields{
		"method":  method,
		"output":  outputPath,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("fusion complete")
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, raters, names, err := loadSetup()
	if err != nil {
		return err
	}
	if referencePath == "" {
		return fmt.Errorf("--reference is required")
	}

	reference, err := volio.LoadLabelGrid(referencePath)
	if err != nil {
		return err
	}

	start := time.Now()
	overlap, surface, err := report.EvaluateAll(reference, raters, names, cfg.Fusion.ForegroundLabel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Output.ReportDir, 0755); err != nil {
		return fmt.Errorf("error creating report directory: %w", err)
	}
	if err := writeCSV(filepath.Join(cfg.Output.ReportDir, "overlap.csv"), func(f *os.File) error {
		return report.WriteOverlapCSV(f, overlap)
	}); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(cfg.Output.ReportDir, "surface.csv"), func(f *os.File) error {
		return report.WriteSurfaceCSV(f, surface)
	}); err != nil {
		return err
	}

	for i := range overlap {
		logrus.WithFields(logrus.Fields{
			"rater":     overlap[i].Rater,
			"dice":      fmt.Sprintf("%.4f", overlap[i].Dice),
			"jaccard":   fmt.Sprintf("%.4f", overlap[i].Jaccard),
			"hausdorff": fmt.Sprintf("%.3f", surface[i].Hausdorff),
		}).Info("rater evaluated")
	}
	logrus.WithFields(logrus.Fields{
		"reportDir": cfg.Output.ReportDir,
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("comparison complete")
	return nil
}

func writeCSV(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating report file: %w", err)
	}
	defer f.Close()
	return write(f)
}

// probabilityPath derives the probability-map header path from the
// consensus path, e.g. consensus.yaml -> consensus_prob.yaml.
func probabilityPath(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "_prob" + ext
}
