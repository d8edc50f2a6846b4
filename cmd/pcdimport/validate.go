package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pcdimport/internal/importer"
)

var (
	valStrictFrames bool
	valDatasetOrder string
	valJSON         bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&valStrictFrames, "strict-frames", false, "fail on annotated frames without a point cloud")
	validateCmd.Flags().StringVar(&valDatasetOrder, "dataset-order", "", "dataset order: sorted or filesystem")
	validateCmd.Flags().BoolVar(&valJSON, "json", false, "print the report as JSON")
}

var validateCmd = &cobra.Command{
	Use:   "validate <project-dir>",
	Short: "Check a local project without uploading it",
	Long: `Run every local step of an import against a project directory: schema,
frame maps, annotations and photo context. Nothing is sent to the platform.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("strict-frames") {
		cfg.Import.StrictFrames = valStrictFrames
	}
	if cmd.Flags().Changed("dataset-order") {
		cfg.Import.DatasetOrder = valDatasetOrder
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	report, err := importer.Validate(ctx, args[0], importer.Config{
		StrictFrames: cfg.Import.StrictFrames,
		DatasetOrder: cfg.Import.DatasetOrder,
	}, logger)
	if err != nil {
		return err
	}

	if valJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(out io.Writer, report *importer.Report) {
	fmt.Fprintf(out, "Project: %s\n", report.Dir)
	fmt.Fprintf(out, "Classes: %d  Tags: %d  Objects: %d\n\n", report.Classes, report.Tags, report.Objects)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATASET\tPOINTCLOUDS\tFRAME MAP\tOBJECTS\tFIGURES\tPHOTOS\tORPHAN FRAMES")
	for _, ds := range report.Datasets {
		frameMap := "synthesized"
		if ds.FrameMapFile {
			frameMap = "file"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d\t%s\n",
			ds.Name, ds.Pointclouds, frameMap, ds.Objects, ds.Figures, ds.RelatedImages, formatFrames(ds.OrphanFrames))
	}
	w.Flush()
}

func formatFrames(frames []int) string {
	if len(frames) == 0 {
		return "-"
	}
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = fmt.Sprint(f)
	}
	return strings.Join(parts, ",")
}
