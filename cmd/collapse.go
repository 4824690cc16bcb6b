package cmd

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/replay-client/replay"
	"github.com/inference-sim/replay-client/replay/workload"
)

var (
	collapseTracePath string
	collapseUnit      int64
	collapseTargetRPS float64
	collapseSeed      int64
	collapseOutput    string
	collapseReportDir string
)

// collapseCmd previews what a replay would send without contacting an endpoint
var collapseCmd = &cobra.Command{
	Use:   "collapse",
	Short: "Collapse (and optionally rate-scale) a trace and write the intended schedule",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cw, err := collapseTrace(collapseTracePath, collapseUnit, collapseTargetRPS, collapseSeed)
		if err != nil {
			logrus.Fatalf("Collapse failed: %v", err)
		}
		out := collapseOutput
		if out == "" {
			out = workload.CollapsedPath(collapseTracePath)
		}
		if err := workload.WriteCollapsed(out, cw); err != nil {
			logrus.Fatalf("%v", err)
		}
		if collapseReportDir != "" {
			if err := workload.WriteIntendedRPS(filepath.Join(collapseReportDir, intendedRPSFile), cw); err != nil {
				logrus.Fatalf("%v", err)
			}
			if err := workload.WriteIntendedTraffic(filepath.Join(collapseReportDir, intendedTrafficFile), cw); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		logrus.Infof("Wrote %d buckets (%d requests) to %s", len(cw), cw.TotalRequests(), out)
	},
}

func collapseTrace(path string, unit int64, targetRPS float64, seed int64) (workload.CollapsedWorkload, error) {
	batches, err := workload.LoadTrace(path)
	if err != nil {
		return nil, err
	}
	cw, err := workload.Collapse(batches, unit)
	if err != nil {
		return nil, err
	}
	if targetRPS <= 0 {
		return cw, nil
	}
	res, err := workload.Scale(cw, targetRPS, replay.NewPartitionedRNG(seed).ForSubsystem(replay.SubsystemScaler))
	if err != nil {
		return nil, err
	}
	return res.Workload, nil
}

func init() {
	collapseCmd.Flags().StringVar(&collapseTracePath, "workload-path", "", "Path to the JSONL workload trace")
	collapseCmd.Flags().Int64Var(&collapseUnit, "minimum-time-unit", 1, "Bucket width in ms")
	collapseCmd.Flags().Float64Var(&collapseTargetRPS, "target-avg-rps", 0, "Resample to this average request rate (0 keeps the trace rate)")
	collapseCmd.Flags().Int64Var(&collapseSeed, "seed", 42, "Seed for rate-scaler sampling")
	collapseCmd.Flags().StringVar(&collapseOutput, "output", "", "Output path (default <trace>_collapsed.jsonl)")
	collapseCmd.Flags().StringVar(&collapseReportDir, "report-dir", "", "Also write intended_rps.csv and intended_traffic.csv here")
	_ = collapseCmd.MarkFlagRequired("workload-path")

	rootCmd.AddCommand(collapseCmd)
}
