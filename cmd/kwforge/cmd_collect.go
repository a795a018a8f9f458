package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var (
	collectJSON      bool
	collectOutFile   string
	collectProviders []string
)

var collectCmd = &cobra.Command{
	Use:   "collect [seed terms...]",
	Short: "Collect and rank keyword candidates for the given seeds",
	Long: `Fans every seed out to the enabled providers, merges the results,
runs the processing pipeline and prints the accepted candidates ranked
by score.

Example:
  kwforge collect "marketing digital" "seo para clinicas" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().BoolVar(&collectJSON, "json", false, "emit the full run result as JSON")
	collectCmd.Flags().StringVarP(&collectOutFile, "out", "o", "", "write the run result JSON to a file")
	collectCmd.Flags().StringSliceVar(&collectProviders, "providers", nil, "restrict the run to these providers")
}

func runCollect(cmd *cobra.Command, args []string) error {
	if len(collectProviders) > 0 {
		keep := make(map[string]bool, len(collectProviders))
		for _, name := range collectProviders {
			keep[name] = true
		}
		for name, p := range cfg.Providers {
			if !keep[name] {
				p.Enabled = false
				cfg.Providers[name] = p
			}
		}
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.orchestrator.Open(cmd.Context()); err != nil {
		return err
	}

	res, err := rt.orchestrator.Run(cmd.Context(), args)
	if err != nil {
		return err
	}

	if collectOutFile != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(collectOutFile, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", collectOutFile, err)
		}
	}

	if collectJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %d collected, %d accepted\n",
		res.RunID, res.Report.TotalIn, res.Report.TotalOut)
	if degraded := res.Degraded(); len(degraded) > 0 {
		fmt.Fprintf(out, "Degraded providers: %s\n", strings.Join(degraded, ", "))
	}

	keywords := res.Keywords
	sort.SliceStable(keywords, func(i, j int) bool { return keywords[i].Score > keywords[j].Score })

	fmt.Fprintf(out, "\n%-40s %8s %8s %6s %s\n", "TERM", "VOLUME", "CPC", "SCORE", "SOURCE")
	for _, k := range keywords {
		fmt.Fprintf(out, "%-40s %8d %8.2f %6.2f %s\n",
			k.Term, k.SearchVolume, k.CPC, k.Score, k.Source)
	}

	if res.Report.Validation != nil && res.Report.Validation.TotalRejected > 0 {
		fmt.Fprintf(out, "\nRejected %d candidates:\n", res.Report.Validation.TotalRejected)
		tags := make([]string, 0, len(res.Report.Validation.ViolationCounts))
		for tag := range res.Report.Validation.ViolationCounts {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			fmt.Fprintf(out, "  %-28s %d\n", tag, res.Report.Validation.ViolationCounts[tag])
		}
	}
	return nil
}
