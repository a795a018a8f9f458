package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"keywordforge/internal/keyword"
	"keywordforge/internal/validator"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate [terms...]",
	Short: "Run terms through the quality gate and show every violation",
	Long: `Validates terms against the configured rule set. All rules run for
every term, so the output lists every violation, not just the first.

Terms come from the arguments or, with --file, one per line from a file.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "read terms from a file, one per line")
}

func runValidate(cmd *cobra.Command, args []string) error {
	terms := args
	if validateFile != "" {
		fromFile, err := readTerms(validateFile)
		if err != nil {
			return err
		}
		terms = append(terms, fromFile...)
	}
	if len(terms) == 0 {
		return fmt.Errorf("no terms given; pass arguments or --file")
	}

	v, err := validator.New(cfg.Validator)
	if err != nil {
		return err
	}
	norm, err := keyword.NewNormalizer(keyword.NormalizerOptions{})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	accepted := 0
	for _, term := range terms {
		k := keyword.New(norm.NormalizeTerm(term), 0, 0, 0, keyword.IntentInformational)
		k.ComputeScore(cfg.Scoring)

		ok, detail := v.ValidateOne(k)
		if ok {
			accepted++
			fmt.Fprintf(out, "ACCEPT  %s\n", term)
			continue
		}
		fmt.Fprintf(out, "REJECT  %s  [%s]\n", term, strings.Join(detail.Violations, ", "))
	}
	fmt.Fprintf(out, "\n%d/%d accepted\n", accepted, len(terms))
	return nil
}

func readTerms(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var terms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			terms = append(terms, line)
		}
	}
	return terms, scanner.Err()
}
