package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/meta"
	"github.com/leapstack-labs/leapquery/pkg/query"
)

// generateCatalogDocs generates the aggregation and function reference,
// noting which database features each entry needs.
func generateCatalogDocs(outDir string) error {
	log.Printf("Generating catalog docs to %s", outDir)

	w := NewMarkdownWriter()
	w.Frontmatter("Formula Reference", "Aggregations and functions available in formulas")
	w.GeneratedMarker()

	w.Header(1, "Formula Reference")
	w.Paragraph("Entries that need a database feature are only offered when the metadata declares it.")

	w.Header(2, "Database Features")
	var features []string
	for _, f := range meta.AllFeatures() {
		features = append(features, InlineCode(string(f)))
	}
	w.BulletList(features)

	w.Header(2, "Aggregations")
	var aggRows [][]string
	for _, op := range query.AggregationOperators {
		aggRows = append(aggRows, []string{
			InlineCode(op.FormulaName),
			cleanDescription(op.DisplayName),
			formulaArgs(op.Args),
			featureList(op.Features),
		})
	}
	w.Table([]string{"Formula", "Description", "Arguments", "Requires"}, aggRows)

	var exprRows, filterRows [][]string
	for _, f := range query.Functions {
		row := []string{InlineCode(f.FormulaName), InlineCode(f.Op), formulaArgs(f.Args), featureList(f.Features)}
		if f.Boolean {
			filterRows = append(filterRows, row)
		} else {
			exprRows = append(exprRows, row)
		}
	}
	w.Header(2, "Expression Functions")
	w.Table([]string{"Formula", "Operator", "Arguments", "Requires"}, exprRows)
	w.Header(2, "Filter Functions")
	w.Table([]string{"Formula", "Operator", "Arguments", "Requires"}, filterRows)

	filename := filepath.Join(outDir, "formulas.md")
	if err := os.WriteFile(filename, w.Bytes(), 0o600); err != nil {
		return err
	}
	log.Printf("  Generated formulas.md")
	return nil
}

func formulaArgs(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return strings.Join(args, ", ")
}

func featureList(features []meta.Feature) string {
	if len(features) == 0 {
		return "-"
	}
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = InlineCode(string(f))
	}
	return strings.Join(names, ", ")
}
