package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/importer"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv|file.yaml>...",
		Short: "Load products into the catalog",
		Long: `Upsert products by SKU from CSV or YAML files.

CSV files need a header row. Recognised columns are sku, name, vendor,
units, unit_price, stock and reorder_level, along with the legacy
spreadsheet headers. Rows without a SKU or name, or with negative stock,
are skipped and reported.

Examples:
  stockline import catalog.csv
  stockline import products.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args, cmd)
		},
	}
	return cmd
}

// ImportResult is the outcome of one imported file.
type ImportResult struct {
	File string `json:"file"`
	importer.Report
}

func runImport(opts *RootOptions, files []string, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	f := formatter(opts, cmd)
	im := importer.New(a.store, importer.WithLogger(a.logger))
	results := make([]ImportResult, 0, len(files))
	for _, file := range files {
		f.VerboseLog("Importing %s", file)
		report, err := im.ImportFile(cmd.Context(), file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to import %s", file), err)
		}
		results = append(results, ImportResult{File: file, Report: report})
	}

	return f.Emit(results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "✓ %s: %d inserted, %d updated, %d skipped\n", r.File, r.Inserted, r.Updated, len(r.Skipped))
			for _, s := range r.Skipped {
				fmt.Fprintf(w, "  skipped %s\n", s.Error())
			}
		}
	})
}
