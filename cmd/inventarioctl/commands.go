package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Inventario/internal/catalog"
	"Inventario/internal/config"
	"Inventario/pkg/kit"
)

type rootFlags struct {
	file    string
	uploads string
	verbose bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "inventarioctl",
		Short:         "Manage the product catalog file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.file, "file", "", "catalog file (default from "+config.CatalogFileEnv+")")
	cmd.PersistentFlags().StringVar(&flags.uploads, "uploads", "", "image directory (default from "+config.UploadDirEnv+")")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log store activity to stderr")

	cmd.AddCommand(
		newListCommand(flags),
		newImportCommand(flags),
		newExportCommand(flags),
	)
	return cmd
}

// openStore resolves the catalog location from flags, then the
// environment, and opens it.
func openStore(flags *rootFlags) (*catalog.FileStore, error) {
	log := zap.NewNop()
	if flags.verbose {
		log = kit.NewLogger("inventarioctl", true)
	}

	conf, err := config.LoadFromEnv(log)
	if err != nil {
		return nil, err
	}
	file := conf.Catalog.File
	if flags.file != "" {
		file = flags.file
	}
	uploads := conf.Catalog.UploadDir
	if flags.uploads != "" {
		uploads = flags.uploads
	}

	assets, err := catalog.NewAssets(uploads)
	if err != nil {
		return nil, err
	}
	return catalog.NewFileStore(file, assets, log), nil
}

func newListCommand(flags *rootFlags) *cobra.Command {
	q := url.Values{}
	var search, priceMin, priceMax, unitsMin, unitsMax string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.Set(catalog.ParamSearch, search)
			q.Set(catalog.ParamPriceMin, priceMin)
			q.Set(catalog.ParamPriceMax, priceMax)
			q.Set(catalog.ParamUnitsMin, unitsMin)
			q.Set(catalog.ParamUnitsMax, unitsMax)

			f, err := catalog.ParseFilter(q)
			if err != nil {
				return err
			}
			store, err := openStore(flags)
			if err != nil {
				return err
			}
			products, err := store.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), products)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "name contains (case-insensitive)")
	cmd.Flags().StringVar(&priceMin, "price-min", "", "minimum price, inclusive")
	cmd.Flags().StringVar(&priceMax, "price-max", "", "maximum price, inclusive")
	cmd.Flags().StringVar(&unitsMin, "units-min", "", "minimum units, inclusive")
	cmd.Flags().StringVar(&unitsMax, "units-max", "", "maximum units, inclusive")
	return cmd
}

func printProducts(w io.Writer, products []catalog.Product) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNOMBRE\tUNIDADES\tPRECIO\tIMAGEN")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\n", p.ID, p.Name, p.Units, p.Price, p.Image)
	}
	return tw.Flush()
}

func newImportCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE.json",
		Short: "Merge products from a JSON file, skipping existing names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			records, err := catalog.DecodeImport(f)
			if err != nil {
				return err
			}
			store, err := openStore(flags)
			if err != nil {
				return err
			}
			rep, err := store.BulkImport(cmd.Context(), records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, duplicates %d, invalid %d\n", rep.Added, rep.Duplicates, rep.Invalid)
			return nil
		},
	}
}

var exportFormats = []string{"json", "csv", "xlsx"}

func exportTo(ctx context.Context, store *catalog.FileStore, format string, w io.Writer) error {
	switch format {
	case "csv":
		return store.ExportCSV(ctx, w)
	case "xlsx":
		return store.ExportXLSX(ctx, w)
	default:
		return store.ExportJSON(ctx, w)
	}
}

func newExportCommand(flags *rootFlags) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole catalog as JSON, CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format = strings.ToLower(format)
			if !slices.Contains(exportFormats, format) {
				return fmt.Errorf("unknown format %q (want json, csv or xlsx)", format)
			}

			store, err := openStore(flags)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return exportTo(cmd.Context(), store, format, cmd.OutOrStdout())
			}

			// The target file is only written once the export succeeded.
			var buf bytes.Buffer
			if err := exportTo(cmd.Context(), store, format, &buf); err != nil {
				return err
			}
			return os.WriteFile(out, buf.Bytes(), 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json, csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}
