package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-bizadmin/internal/catalog"
	"github.com/noah-isme/backend-bizadmin/internal/explain"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	catalogPath    string
	currencySymbol string
	exampleQty     int
	output         string
}

func (o *globalOptions) source(onReject catalog.RejectFunc) (catalog.FileSource, error) {
	path := strings.TrimSpace(o.catalogPath)
	if path == "" {
		return catalog.FileSource{}, fmt.Errorf("--catalog or POLICY_CATALOG_PATH is required")
	}
	return catalog.FileSource{Path: path, OnReject: onReject}, nil
}

// warnRejected prints one warning line per quarantined catalog record.
func warnRejected(w io.Writer) catalog.RejectFunc {
	return func(r catalog.Rejection) {
		id := r.ID
		if id == "" {
			id = "<no id>"
		}
		fmt.Fprintf(w, "warning: catalog record %d (%s) skipped: %v\n", r.Index, id, r.Err)
	}
}

func (o *globalOptions) formatter() explain.Formatter {
	return explain.Formatter{CurrencySymbol: o.currencySymbol, ExampleQuantity: o.exampleQty}
}

// write renders v in the selected output format; text falls back to the given string.
func (o *globalOptions) write(w io.Writer, text string, v any) error {
	switch strings.ToLower(o.output) {
	case "", "text":
		_, err := fmt.Fprintln(w, text)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("unsupported output format %q", o.output)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "pricectl",
		Short: "Price quantities and render policy explanations from a policy catalog",
		Long: `pricectl runs the pricing calculator against a YAML or JSON policy catalog.
It quotes quantities, renders hover/append/modal explanations, checks tier
coverage and imports a catalog file into the Postgres policy store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if opts.catalogPath == "" {
				opts.catalogPath = os.Getenv("POLICY_CATALOG_PATH")
			}
			if opts.exampleQty <= 0 {
				return fmt.Errorf("--example-quantity must be positive")
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.catalogPath, "catalog", "", "policy catalog file (default $POLICY_CATALOG_PATH)")
	flags.StringVar(&opts.currencySymbol, "currency", explain.DefaultCurrencySymbol, "currency symbol used in rendered amounts")
	flags.IntVar(&opts.exampleQty, "example-quantity", explain.DefaultExampleQuantity, "quantity illustrated by modal explanations")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text, json, yaml")

	root.AddCommand(
		newQuoteCmd(opts),
		newExplainCmd(opts),
		newCheckCmd(opts),
		newImportCmd(opts),
	)
	return root
}
