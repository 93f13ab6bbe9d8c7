package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-bizadmin/internal/explain"
	"github.com/noah-isme/backend-bizadmin/internal/quote"
)

func newQuoteCmd(opts *globalOptions) *cobra.Command {
	var (
		req  quote.Request
		asOf string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a quantity under the first applicable selected policy",
		Example: `  pricectl quote --catalog policies.yaml --price 1000 --qty 25 --policy ladder
  pricectl quote --price 12.5 --qty 3 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := opts.source(warnRejected(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if asOf != "" {
				at, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be RFC3339: %w", err)
				}
				req.AsOf = &at
			}
			svc := quote.NewService(src, opts.formatter(), zerolog.Nop(), nil)
			result, err := svc.Quote(cmd.Context(), req)
			if err != nil {
				return err
			}
			text := result.CalculationDetails
			if hover, _ := opts.formatter().Format(result, explain.ModeHover, req.UnitLabel); hover != "" {
				text = hover + "\n" + text
			}
			return opts.write(cmd.OutOrStdout(), text, result)
		},
	}
	flags := cmd.Flags()
	flags.Float64Var(&req.UnitPrice, "price", 0, "unit price")
	flags.IntVar(&req.Quantity, "qty", 0, "quantity to price")
	flags.StringVar(&req.UnitLabel, "unit", "", "unit label used in rendered text")
	flags.StringSliceVar(&req.PolicyIDs, "policy", nil, "selected policy ids in priority order (repeatable)")
	flags.StringVar(&asOf, "as-of", "", "evaluation instant (RFC3339), default now")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newExplainCmd(opts *globalOptions) *cobra.Command {
	var (
		mode      string
		unitPrice float64
		unit      string
	)
	cmd := &cobra.Command{
		Use:   "explain <policy-id>",
		Short: "Render the explanation text of a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := opts.source(warnRejected(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			m, err := explain.ParseMode(mode)
			if err != nil {
				return err
			}
			svc := quote.NewService(src, opts.formatter(), zerolog.Nop(), nil)
			text, err := svc.Explain(cmd.Context(), args[0], m, unitPrice, unit)
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), text, map[string]string{"policyId": args[0], "mode": string(m), "text": text})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", string(explain.ModeHover), "presentation mode: hover, append, modal")
	flags.Float64Var(&unitPrice, "price", 0, "unit price, required for modal mode")
	flags.StringVar(&unit, "unit", "", "unit label used in rendered text")
	return cmd
}
