package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowix-ar/storefront/internal/platform/planfile"
	"github.com/flowix-ar/storefront/internal/services"
)

func newPlansCommand(open func(*cobra.Command) (*runtime, error)) *cobra.Command {
	plans := &cobra.Command{
		Use:   "plans",
		Short: "Manage the subscription plan catalogue",
	}

	var (
		file   string
		dryRun bool
	)
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Upsert every plan listed in a YAML catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalogue, err := planfile.LoadFile(file)
			if err != nil {
				return err
			}
			if dryRun {
				return printPlans(cmd, catalogue)
			}
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			written, err := rt.Plans.SeedPlans(cmd.Context(), catalogue)
			if err != nil {
				return fmt.Errorf("seeded %d of %d plans: %w", written, len(catalogue), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d plans\n", written)
			return nil
		},
	}
	seed.Flags().StringVarP(&file, "file", "f", "", "path to the plan catalogue YAML")
	seed.Flags().BoolVar(&dryRun, "dry-run", false, "parse and print the catalogue without writing")
	_ = seed.MarkFlagRequired("file")

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the stored plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			stored, err := rt.Plans.ListPlans(cmd.Context(), false)
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				return errors.New("no plans stored; run plans seed first")
			}
			return printPlans(cmd, stored)
		},
	}

	plans.AddCommand(seed, list)
	return plans
}

func printPlans(cmd *cobra.Command, plans []services.Plan) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE\tCURRENCY\tMAX PRODUCTS\tACTIVE")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%t\n", p.ID, p.Name, p.PriceMonthly, p.Currency, p.MaxProducts, p.Active)
	}
	return w.Flush()
}
