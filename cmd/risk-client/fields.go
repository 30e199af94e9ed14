package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-retinarisk/internal/intake"
)

func (a *app) fieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List record fields, their types and default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tTYPE\tDEFAULT\tALLOWED")
			for _, f := range intake.NewModel().Fields() {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", f.Name, f.Kind, f.Value, strings.Join(f.Allowed, ", "))
			}
			return tw.Flush()
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the prediction service is up and its model is loaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return failed(err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.PredictionTimeout)
			defer cancel()
			status, err := client.Health(ctx)
			if err != nil {
				return failed(err)
			}

			fmt.Fprintf(a.out, "%s: status=%s model_loaded=%t\n", a.cfg.PredictionBaseURL, status.Status, status.ModelLoaded)
			if status.Status != "healthy" || !status.ModelLoaded {
				return failed(fmt.Errorf("prediction service not ready"))
			}
			return nil
		},
	}
}
