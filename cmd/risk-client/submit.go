package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/render"
	"github.com/drfirst/go-retinarisk/internal/submission"
	"github.com/drfirst/go-retinarisk/internal/theme"
)

func (a *app) submitCmd() *cobra.Command {
	var (
		sets   []string
		asJSON bool
		plain  bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Edit the default record, submit it and show the result",
		Example: `  risk-client submit --set hba1c=9.2 --set smoking_status=current
  risk-client submit --offline --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			edits, err := parseSets(sets)
			if err != nil {
				return validationFailed(err)
			}

			p, err := a.predictor()
			if err != nil {
				return failed(err)
			}
			s := a.newSession(p)
			for _, e := range edits {
				if err := s.Edit(e.name, e.value); err != nil {
					return classify(err)
				}
			}

			state, err := s.SubmitWait(cmd.Context())
			if err != nil {
				return failed(err)
			}
			for _, tr := range s.Submissions.History() {
				a.logger.Debug("submission transition",
					zap.Uint64("generation", tr.Generation),
					zap.String("from", string(tr.From)),
					zap.String("to", string(tr.To)),
					zap.String("reason", string(tr.Reason)))
			}
			return a.show(state, asJSON, plain)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "field edit as name=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result JSON")
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colours")
	return cmd
}

func (a *app) show(state submission.State, asJSON, plain bool) error {
	if state.Phase == submission.PhaseFailed {
		return failed(state.Failure)
	}
	if state.Result == nil {
		return failed(fmt.Errorf("submission ended in phase %s without a result", state.Phase))
	}

	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(state.Result)
	}
	return render.WriteText(a.out, render.BuildView(state.Result), render.TextOptions{
		Theme: theme.Current(),
		Plain: plain,
	})
}

type edit struct {
	name  string
	value string
}

// parseSets splits name=value pairs, keeping their order
func parseSets(sets []string) ([]edit, error) {
	edits := make([]edit, 0, len(sets))
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, &intake.ValidationError{Field: s, Value: s, Cause: intake.ErrUnknownField, Reason: "expected name=value"}
		}
		edits = append(edits, edit{name: name, value: value})
	}
	return edits, nil
}
