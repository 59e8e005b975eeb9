package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cexll/aisdk-go/pkg/generate"
	"github.com/cexll/aisdk-go/pkg/prompt"
)

func newGenerateCmd(streams ioStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one generation and print the text",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := bindViper(cmd)
			if err != nil {
				return err
			}
			text := v.GetString("prompt")
			if text == "" {
				text = strings.Join(args, " ")
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("a prompt is required: pass --prompt or positional text")
			}

			a, err := loadApp(v, streams)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			ctx := cmd.Context()
			lm, err := a.languageModel()
			if err != nil {
				return err
			}
			tools, err := a.tools(ctx)
			if err != nil {
				return err
			}
			settings := a.cfg.CallSettings()
			res, err := generate.GenerateText(ctx, lm, generate.Options{
				Prompt:          prompt.Prompt{System: v.GetString("system"), Text: text},
				Settings:        &settings,
				Tools:           tools,
				MaxSteps:        a.cfg.Generation.MaxSteps,
				ContinueSteps:   a.cfg.Generation.ContinueSteps,
				ToolConcurrency: a.cfg.Generation.ToolConcurrency,
				PartialResults:  a.cfg.Generation.PartialResults,
				Limiter:         a.cfg.Limiter(),
				Logger:          a.logger,
				Metrics:         a.metrics,
			})
			if err != nil {
				var genErr *generate.Error
				if !errors.As(err, &genErr) {
					return err
				}
				if genErr.Partial != nil {
					if perr := printResult(streams.out, genErr.Partial, v.GetBool("json")); perr != nil {
						return errors.Join(err, perr)
					}
				}
				return fmt.Errorf("step %d failed after %d attempt(s): %w", genErr.Step, genErr.Attempts, err)
			}
			return printResult(streams.out, res, v.GetBool("json"))
		},
	}
	cmd.Flags().StringP("prompt", "p", "", "prompt text")
	cmd.Flags().StringP("system", "s", "", "system instruction")
	cmd.Flags().Int("max-steps", 0, "maximum backend calls (default from config)")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	return cmd
}

func printResult(w io.Writer, res *generate.Result, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, res.Text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"text":          res.Text,
		"finish_reason": res.FinishReason,
		"usage":         res.Usage,
		"steps":         len(res.Steps),
		"warnings":      res.Warnings,
	})
}
