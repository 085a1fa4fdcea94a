// -- cmd/extract.go --
package cmd

import (
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/grantflow/internal/browser"
	"github.com/xkilldash9x/grantflow/internal/config"
	"github.com/xkilldash9x/grantflow/internal/observability"
	"github.com/xkilldash9x/grantflow/internal/respond"
)

type extractFlags struct {
	url      string
	event    string
	required []string
	optional []string
	origin   string
}

func newExtractCommand(_ *config.Config) *cobra.Command {
	flags := &extractFlags{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a redirect-channel response from a page address.",
		Long: `Extract runs the response matcher against a given address, the way the
return page would after a redirect-channel grant, and prints the envelope
along with the cleaned address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger().Named("extract")

			required, err := parseSpecs(flags.required)
			if err != nil {
				return err
			}
			optional, err := parseSpecs(flags.optional)
			if err != nil {
				return err
			}

			env := browser.NewEnv(browser.Options{}, logger)
			page := env.NewDocument(flags.url, flags.origin)

			matcher := respond.NewMatcher(logger)
			envelope, err := matcher.Extract(cmd.Context(), page, respond.Query{
				Event:          flags.event,
				Required:       required,
				Optional:       optional,
				ExpectedOrigin: flags.origin,
			})
			if err != nil {
				return err
			}
			if envelope == nil {
				return errors.New("the address carries no response for this event")
			}

			out, err := json.MarshalIndent(envelope, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			cleaned, err := page.Location(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cleaned)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.url, "url", "", "the page address to extract from (required)")
	f.StringVar(&flags.event, "event", "", "event name identifying the response (required)")
	f.StringSliceVar(&flags.required, "required", nil, "required response fields, literal names or /regex/ specs")
	f.StringSliceVar(&flags.optional, "optional", nil, "optional response fields, literal names or /regex/ specs")
	f.StringVar(&flags.origin, "origin", "", "expected provider origin; skip the response unless it matches")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}
