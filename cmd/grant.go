// -- cmd/grant.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/api/schemas"
	"github.com/xkilldash9x/grantflow/internal/behavior"
	"github.com/xkilldash9x/grantflow/internal/browser/cdp"
	"github.com/xkilldash9x/grantflow/internal/config"
	"github.com/xkilldash9x/grantflow/internal/observability"
	"github.com/xkilldash9x/grantflow/internal/popup"
	"github.com/xkilldash9x/grantflow/internal/state"
)

type grantFlags struct {
	endpoint     string
	action       string
	page         string
	data         map[string]string
	responseType string
	event        string
	required     []string
	optional     []string
	subject      string
	secondary    []string
	stateData    map[string]string
	redirect     bool
	overlay      bool
	timeout      time.Duration
}

func newGrantCommand(cfg *config.Config) *cobra.Command {
	flags := &grantFlags{}

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Request an authorization grant from the trust provider.",
		Long: `Grant opens the configured initiating page in Chrome, submits a grant
request to the provider endpoint through a popup (or a full-page redirect
with --redirect), and waits for the correlated response.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := runGrant(cmd.Context(), *cfg, flags)
			if err != nil {
				return err
			}
			if envelope == nil {
				// Redirect channels answer on a later page load.
				return nil
			}
			out, err := json.MarshalIndent(envelope, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.endpoint, "endpoint", "", "provider endpoint (overrides provider.endpoint)")
	f.StringVar(&flags.action, "action", "", "action path appended to the endpoint")
	f.StringVar(&flags.page, "page", "", "URL of the initiating page (required)")
	f.StringToStringVar(&flags.data, "data", nil, "request payload fields as key=value pairs")
	f.StringVar(&flags.responseType, "response-type", string(schemas.ResponseTypeMessage), "preferred response channel: message, redirect or immediate-redirect")
	f.StringVar(&flags.event, "event", "", "event name correlating the response (required for message)")
	f.StringSliceVar(&flags.required, "required", nil, "required response fields, literal names or /regex/ specs")
	f.StringSliceVar(&flags.optional, "optional", nil, "optional response fields, literal names or /regex/ specs")
	f.StringVar(&flags.subject, "subject", "", "recoverable-state subject; enables state storage")
	f.StringSliceVar(&flags.secondary, "secondary", nil, "secondary identifiers scoping the recoverable state")
	f.StringToStringVar(&flags.stateData, "state", nil, "recoverable state stored before submitting, as key=value pairs")
	f.BoolVar(&flags.redirect, "redirect", false, "submit via full-page redirect instead of a popup")
	f.BoolVar(&flags.overlay, "overlay", false, "show the bring-to-front overlay while the popup is open")
	f.DurationVar(&flags.timeout, "timeout", 5*time.Minute, "how long to wait for the response")
	_ = cmd.MarkFlagRequired("page")

	return cmd
}

func runGrant(ctx context.Context, cfg config.Config, flags *grantFlags) (schemas.Envelope, error) {
	logger := observability.GetLogger().Named("grant")

	endpoint := flags.endpoint
	if endpoint == "" {
		endpoint = cfg.Provider.Endpoint
	}
	if endpoint == "" {
		return nil, errors.New("a provider endpoint is required (--endpoint or provider.endpoint)")
	}

	opts, err := buildOptions(flags)
	if err != nil {
		return nil, err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Browser.Headless),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	navCtx, cancelNav := context.WithTimeout(taskCtx, cfg.Browser.NavigationTimeout)
	defer cancelNav()
	if err := chromedp.Run(navCtx, chromedp.Navigate(flags.page)); err != nil {
		return nil, fmt.Errorf("failed to open initiating page %q: %w", flags.page, err)
	}

	env := cdp.New(taskCtx, cdp.Options{FocusSupported: cfg.Browser.FocusSupported}, logger)
	store := state.NewStore(env, logger)
	payload := make(map[string]any, len(flags.data))
	for k, v := range flags.data {
		payload[k] = v
	}

	if flags.redirect {
		rd, err := behavior.NewRedirect(endpoint, env, env, store, logger)
		if err != nil {
			return nil, err
		}
		if err := rd.Call(taskCtx, flags.action, payload, opts); err != nil {
			return nil, err
		}
		logger.Info("Request submitted via redirect; the response arrives on the return page.")
		return nil, nil
	}

	manager := popup.NewManager(env, popup.Options{
		Width:        cfg.Popup.Width,
		Height:       cfg.Popup.Height,
		PollInterval: cfg.Popup.PollInterval,
	}, logger)

	pb, err := behavior.NewPopup(endpoint, behavior.Deps{
		Manager:   manager,
		Submitter: env,
		Store:     store,
		Messages:  env,
		Overlays:  env,
	}, logger)
	if err != nil {
		return nil, err
	}

	pending, err := pb.Call(taskCtx, flags.action, payload, opts)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		logger.Info("Request submitted; the response arrives via the redirect channel.")
		return nil, nil
	}

	waitCtx, cancelWait := context.WithTimeout(taskCtx, flags.timeout)
	defer cancelWait()
	envelope, err := pending.Wait(waitCtx)
	if err != nil {
		return nil, err
	}
	logger.Info("Grant response received.",
		zap.String(schemas.FieldEvent, flags.event), zap.Int("fields", len(envelope)))
	return envelope, nil
}

func buildOptions(flags *grantFlags) (behavior.Options, error) {
	opts := behavior.Options{
		PreferredResponseType: schemas.ResponseType(flags.responseType),
		ResponseEvent:         flags.event,
		Overlay:               flags.overlay,
	}

	switch opts.PreferredResponseType {
	case schemas.ResponseTypeMessage, schemas.ResponseTypeRedirect, schemas.ResponseTypeImmediateRedirect:
	default:
		return opts, fmt.Errorf("unknown response type %q", flags.responseType)
	}

	var err error
	if opts.Required, err = parseSpecs(flags.required); err != nil {
		return opts, err
	}
	if opts.Optional, err = parseSpecs(flags.optional); err != nil {
		return opts, err
	}

	if flags.subject != "" {
		opts.RequestID = state.RequestID(flags.subject, flags.secondary...)
		opts.RecoverableState = flags.stateData
	} else if len(flags.stateData) > 0 {
		return opts, errors.New("--state requires --subject")
	}
	return opts, nil
}

func parseSpecs(raw []string) ([]schemas.FieldSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	specs := make([]schemas.FieldSpec, 0, len(raw))
	for _, s := range raw {
		spec, err := schemas.ParseFieldSpec(s)
		if err != nil {
			return nil, fmt.Errorf("invalid field spec %q: %w", s, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
