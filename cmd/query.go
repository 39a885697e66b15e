package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ephemeris-service/api"
	"ephemeris-service/orchestrator"

	"github.com/spf13/cobra"
)

// queryFlags are shared by the one-shot lookup commands
type queryFlags struct {
	planet   string
	date     string
	timezone string
	server   string
}

func (q *queryFlags) register(cmd *cobra.Command, withPlanet bool) {
	if withPlanet {
		cmd.Flags().StringVarP(&q.planet, "planet", "p", "", "planet name (sun, moon, mercury, venus, mars, jupiter, saturn)")
	}
	cmd.Flags().StringVarP(&q.date, "date", "d", "", "ISO-8601 timestamp (default: now)")
	cmd.Flags().StringVar(&q.timezone, "timezone", "", "IANA zone for timestamps without an offset (default: UTC)")
	cmd.Flags().StringVar(&q.server, "server", "", "query a running service at this base URL instead of running the pipeline locally")
}

func (q *queryFlags) dateOrNow() string {
	if q.date == "" {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return q.date
}

// withService runs fn against a remote service when --server is set and
// against a locally wired pipeline otherwise
func (q *queryFlags) withService(cmd *cobra.Command, opts *options, fn func(context.Context, api.Service) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		out any
		err error
	)
	if q.server != "" {
		out, err = fn(ctx, remoteService{api.NewClient(q.server, nil)})
	} else {
		cfg, logger, lerr := opts.load(cmd.ErrOrStderr())
		if lerr != nil {
			return lerr
		}
		st, serr := buildStack(ctx, cfg, logger)
		if serr != nil {
			return serr
		}
		defer st.Close()
		out, err = fn(ctx, st.orch)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func newPositionCmd(opts *options) *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Print a planet's position at a moment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return q.withService(cmd, opts, func(ctx context.Context, svc api.Service) (any, error) {
				return svc.Handle(ctx, orchestrator.PositionRequest{Planet: q.planet, Date: q.dateOrNow(), Timezone: q.timezone})
			})
		},
	}
	q.register(cmd, true)
	return cmd
}

func newStrengthCmd(opts *options) *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "strength",
		Short: "Print a planet's strength score at a moment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return q.withService(cmd, opts, func(ctx context.Context, svc api.Service) (any, error) {
				return svc.Strength(ctx, orchestrator.StrengthRequest{Planet: q.planet, Date: q.dateOrNow(), Timezone: q.timezone})
			})
		},
	}
	q.register(cmd, true)
	return cmd
}

func newDayRulerCmd(opts *options) *cobra.Command {
	q := &queryFlags{}
	var base float64
	cmd := &cobra.Command{
		Use:   "day-ruler",
		Short: "Print the ruler of a day and its impact on a daily score",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := orchestrator.DayRulerRequest{Date: q.dateOrNow(), Timezone: q.timezone}
			if cmd.Flags().Changed("base-score") {
				req.BaseScore = &base
			}
			return q.withService(cmd, opts, func(ctx context.Context, svc api.Service) (any, error) {
				return svc.DayRuler(ctx, req)
			})
		},
	}
	q.register(cmd, false)
	cmd.Flags().Float64Var(&base, "base-score", orchestrator.DefaultBaseScore, "daily score the ruler's impact adjusts")
	return cmd
}

// remoteService adapts the HTTP client to the Service interface
type remoteService struct {
	client *api.Client
}

func (r remoteService) Handle(ctx context.Context, req orchestrator.PositionRequest) (orchestrator.PositionResponse, error) {
	return r.client.Position(ctx, req)
}

func (r remoteService) Strength(ctx context.Context, req orchestrator.StrengthRequest) (orchestrator.StrengthResponse, error) {
	return r.client.Strength(ctx, req)
}

func (r remoteService) DayRuler(ctx context.Context, req orchestrator.DayRulerRequest) (orchestrator.DayRulerResponse, error) {
	return r.client.DayRuler(ctx, req)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
