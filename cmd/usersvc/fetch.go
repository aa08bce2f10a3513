package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/usersvc/pkg/config"
	"github.com/Sternrassler/usersvc/pkg/fanout"
	"github.com/Sternrassler/usersvc/pkg/store"
)

type fetchOutput struct {
	Users   []*store.User `json:"users"`
	Dropped int           `json:"dropped"`
	Mode    string        `json:"mode"`
	Elapsed string        `json:"elapsed"`
}

func newFetchCmd(settings func() *config.Settings) *cobra.Command {
	var (
		failFast    bool
		concurrency int
		timeout     time.Duration
		all         bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [id...]",
		Short: "Fetch users as one batch and print them as JSON",
		Example: `  usersvc fetch 1 2 3
  usersvc fetch --fail-fast --timeout 500ms 4 5
  usersvc fetch --all --concurrency 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			policy := s.Policy()
			if cmd.Flags().Changed("fail-fast") {
				policy.FailFast = failFast
			}
			if cmd.Flags().Changed("concurrency") {
				policy.MaxConcurrency = concurrency
			}
			if cmd.Flags().Changed("timeout") {
				policy.PerItemTimeout = timeout
			}
			if err := policy.Validate(); err != nil {
				return err
			}

			ids, err := parseArgs(args)
			if err != nil {
				return err
			}
			if all == (len(ids) > 0) {
				return fmt.Errorf("pass either ids or --all")
			}

			a, err := newApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				if ids, err = a.users.List(cmd.Context()); err != nil {
					return err
				}
			}

			start := time.Now()
			res, err := fanout.FetchAll(cmd.Context(), ids, a.fetch, policy)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fetchOutput{
				Users:   res.Values,
				Dropped: res.Dropped,
				Mode:    policy.Mode(),
				Elapsed: time.Since(start).Round(time.Millisecond).String(),
			})
		},
	}

	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort on the first failed or timed out id")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum concurrent lookups (default from settings)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-id deadline (default from settings)")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every stored user")
	return cmd
}

func parseArgs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid user id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
