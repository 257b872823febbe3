package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"trajreplay/internal/dataset"
	"trajreplay/internal/replay"
)

func episodesCmd() *cobra.Command {
	var (
		filterKey string
		withObs   bool
		masks     bool
	)
	cmd := &cobra.Command{
		Use:   "episodes <dataset>",
		Short: "List the episodes of a container in replay order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := dataset.Open(ctx, args[0], newLogger())
			if err != nil {
				return fmt.Errorf("%w: %w", replay.ErrResource, err)
			}
			defer store.Close()

			if masks {
				keys, err := store.FilterKeys(ctx)
				if err != nil {
					return err
				}
				for _, k := range keys {
					cmd.Println(k)
				}
				return nil
			}

			ids, err := store.ListEpisodes(ctx, filterKey)
			if errors.Is(err, dataset.ErrUnknownFilter) {
				return fmt.Errorf("%w: %w", replay.ErrConfig, err)
			}
			if err != nil {
				return err
			}
			for _, id := range ids {
				if !withObs {
					cmd.Println(id)
					continue
				}
				keys, err := store.ObservationKeys(ctx, id)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				cmd.Println(id)
				names := make([]string, 0, len(keys))
				for k := range keys {
					names = append(names, k)
				}
				sort.Strings(names)
				for _, k := range names {
					cmd.Printf("  %s\t%s\n", k, keys[k])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filterKey, "filter_key", "", "list only the episodes in this filter mask")
	cmd.Flags().BoolVar(&withObs, "obs", false, "also list each episode's observation keys and modalities")
	cmd.Flags().BoolVar(&masks, "masks", false, "list the filter mask names instead of episodes")
	return cmd
}
