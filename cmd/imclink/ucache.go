package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/ucache"
)

func newUcacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ucache",
		Short: "Inspect and maintain the user cache file",
	}
	cmd.AddCommand(newUcacheListCmd(opts), newUcachePruneCmd(opts))
	return cmd
}

func openUcache(opts *rootOptions) (*ucache.Store, *ucache.Cache, error) {
	_, cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store := ucache.NewStore(cfg.UcachePath, zap.NewNop())
	c := ucache.New()
	if _, err := store.Load(c); err != nil {
		return nil, nil, err
	}
	return store, c, nil
}

func newUcacheListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every cached user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, c, err := openUcache(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range c.Entries() {
				fmt.Fprintf(out, "%-30s sex=%-2d seen=%s\n", e.Name, e.Sex, time.Unix(e.Time, 0).UTC().Format(time.RFC3339))
			}
			fmt.Fprintf(out, "entries: %d\n", c.Len())
			return nil
		},
	}
}

func newUcachePruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop stale users and rewrite the cache file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, c, err := openUcache(opts)
			if err != nil {
				return err
			}
			removed := c.Prune(time.Now())
			if err := store.Save(c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale entries, %d remain\n", removed, c.Len())
			return nil
		},
	}
}
