package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/vibrato-audio/vibrato/internal/proxy"
)

// cacheCommand manages the local blob cache.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the local blob cache",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List cached blobs and their sizes",
				Action: r.CacheList,
			},
			{
				Name:   "clear",
				Usage:  "Remove all cached blobs",
				Action: r.CacheClear,
			},
		},
	}
}

func (r *Runner) openCache() (*proxy.Cache, error) {
	cache, err := proxy.New(proxy.Options{
		Dir:        r.cfg.Proxy.CacheDir,
		ConvertURL: r.cfg.Proxy.ConvertURL,
		Token:      r.cfg.Proxy.Token,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open blob cache: %w", err)
	}
	return cache, nil
}

// CacheList prints every cached blob with its size.
func (r *Runner) CacheList(ctx context.Context, cmd *cli.Command) error {
	cache, err := r.openCache()
	if err != nil {
		return err
	}
	entries := cache.Entries()
	if len(entries) == 0 {
		r.println("Cache is empty (%s)", cache.Dir())
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	for _, e := range entries {
		r.println("%10s  %s", humanize.IBytes(uint64(e.Size)), e.URL)
	}
	r.println("%d blob(s), %s total in %s",
		len(entries), humanize.IBytes(uint64(cache.TotalSize())), cache.Dir())
	return nil
}

// CacheClear removes every cached blob.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	cache, err := r.openCache()
	if err != nil {
		return err
	}
	count := len(cache.Entries())
	size := cache.TotalSize()
	if err := cache.Clear(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	r.println("✓ Removed %d blob(s), freed %s", count, humanize.IBytes(uint64(size)))
	return nil
}
