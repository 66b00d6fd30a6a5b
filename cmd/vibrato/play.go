package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/vibrato-audio/vibrato/internal/history"
	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/mpris"
	"github.com/vibrato-audio/vibrato/internal/notify"
	"github.com/vibrato-audio/vibrato/internal/output"
	"github.com/vibrato-audio/vibrato/internal/playback"
	"github.com/vibrato-audio/vibrato/internal/resume"
	"github.com/vibrato-audio/vibrato/internal/scrobble"
	"github.com/vibrato-audio/vibrato/internal/storage"
	"github.com/vibrato-audio/vibrato/internal/transport"
)

// playCommand plays audio and keeps the session alive until interrupted.
func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "Play URLs, local files or library file IDs",
		ArgsUsage: "[url|path|file-id ...]",
		Description: "Queues the given items and plays them until interrupted.\n" +
			"The session stays controllable over MPRIS after the queue ends.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "shuffle",
				Usage: "Advance through the queue in random order",
			},
			&cli.StringFlag{
				Name:  "repeat",
				Usage: "Repeat mode: off, one or all",
				Value: "off",
			},
			&cli.StringFlag{
				Name:  "volume",
				Usage: "Output level between 0.0 and 1.0",
			},
			&cli.BoolFlag{
				Name:  "podcast",
				Usage: "Treat the items as podcast episodes",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Restore the previous session instead of playing new items",
			},
		},
		Action: r.Play,
	}
}

// Play boots the playback engine with its companion set (blob cache,
// session store, scrobbler, MPRIS, desktop notifications) and runs
// until interrupted.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	useResume := cmd.Bool("resume")
	args := cmd.Args().Slice()
	if useResume && len(args) > 0 {
		return fmt.Errorf("cannot combine --resume with items to play")
	}
	if !useResume && len(args) == 0 {
		return fmt.Errorf("nothing to play: pass items or --resume")
	}

	repeat, err := parseRepeatMode(cmd.String("repeat"))
	if err != nil {
		return err
	}
	volume := -1.0
	if v := cmd.String("volume"); v != "" {
		if volume, err = parseVolume(v); err != nil {
			return err
		}
	}

	cache, err := r.openCache()
	if err != nil {
		return err
	}

	var resolver storage.Resolver
	if r.cfg.HasStorageConfig() {
		resolver = storage.NewClient(r.cfg.Storage.BaseURL, r.cfg.Storage.Token)
	}
	var recorder history.Recorder
	if r.cfg.HasHistoryConfig() {
		recorder = history.NewClient(r.cfg.History.BaseURL, r.cfg.History.Token)
	}

	newDevice := func() output.Device {
		return output.NewSpeaker(output.SpeakerOptions{
			AuthToken: r.cfg.Storage.Token,
			StageDir:  r.cfg.Output.StageDir,
			Logger:    r.logger,
		})
	}

	engine := playback.New(playback.Options{
		NewDevice: newDevice,
		Cache:     cache,
		Resolver:  resolver,
		History:   recorder,
		Logger:    r.logger,
	})
	defer engine.Close()

	store, err := resume.Open()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	// Subscribe before anything can start playing so the first track
	// change is not missed.
	sub := engine.Subscribe()

	startIndex := 0
	if useResume {
		snap, err := resume.Restore(engine, store)
		if err != nil {
			return fmt.Errorf("restore session: %w", err)
		}
		if snap == nil || len(snap.Items) == 0 {
			return fmt.Errorf("no saved session to resume")
		}
		if snap.CurrentIndex >= 0 && snap.CurrentIndex < len(snap.Items) {
			startIndex = snap.CurrentIndex
		}
		r.println("Resuming %d item(s)", len(snap.Items))
	} else {
		items := make([]media.Item, 0, len(args))
		for _, arg := range args {
			items = append(items, buildItem(arg, cmd.Bool("podcast")))
		}
		engine.SetVolume(r.cfg.GetVolume())
		engine.SetRepeat(repeat)
		engine.SetShuffle(cmd.Bool("shuffle"))
		engine.SetQueue(items)
	}

	if volume >= 0 {
		engine.SetVolume(volume)
	}

	tracker := resume.Watch(engine, store, r.logger)
	defer tracker.Stop()

	if r.cfg.HasLastfmConfig() {
		key := r.cfg.Lastfm.SessionKey
		if sess, err := store.LastfmSession(); err == nil && sess != nil {
			key = sess.SessionKey
		}
		if key != "" {
			client := scrobble.NewClient(r.cfg.Lastfm.APIKey, r.cfg.Lastfm.APISecret)
			client.SetSessionKey(key)
			scrobbler := scrobble.Watch(engine, client, store, r.logger)
			defer scrobbler.Stop()
		} else {
			r.logger.Info("last.fm configured but not linked; run 'vibrato lastfm link'")
		}
	}

	if adapter, err := mpris.New(engine); err != nil {
		r.logger.Warn("mpris unavailable", "err", err)
	} else {
		defer adapter.Close()
	}

	if r.cfg.Notifications.Enabled {
		if notifier, err := notify.New(); err != nil {
			r.logger.Debug("notifications unavailable", "err", err)
		} else {
			watcher := notify.Watch(engine, notifier, r.cfg.Notifications.Timeout, r.logger)
			defer watcher.Stop()
		}
	}

	if err := engine.PlayAt(startIndex); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	if useResume {
		if cur := engine.CurrentItem(); cur != nil {
			if pos, ok, err := store.ResumePoint(cur.ID); err == nil && ok {
				if err := engine.Seek(pos); err != nil {
					r.logger.Warn("seek to saved position", "pos", pos, "err", err)
				}
			}
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down")
			return nil
		case <-sub.Done:
			return nil
		case ev := <-sub.TrackChanged:
			if ev.Current != nil {
				r.println("▶ %s", itemLabel(*ev.Current))
			}
		case ev := <-sub.Error:
			if ev.ItemID != "" {
				r.println("✗ %s %s: %v", ev.Operation, ev.ItemID, ev.Err)
			} else {
				r.println("✗ %s: %v", ev.Operation, ev.Err)
			}
		}
	}
}

// buildItem turns a CLI argument into a queue item. http(s) URLs become
// external sources, existing local paths are tagged and played
// directly, anything else is treated as a library file ID.
func buildItem(arg string, episode bool) media.Item {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return media.Item{
			ID:      arg,
			Title:   titleFromURL(arg),
			Episode: episode,
			Source:  media.ExternalSource{URL: arg},
		}
	}
	if abs, err := filepath.Abs(arg); err == nil {
		if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
			if item, probeErr := media.ProbeFile(abs); probeErr == nil {
				item.Episode = episode
				return item
			}
		}
	}
	return media.Item{
		ID:      arg,
		Title:   arg,
		Episode: episode,
		Source:  media.InternalSource{FileID: arg},
	}
}

// titleFromURL derives a display title from the URL's last path
// segment. Parse already percent-decodes the path.
func titleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return raw
	}
	base := path.Base(u.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

func itemLabel(item media.Item) string {
	if item.Artist != "" {
		return item.Artist + " - " + item.Title
	}
	return item.Title
}

func parseRepeatMode(s string) (transport.RepeatMode, error) {
	switch strings.ToLower(s) {
	case "", "off":
		return transport.RepeatOff, nil
	case "one":
		return transport.RepeatOne, nil
	case "all":
		return transport.RepeatAll, nil
	}
	return transport.RepeatOff, fmt.Errorf("invalid repeat mode %q: want off, one or all", s)
}

func parseVolume(s string) (float64, error) {
	level, err := strconv.ParseFloat(s, 64)
	if err != nil || level < 0 || level > 1 {
		return 0, fmt.Errorf("invalid volume %q: want 0.0-1.0", s)
	}
	return level, nil
}
