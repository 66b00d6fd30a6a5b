package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/vibrato-audio/vibrato/internal/resume"
)

// sessionCommand inspects and clears the saved playback session.
func sessionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Inspect the saved playback session",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the saved queue and positions",
				Action: r.SessionShow,
			},
			{
				Name:   "clear",
				Usage:  "Forget the saved session and all positions",
				Action: r.SessionClear,
			},
		},
	}
}

// SessionShow prints the saved session summary.
func (r *Runner) SessionShow(ctx context.Context, cmd *cli.Command) error {
	store, err := resume.Open()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	snap, err := store.Snapshot()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if snap == nil {
		r.println("No saved session")
		return nil
	}

	r.println("Saved %s (volume %d%%, repeat %s, shuffle %s)",
		humanize.Time(snap.SavedAt), int(snap.Volume*100),
		strings.ToLower(snap.Repeat.String()), onOff(snap.Shuffle))
	for i, item := range snap.Items {
		marker := " "
		if i == snap.CurrentIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("%s %2d. %s", marker, i+1, itemLabel(item))
		if pos, ok, posErr := store.Position(item.ID); posErr == nil && ok && pos > 0 {
			line += fmt.Sprintf(" (at %s)", pos.Truncate(time.Second))
		}
		r.println("%s", line)
	}
	return nil
}

// SessionClear wipes the saved session.
func (r *Runner) SessionClear(ctx context.Context, cmd *cli.Command) error {
	store, err := resume.Open()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	r.println("✓ Session cleared")
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
