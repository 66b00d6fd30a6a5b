package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/vibrato-audio/vibrato/internal/resume"
	"github.com/vibrato-audio/vibrato/internal/scrobble"
)

// lastfmCommand manages the Last.fm account link.
func lastfmCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "lastfm",
		Usage: "Link a Last.fm account for scrobbling",
		Commands: []*cli.Command{
			{
				Name:   "link",
				Usage:  "Authorize this player with your Last.fm account",
				Action: r.LastfmLink,
			},
			{
				Name:   "status",
				Usage:  "Show the linked account and pending scrobbles",
				Action: r.LastfmStatus,
			},
			{
				Name:   "unlink",
				Usage:  "Forget the stored Last.fm session",
				Action: r.LastfmUnlink,
			},
		},
	}
}

// LastfmLink runs the desktop authorization flow: open the authorize
// page in a browser, wait for the user to confirm, then exchange the
// token for a session key and store it.
func (r *Runner) LastfmLink(ctx context.Context, cmd *cli.Command) error {
	if !r.cfg.HasLastfmConfig() {
		return fmt.Errorf("last.fm api_key and api_secret must be set in the config file")
	}

	client := scrobble.NewClient(r.cfg.Lastfm.APIKey, r.cfg.Lastfm.APISecret)
	token, err := client.GetToken()
	if err != nil {
		return fmt.Errorf("request auth token: %w", err)
	}

	authURL := client.GetAuthURL(token)
	if err := scrobble.OpenBrowser(authURL); err != nil {
		r.println("Open this URL in your browser:")
	} else {
		r.println("Opened your browser. If nothing happened, open this URL:")
	}
	r.println("  %s", authURL)
	r.printf("Authorize the application there, then press Enter to continue... ")

	if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}

	username, sessionKey, err := client.GetSession(token)
	if err != nil {
		return fmt.Errorf("exchange token for session: %w", err)
	}

	store, err := resume.Open()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	if err := store.SaveLastfmSession(username, sessionKey); err != nil {
		return fmt.Errorf("store session key: %w", err)
	}

	r.println("✓ Linked as %s", username)
	return nil
}

// LastfmStatus shows whether an account is linked and how many
// scrobbles are waiting for retry.
func (r *Runner) LastfmStatus(ctx context.Context, cmd *cli.Command) error {
	store, err := resume.Open()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	sess, err := store.LastfmSession()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		if r.cfg.Lastfm.SessionKey != "" {
			r.println("Using the session key from the config file")
		} else {
			r.println("Not linked. Run 'vibrato lastfm link' to authorize.")
		}
	} else {
		r.println("Linked as %s (%s)", sess.Username, humanize.Time(sess.LinkedAt))
	}

	pending, err := store.PendingScrobbles()
	if err != nil {
		return fmt.Errorf("load pending scrobbles: %w", err)
	}
	if len(pending) > 0 {
		r.println("%d scrobble(s) pending retry:", len(pending))
		for _, p := range pending {
			r.println("  %s - %s (%d attempt(s))", p.Track.Artist, p.Track.Title, p.Attempts)
		}
	}
	return nil
}

// LastfmUnlink removes the stored session key.
func (r *Runner) LastfmUnlink(ctx context.Context, cmd *cli.Command) error {
	store, err := resume.Open()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	if err := store.DeleteLastfmSession(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	r.println("✓ Unlinked")
	return nil
}
