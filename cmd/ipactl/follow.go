package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/schollz/progressbar/v3"
)

// progressScale is the bar's maximum; record progress is scaled onto it.
const progressScale = 1000

var errRecordGone = errors.New("activity record removed")

// follow renders the record with id onto bar until it reaches a terminal
// status, the record disappears or ctx is done.
func follow(ctx context.Context, registry *activity.Registry, id string, bar *progressbar.ProgressBar) (activity.Status, error) {
	updates := make(chan []activity.Record, 1)
	unsubscribe := registry.Subscribe(func(records []activity.Record) {
		// Listeners run on the registry loop; keep only the latest snapshot.
		select {
		case <-updates:
		default:
		}
		updates <- records
	})
	defer unsubscribe()

	seen := false
	render := func(records []activity.Record) (activity.Status, bool, error) {
		for _, rec := range records {
			if rec.ID != id {
				continue
			}
			seen = true
			bar.Describe(describe(rec))
			bar.Set(int(rec.Progress * progressScale))
			return rec.Status, rec.Status.IsTerminal(), nil
		}
		if seen {
			return activity.Status{}, true, errRecordGone
		}
		return activity.Status{}, false, nil
	}

	// The record may already be ahead of the subscription.
	if status, done, err := render(registry.Records()); done {
		return status, err
	}

	for {
		select {
		case <-ctx.Done():
			return activity.Status{}, ctx.Err()
		case records := <-updates:
			if status, done, err := render(records); done {
				return status, err
			}
		}
	}
}

func describe(rec activity.Record) string {
	switch rec.Status.Kind {
	case activity.KindCompleted:
		return "[green][1/1][reset] " + rec.Name + " done"
	case activity.KindFailed:
		return "[red][1/1][reset] " + rec.Name + " failed"
	default:
		return "[cyan][1/1][reset] " + string(rec.Status.Kind) + " " + rec.Name
	}
}

// exitInterrupted is the conventional status for a run stopped by SIGINT.
const exitInterrupted = 130

type appGetter interface {
	Get(ctx context.Context, id string) (*library.App, error)
}

// finish prints how the followed download ended and returns the exit code.
func finish(stdout, stderr io.Writer, lib appGetter, id string, status activity.Status, err error) int {
	switch {
	case errors.Is(err, errRecordGone):
		fmt.Fprintln(stderr, "download record was removed before it finished")
		return 1
	case err != nil:
		fmt.Fprintln(stderr, "download cancelled")
		return exitInterrupted
	case status.Kind == activity.KindFailed:
		fmt.Fprintf(stderr, "download failed: %s\n", status.Message)
		return 1
	}

	pkg, err := lib.Get(context.Background(), id)
	if err != nil {
		fmt.Fprintf(stderr, "download finished but the app is missing: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s %s (%s) added to the library as %s\n", pkg.Name, pkg.Version, pkg.BundleID, pkg.ID)
	return 0
}
