package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/zonemedia/internal/client/capture"
	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/client/services"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"golang.org/x/sync/errgroup"
)

var (
	// errUsage marks a command invoked with the wrong arguments.
	errUsage          = errors.New("usage")
	errUnknownCommand = errors.New("unknown command")
)

const helpText = `Available commands:
  sync <zone> [markedBy]   reconcile a zone with the media service and list its media
  list <zone>              list the media cached for a zone
  zones                    list the zones cached on this device
  add <file>...            queue local files for saving
  save <zone> [file...]    save queued (and given) files into a zone's album
  pending                  list interrupted downloads
  resume <id>              resume an interrupted download
  pause <id>               pause an active download
  cancel <id>              cancel a download and discard its data
  progress <id>            show download progress
  help                     show this text`

// exec runs one command. It is shared by single-shot runs and the REPL.
func (a *App) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "help":
		printlnFn(helpText)
	case "sync":
		err = a.syncZone(ctx, rest, true)
	case "list", "l":
		err = a.syncZone(ctx, rest, false)
	case "zones":
		err = a.zones(ctx)
	case "add":
		err = a.add(rest)
	case "save":
		err = a.save(ctx, rest)
	case "pending":
		err = a.listPending(ctx)
	case "resume":
		err = a.withID(rest, func(id string) error { return a.resume(ctx, id) })
	case "pause":
		err = a.withID(rest, func(id string) error { return a.downloads.Pause(ctx, id) })
	case "cancel":
		err = a.withID(rest, func(id string) error { return a.downloads.Cancel(ctx, id) })
	case "progress":
		err = a.withID(rest, func(id string) error {
			printlnFn(fmt.Sprintf("%s %.0f%%", id, 100*a.downloads.Progress(ctx, id)))
			return nil
		})
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}

	if errors.Is(err, errUsage) {
		printlnFn(err.Error())
		return err
	}
	if err != nil {
		a.logger.Error(ctx, "command failed", "command", cmd, "error", err)
		printlnFn("Error:", describe(err))
	}
	return err
}

func (a *App) withID(args []string, fn func(id string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: <command> <download id>", errUsage)
	}
	return fn(args[0])
}

func (a *App) syncZone(ctx context.Context, args []string, shouldSync bool) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: sync <zone> [markedBy] | list <zone>", errUsage)
	}
	zone := &models.Zone{ID: args[0]}
	if len(args) == 2 {
		zone.MarkedBy = args[1]
	}

	res, err := a.media.GetZoneMedia(ctx, zone, shouldSync)
	if err != nil {
		return err
	}
	for _, it := range res.Items {
		printlnFn(fmt.Sprintf("%-5s %s", it.Type, it.URI))
	}
	for _, w := range res.Warnings {
		printlnFn("Warning:", describe(w))
	}
	if res.Retryable() {
		printlnFn("Some media could not be fetched; run sync again later.")
	}
	printlnFn(fmt.Sprintf("%d item(s) in zone %s", len(res.Items), zone.ID))
	return nil
}

func (a *App) zones(ctx context.Context) error {
	ids, err := a.media.CachedZones(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		printlnFn("No zones cached")
		return nil
	}
	for _, id := range ids {
		printlnFn(id)
	}
	return nil
}

func (a *App) add(paths []string) error {
	if len(paths) == 0 {
		p, err := GetPaths(a.reader, "Enter file paths, one per line", a.out)
		if err != nil {
			return err
		}
		paths = p
	}
	var errs []error
	for _, p := range paths {
		item, err := capture.ItemFromFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.pending.Add(*item)
	}
	printlnFn(fmt.Sprintf("%d file(s) pending", a.pending.Len()))
	return errors.Join(errs...)
}

// save queues paths and moves the whole pending list into zone's album.
// Items that were saved leave the list; failed ones stay for another try.
func (a *App) save(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: save <zone> [file...]", errUsage)
	}
	zoneID := args[0]
	if len(args) > 1 {
		if err := a.add(args[1:]); err != nil {
			return err
		}
	}
	items := a.pending.Items()
	if len(items) == 0 {
		printlnFn("Nothing to save")
		return nil
	}

	album, err := a.media.SaveMedia(ctx, items, zoneID)
	if album == nil && err != nil {
		return err
	}
	failed := failedURIs(err)
	for _, it := range items {
		if !slices.Contains(failed, it.URI) {
			a.pending.Remove(it.URI)
		}
	}
	if album != nil {
		printlnFn(fmt.Sprintf("Saved %d item(s) to album %s", len(items)-len(failed), album.Name))
	}
	return err
}

func (a *App) listPending(ctx context.Context) error {
	list, err := a.downloads.Pending(ctx)
	if err != nil {
		return err
	}
	active := a.downloads.Active()
	if len(list) == 0 && len(active) == 0 {
		printlnFn("No pending downloads")
		return nil
	}
	for _, cp := range list {
		state := "interrupted"
		switch {
		case slices.Contains(active, cp.ID):
			state = "active"
		case cp.Paused:
			state = "paused"
		}
		printlnFn(fmt.Sprintf("%s %-11s %3.0f%% %s", cp.ID, state, 100*a.downloads.Progress(ctx, cp.ID), cp.Filename))
	}
	return nil
}

func (a *App) resume(ctx context.Context, id string) error {
	path, err := a.downloads.Resume(ctx, id)
	if err != nil {
		return err
	}
	printlnFn("Downloaded", path)
	return nil
}

// resumeStalled resumes every checkpoint that is neither paused nor running,
// bounded by the configured download concurrency.
func (a *App) resumeStalled(ctx context.Context) {
	list, err := a.downloads.Pending(ctx)
	if err != nil {
		a.logger.Warn(ctx, "resume watcher: listing checkpoints failed", "error", err)
		return
	}
	active := a.downloads.Active()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, a.config.DownloadConcurrency))
	for _, cp := range list {
		if cp.Paused || slices.Contains(active, cp.ID) {
			continue
		}
		g.Go(func() error {
			a.logger.Info(gctx, "resuming interrupted download", "download_id", cp.ID)
			if _, err := a.downloads.Resume(gctx, cp.ID); err != nil {
				a.logger.Warn(gctx, "resume failed", "download_id", cp.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// describe renders err for the user: typed errors show their public message
// and detail, anything else its text.
func describe(err error) string {
	te := errx.As(err)
	if te == nil {
		return err.Error()
	}
	msg := errx.MetadataFor(te.Code()).PublicMessage
	if te.Message() != "" && te.Message() != msg {
		msg += ": " + te.Message()
	}
	return msg
}

// failedURIs extracts the item URIs named by SaveMedia's per-item errors.
func failedURIs(err error) []string {
	if err == nil {
		return nil
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	var out []string
	for _, e := range errs {
		var ie *services.ItemError
		if errors.As(e, &ie) {
			out = append(out, ie.URI)
		}
	}
	return out
}
