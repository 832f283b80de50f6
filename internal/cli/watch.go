package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchDebounce collapses the bursts of events editors emit for one save.
const watchDebounce = 200 * time.Millisecond

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &SessionFlags{}
	var events []string
	var peek bool

	cmd := &cobra.Command{
		Use:   "watch --manifest <file> --event <label>...",
		Short: "Re-run eval every time the manifest changes",
		Long: `Run eval once, then again after every save of the manifest file,
until interrupted. Failed runs are reported and the watch continues.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.Manifest == "" {
				return rootOpts.formatter(cmd).Fail(ExitCommandError, ErrCodeInvalidInput,
					errors.New("--manifest is required"))
			}
			log := rootOpts.logger(cmd.ErrOrStderr())

			run := func() {
				out := rootOpts.formatter(cmd)
				result, code, err := runEval(cmd, rootOpts, flags, events, peek)
				if err != nil {
					_ = out.Fail(ExitCommandError, code, err)
					return
				}
				_ = out.Success(result)
			}

			run()
			return WatchFile(cmd.Context(), log, flags.Manifest, watchDebounce, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "--- %s changed\n", flags.Manifest)
				run()
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringArrayVarP(&events, "event", "e", nil, "event label to engage (repeatable)")
	cmd.Flags().BoolVar(&peek, "peek", false, "check events without counting or saving")

	return cmd
}

// WatchFile calls onChange after path is written or replaced, until ctx is
// done. The parent directory is watched so editors that save through a
// rename are still seen.
func WatchFile(ctx context.Context, log *slog.Logger, path string, debounce time.Duration, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	log.Debug("watching manifest", "path", abs)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)

		case <-fire:
			fire = nil
			onChange()
		}
	}
}
