package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/state"
)

// SessionFlags select the manifest, the persisted state and the pinned
// clock and random source shared by eval, check and watch.
type SessionFlags struct {
	Manifest string
	State    string
	Session  string
	Now      string
	Seed     int64
	Device   string
	Person   string
}

func (f *SessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Manifest, "manifest", "m", "", "manifest file (.json, .yaml, .yml)")
	cmd.Flags().StringVarP(&f.State, "state", "s", "", "state file (.json, .db, .sqlite); in memory when empty")
	cmd.Flags().StringVar(&f.Session, "session", DefaultSession, "session row inside a sqlite state file")
	cmd.Flags().StringVar(&f.Now, "now", "", "pin the clock to an RFC3339 instant")
	cmd.Flags().Int64Var(&f.Seed, "seed", 0, "seed the random source of sampling buckets")
	cmd.Flags().StringVar(&f.Device, "device", "", "JSON object merged into the device bag")
	cmd.Flags().StringVar(&f.Person, "person", "", "JSON object merged into the person bag")
}

func (f *SessionFlags) engineOptions(cmd *cobra.Command) ([]engagement.Option, error) {
	var opts []engagement.Option
	if f.Now != "" {
		now, err := time.Parse(time.RFC3339, f.Now)
		if err != nil {
			return nil, fmt.Errorf("invalid --now: %w", err)
		}
		opts = append(opts, engagement.WithClock(func() time.Time { return now }))
	}
	if cmd.Flags().Changed("seed") {
		rng := rand.New(rand.NewPCG(uint64(f.Seed), 0))
		opts = append(opts, engagement.WithRandom(rng.Float64))
	}
	return opts, nil
}

func parseBag(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var bag map[string]any
	if err := json.Unmarshal([]byte(raw), &bag); err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return bag, nil
}

// EventResult is the outcome of one engaged event.
type EventResult struct {
	Event       string                  `json:"event"`
	Interaction *engagement.Interaction `json:"interaction"`
}

// EvalResult is the output of eval.
type EvalResult struct {
	Results []EventResult `json:"results"`
	State   *state.State  `json:"state"`
}

func (r EvalResult) Text() string {
	var b strings.Builder
	for _, res := range r.Results {
		if res.Interaction == nil {
			fmt.Fprintf(&b, "%s -> no interaction\n", res.Event)
			continue
		}
		fmt.Fprintf(&b, "%s -> %s (%s)\n", res.Event, res.Interaction.ID, res.Interaction.Type)
	}
	st, _ := json.MarshalIndent(r.State, "", "  ")
	fmt.Fprintf(&b, "state:\n%s\n", st)
	return b.String()
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &SessionFlags{}
	var events []string
	var peek bool

	cmd := &cobra.Command{
		Use:   "eval --manifest <file> --event <label>...",
		Short: "Engage events against a manifest and print what they trigger",
		Long: `Engage each --event in order against the manifest and print the
interaction it triggers. Counters and timestamps are written back to
--state so successive runs build up history.

With --peek the events are only checked: nothing is counted or saved.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			result, code, err := runEval(cmd, rootOpts, flags, events, peek)
			if err != nil {
				return out.Fail(ExitCommandError, code, err)
			}
			return out.Success(result)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringArrayVarP(&events, "event", "e", nil, "event label to engage (repeatable)")
	cmd.Flags().BoolVar(&peek, "peek", false, "check events without counting or saving")

	return cmd
}

// runEval returns the error code alongside any error so the caller can
// report it in either output format.
func runEval(cmd *cobra.Command, rootOpts *RootOptions, flags *SessionFlags, events []string, peek bool) (*EvalResult, string, error) {
	if len(events) == 0 {
		return nil, ErrCodeInvalidInput, errors.New("at least one --event is required")
	}
	if flags.Manifest == "" {
		return nil, ErrCodeInvalidInput, errors.New("--manifest is required")
	}

	sess, code, err := openSession(cmd, rootOpts, flags)
	if err != nil {
		return nil, code, err
	}
	defer sess.store.Close()

	result := &EvalResult{Results: make([]EventResult, 0, len(events))}
	for _, label := range events {
		var in *engagement.Interaction
		if peek {
			in = sess.engine.CanShowInteractionForEvent(label)
		} else {
			in = sess.engine.EngageEvent(label, nil)
		}
		result.Results = append(result.Results, EventResult{Event: label, Interaction: in})
	}
	result.State = sess.engine.Snapshot()

	if !peek {
		if err := sess.store.Save(cmd.Context(), result.State); err != nil {
			return nil, ErrCodeState, err
		}
	}
	return result, "", nil
}

// localSession is an engine hydrated from a StateStore.
type localSession struct {
	engine *engagement.Engine
	store  StateStore
}

// openSession loads the manifest and state named by flags and applies the
// device and person patches. Without --manifest the engine runs an empty
// manifest. The caller closes the store.
func openSession(cmd *cobra.Command, rootOpts *RootOptions, flags *SessionFlags) (*localSession, string, error) {
	ctx := cmd.Context()

	engineOpts, err := flags.engineOptions(cmd)
	if err != nil {
		return nil, ErrCodeInvalidInput, err
	}
	device, err := parseBag("device", flags.Device)
	if err != nil {
		return nil, ErrCodeInvalidInput, err
	}
	person, err := parseBag("person", flags.Person)
	if err != nil {
		return nil, ErrCodeInvalidInput, err
	}

	var manifest *engagement.Manifest
	if flags.Manifest != "" {
		if manifest, err = LoadManifest(flags.Manifest); err != nil {
			return nil, manifestErrorCode(err), err
		}
	}

	store, err := OpenStateStore(ctx, flags.State, flags.Session)
	if err != nil {
		return nil, ErrCodeState, err
	}
	st, err := store.Load(ctx)
	if err != nil {
		store.Close()
		return nil, ErrCodeState, err
	}

	engineOpts = append(engineOpts,
		engagement.WithLogger(rootOpts.logger(cmd.ErrOrStderr())),
		engagement.WithState(st),
	)
	engine, err := engagement.NewEngine(manifest, engineOpts...)
	if err != nil {
		store.Close()
		return nil, ErrCodeInvalidManifest, err
	}
	if device != nil {
		engine.UpdateDevice(device)
	}
	if person != nil {
		engine.UpdatePerson(person)
	}
	return &localSession{engine: engine, store: store}, "", nil
}

func manifestErrorCode(err error) string {
	switch {
	case errors.Is(err, engagement.ErrInvalidManifest):
		return ErrCodeInvalidManifest
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	default:
		return ErrCodeInvalidInput
	}
}
