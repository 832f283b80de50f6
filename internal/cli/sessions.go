package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

// SessionList is the output of sessions.
type SessionList struct {
	Sessions []string `json:"sessions"`
}

func (l SessionList) Text() string {
	if len(l.Sessions) == 0 {
		return "no sessions\n"
	}
	return strings.Join(l.Sessions, "\n") + "\n"
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:           "sessions --state <file.db>",
		Short:         "List the sessions stored in a sqlite state file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			if path == "" {
				return out.Fail(ExitCommandError, ErrCodeInvalidInput, errors.New("--state is required"))
			}

			store, err := OpenStateStore(cmd.Context(), path, "")
			if err != nil {
				return out.Fail(ExitCommandError, ErrCodeState, err)
			}
			defer store.Close()

			db, ok := store.(*SQLiteStore)
			if !ok {
				return out.Fail(ExitCommandError, ErrCodeInvalidInput,
					errors.New("only sqlite state files hold more than one session"))
			}
			ids, err := db.Sessions(cmd.Context())
			if err != nil {
				return out.Fail(ExitCommandError, ErrCodeState, err)
			}
			if ids == nil {
				ids = []string{}
			}
			return out.Success(SessionList{Sessions: ids})
		},
	}

	cmd.Flags().StringVarP(&path, "state", "s", "", "sqlite state file")
	return cmd
}
