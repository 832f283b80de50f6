package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// CheckResult is the output of check.
type CheckResult struct {
	Matched bool `json:"matched"`
}

func (r CheckResult) Text() string {
	return fmt.Sprintf("%t\n", r.Matched)
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &SessionFlags{}
	var criteriaArg, override string

	cmd := &cobra.Command{
		Use:   "check --criteria <json|@file>",
		Short: "Evaluate ad-hoc criteria against a session state",
		Long: `Evaluate a criteria document against the state in --state without
engaging anything. Exits with status 1 when the criteria do not match.

--override takes a JSON object whose top-level keys replace the matching
key-path roots, e.g. {"device": {"plan": "pro"}}.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			matched, code, err := runCheck(cmd, rootOpts, flags, criteriaArg, override)
			if err != nil {
				return out.Fail(ExitCommandError, code, err)
			}
			if err := out.Success(CheckResult{Matched: matched}); err != nil {
				return err
			}
			if !matched {
				return NewExitError(ExitFailure, "criteria not satisfied")
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&criteriaArg, "criteria", "c", "", "criteria JSON, or @path to read it from a file")
	cmd.Flags().StringVar(&override, "override", "", "JSON object of key-path roots to override")
	_ = cmd.MarkFlagRequired("criteria")

	return cmd
}

func runCheck(cmd *cobra.Command, rootOpts *RootOptions, flags *SessionFlags, criteriaArg, override string) (bool, string, error) {
	raw, err := readCriteria(criteriaArg)
	if err != nil {
		return false, ErrCodeInvalidInput, err
	}
	roots, err := parseBag("override", override)
	if err != nil {
		return false, ErrCodeInvalidInput, err
	}

	sess, code, err := openSession(cmd, rootOpts, flags)
	if err != nil {
		return false, code, err
	}
	defer sess.store.Close()

	matched, err := sess.engine.EvaluateCriteria(raw, roots)
	if err != nil {
		return false, ErrCodeInvalidCriteria, err
	}
	return matched, "", nil
}

func readCriteria(arg string) (json.RawMessage, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read criteria: %w", err)
		}
		arg = string(data)
	}
	if strings.TrimSpace(arg) == "" {
		return nil, errors.New("criteria cannot be empty")
	}
	return json.RawMessage(arg), nil
}
