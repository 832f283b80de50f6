package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testManifest = "testdata/manifest.yaml"
	testNow      = "2024-05-05T10:00:00Z"
	launch       = "local#app#launch"
	checkout     = "local#app#checkout"
)

// execute runs engagectl with args and returns stdout and the command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), err
}

func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()

	resp := CLIResponse{Data: data}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestEvalGolden(t *testing.T) {
	t.Parallel()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, format := range []string{"text", "json"} {
		t.Run(format, func(t *testing.T) {
			t.Parallel()

			// Arrange
			statePath := filepath.Join(t.TempDir(), "state.json")

			// Act
			out, err := execute(t, "--format", format, "eval",
				"--manifest", testManifest,
				"--state", statePath,
				"--now", testNow,
				"-e", launch, "-e", launch, "-e", checkout, "-e", checkout,
			)

			// Assert
			require.NoError(t, err)
			g.Assert(t, "eval_"+format, []byte(out))
		})
	}
}

func TestEval(t *testing.T) {
	t.Parallel()

	t.Run("Should carry counters across runs through a json state file", func(t *testing.T) {
		t.Parallel()

		// Arrange
		statePath := filepath.Join(t.TempDir(), "state.json")
		args := []string{"eval", "-m", testManifest, "-s", statePath, "-e", launch}

		// Act
		first, err := execute(t, args...)
		require.NoError(t, err)
		second, err := execute(t, args...)
		require.NoError(t, err)

		// Assert
		assert.Contains(t, first, launch+" -> welcome (TextModal)")
		assert.Contains(t, second, launch+" -> no interaction")
		assert.FileExists(t, statePath)
	})

	t.Run("Should keep sqlite sessions apart", func(t *testing.T) {
		t.Parallel()

		// Arrange
		dbPath := filepath.Join(t.TempDir(), "state.db")
		run := func(session string) string {
			out, err := execute(t, "eval", "-m", testManifest, "-s", dbPath, "--session", session, "-e", launch)
			require.NoError(t, err)
			return out
		}

		// Act
		alice1 := run("alice")
		alice2 := run("alice")
		bob1 := run("bob")

		// Assert
		assert.Contains(t, alice1, "-> welcome")
		assert.Contains(t, alice2, "-> no interaction")
		assert.Contains(t, bob1, "-> welcome")

		out, err := execute(t, "--format", "json", "sessions", "-s", dbPath)
		require.NoError(t, err)
		var list SessionList
		resp := decodeResponse(t, out, &list)
		assert.Equal(t, "ok", resp.Status)
		assert.ElementsMatch(t, []string{"alice", "bob"}, list.Sessions)
	})

	t.Run("Should not count or save when peeking", func(t *testing.T) {
		t.Parallel()

		// Arrange
		statePath := filepath.Join(t.TempDir(), "state.json")

		// Act
		out, err := execute(t, "eval", "-m", testManifest, "-s", statePath, "--peek", "-e", launch, "-e", launch)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, bytes.Count([]byte(out), []byte("-> welcome")))
		assert.NoFileExists(t, statePath)
	})

	t.Run("Should apply device and person patches before engaging", func(t *testing.T) {
		t.Parallel()

		// Act
		out, err := execute(t, "--format", "json", "eval", "-m", testManifest,
			"--device", `{"plan": "pro"}`, "--person", `{"tier": "gold"}`, "-e", launch)

		// Assert
		require.NoError(t, err)
		var result EvalResult
		decodeResponse(t, out, &result)
		assert.Equal(t, "pro", result.State.Device["plan"])
		assert.Equal(t, "gold", result.State.Person["tier"])
	})

	t.Run("Should draw the same buckets for the same seed", func(t *testing.T) {
		t.Parallel()

		run := func() float64 {
			out, err := execute(t, "--format", "json", "eval", "-m", "testdata/sampled.json", "--seed", "42", "-e", launch)
			require.NoError(t, err)
			var result EvalResult
			decodeResponse(t, out, &result)
			require.Contains(t, result.State.Random, "beta")
			return result.State.Random["beta"]
		}

		assert.Equal(t, run(), run())
	})
}

func TestEval_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"interactions": [{"id": "a"}, {"id": "a"}]}`), 0o600))

	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"missing manifest flag", []string{"-e", launch}, ErrCodeInvalidInput},
		{"no events", []string{"-m", testManifest}, ErrCodeInvalidInput},
		{"manifest file not found", []string{"-m", filepath.Join(dir, "nope.json"), "-e", launch}, ErrCodeNotFound},
		{"duplicate interaction ids", []string{"-m", broken, "-e", launch}, ErrCodeInvalidManifest},
		{"unsupported state extension", []string{"-m", testManifest, "-s", filepath.Join(dir, "s.txt"), "-e", launch}, ErrCodeState},
		{"bad --now", []string{"-m", testManifest, "--now", "yesterday", "-e", launch}, ErrCodeInvalidInput},
		{"bad --device", []string{"-m", testManifest, "--device", "[1]", "-e", launch}, ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			out, err := execute(t, append([]string{"--format", "json", "eval"}, tt.args...)...)

			// Assert
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			resp := decodeResponse(t, out, nil)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	statePath := filepath.Join(t.TempDir(), "state.json")
	_, err := execute(t, "eval", "-m", testManifest, "-s", statePath, "-e", checkout, "-e", checkout)
	require.NoError(t, err)

	tests := []struct {
		name     string
		args     []string
		wantOut  string
		wantExit int
	}{
		{
			name:     "matching criteria",
			args:     []string{"-c", `{"code_point/local#app#checkout/invokes/total": 2}`},
			wantOut:  "true\n",
			wantExit: ExitSuccess,
		},
		{
			name:     "non matching criteria",
			args:     []string{"-c", `{"code_point/local#app#launch/invokes/total": {"$gt": 0}}`},
			wantOut:  "false\n",
			wantExit: ExitFailure,
		},
		{
			name:     "override shadows the device bag",
			args:     []string{"-c", `{"device/plan": "pro"}`, "--override", `{"device": {"plan": "pro"}}`},
			wantOut:  "true\n",
			wantExit: ExitSuccess,
		},
		{
			name:     "criteria read from a file",
			args:     []string{"-c", "@testdata/criteria.json"},
			wantOut:  "true\n",
			wantExit: ExitSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			out, err := execute(t, append([]string{"check", "-s", statePath}, tt.args...)...)

			// Assert
			assert.Equal(t, tt.wantOut, out)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
		})
	}

	t.Run("Should reject criteria that are not json", func(t *testing.T) {
		t.Parallel()

		out, err := execute(t, "check", "-c", "{not json")

		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, ErrCodeInvalidCriteria)
	})
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--format", "xml", "check", "-c", "{}")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
