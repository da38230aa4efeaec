package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webriots/filament"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "filament", cmd.Use)

	for _, name := range []string{"pingpong", "pipeline", "echo"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestPingPongGolden(t *testing.T) {
	out, err := execute(t, "pingpong", "--rounds", "3")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "pingpong", []byte(out))
}

func TestInvalidLogLevel(t *testing.T) {
	r := require.New(t)

	_, err := execute(t, "--log-level", "loud", "pingpong")
	r.ErrorIs(err, filament.ErrUsage)
	r.Equal(ExitUsage, ExitCode(err))

	_, err = execute(t, "pingpong", "--rounds", "-1")
	r.Equal(ExitUsage, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	r := require.New(t)

	r.Equal(ExitSuccess, ExitCode(nil))
	r.Equal(ExitFailure, ExitCode(errors.New("boom")))
	r.Equal(ExitUsage, ExitCode(filament.ErrUsage))
}

func TestConfigFile(t *testing.T) {
	r := require.New(t)

	path := filepath.Join(t.TempDir(), "filament.yaml")
	r.NoError(os.WriteFile(path, []byte("name: demo\nlog_level: trace\noffload_limit: 1\n"), 0o600))

	out, err := execute(t, "--config", path, "pipeline", "--items", "3", "--producers", "1", "--consumers", "1")
	r.NoError(err)
	r.Equal("processed 3 items, sum of squares 5\n", out)
}
