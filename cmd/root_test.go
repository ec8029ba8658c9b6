package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refsession/internal/cli"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: ExitCodeError,
		},
		{
			name: "auth required",
			err:  &cli.AuthRequiredError{Endpoint: "http://localhost:8000/api"},
			want: ExitCodeAuthRequired,
		},
		{
			name: "session ended",
			err:  &cli.AuthExpiredError{Endpoint: "http://localhost:8000/api", Reason: errors.New("rejected")},
			want: ExitCodeAuthRequired,
		},
		{
			name: "wrapped session ended",
			err:  fmt.Errorf("refresh: %w", &cli.AuthExpiredError{Reason: errors.New("rejected")}),
			want: ExitCodeAuthRequired,
		},
		{
			name: "sign-in rejected",
			err:  &cli.AuthFailedError{Endpoint: "http://localhost:8000/api", Reason: errors.New("bad password")},
			want: ExitCodeAuthFailed,
		},
		{
			name: "connection error",
			err:  &cli.ConnectionError{Endpoint: "http://localhost:8000/api", Type: cli.ConnectionErrorNetwork},
			want: ExitCodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"login", "logout", "status", "refresh", "watch", "version", "self-update"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"config", "base-url", "log-level", "ephemeral", "quiet"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "q", root.PersistentFlags().Lookup("quiet").Shorthand)
}

func TestRootCommand_VersionFlag(t *testing.T) {
	root := newRootCmd()
	root.Version = "1.2.3"

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "refsession version 1.2.3\n", out.String())
}

func TestSetVersion(t *testing.T) {
	original := GetVersion()
	defer SetVersion(original)

	SetVersion("2.0.0")
	if GetVersion() != "2.0.0" {
		t.Errorf("Expected version 2.0.0, got %s", GetVersion())
	}
	if rootCmd.Version != "2.0.0" {
		t.Errorf("Expected rootCmd.Version 2.0.0, got %s", rootCmd.Version)
	}
}
