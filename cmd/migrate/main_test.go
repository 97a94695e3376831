package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"up", "down", "status", "version", "reset", "redo", "create"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_Errors(t *testing.T) {
	tests := []struct {
		description string
		args        []string
		env         map[string]string
		wantErr     string
	}{
		{
			description: "unknown target",
			args:        []string{"up", "--target", "mysql"},
			wantErr:     `unknown migration target "mysql"`,
		},
		{
			description: "postgres without url",
			args:        []string{"status"},
			env:         map[string]string{"DATABASE_URL": ""},
			wantErr:     "DATABASE_URL is required",
		},
		{
			description: "create without a name",
			args:        []string{"create"},
			wantErr:     "accepts 1 arg(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateCmd_WritesMigration(t *testing.T) {
	dir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"create", "add_book_language", "--target", "clickhouse", "--dir", dir})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_add_book_language.sql"))

	body, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, out.String(), "Created migration add_book_language")
}
