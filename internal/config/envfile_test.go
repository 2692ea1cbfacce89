package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{"BOT_TOKEN=abc", "BOT_TOKEN", "abc", true},
		{"  BOT_TOKEN = abc ", "BOT_TOKEN", "abc", true},
		{`PASSWORD="p@ss word"`, "PASSWORD", "p@ss word", true},
		{"PASSWORD='quoted'", "PASSWORD", "quoted", true},
		{"export CHANNEL_ID=-100123", "CHANNEL_ID", "-100123", true},
		{"EMPTY=", "EMPTY", "", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"no equals sign", "", "", false},
		{"=value", "", "", false},
	}
	for _, c := range cases {
		k, v, ok := parseEnvLine(c.line)
		assert.Equal(t, c.ok, ok, "line %q", c.line)
		assert.Equal(t, c.key, k, "line %q", c.line)
		assert.Equal(t, c.value, v, "line %q", c.line)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# bot settings\n"+
			"ENVFILE_TEST_A=from_file\n"+
			"ENVFILE_TEST_B=from_file\n",
	), 0o644))

	t.Setenv("ENVFILE_TEST_B", "from_env")

	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() { os.Unsetenv("ENVFILE_TEST_A") })

	assert.Equal(t, "from_file", os.Getenv("ENVFILE_TEST_A"))
	// Already-set variables are not overwritten.
	assert.Equal(t, "from_env", os.Getenv("ENVFILE_TEST_B"))
}

func TestLoadEnvFileMissingIsNoError(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, LoadEnvFile(""))
}
