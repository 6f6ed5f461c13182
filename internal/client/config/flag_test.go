package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected  *Config
		name      string
		args      []string
		expectErr bool
	}{
		{
			name: "Test1 OK",
			args: []string{"-server", "http://api:9090", "-i", "15", "--db=/tmp/s.db", "sync", "--log-level", "debug"},
			expected: &Config{
				ServerURL:           "http://api:9090",
				DBPath:              "/tmp/s.db",
				OnlineCheckInterval: 15 * time.Second,
				LogLevel:            "debug",
			},
		},
		{name: "Test2 incorrect check interval", args: []string{"-i", "abc"}, expectErr: true, expected: &Config{}},
		{
			name:     "Test3 unrelated flags ignored",
			args:     []string{"photo", "add", "--house", "h_1", "-survey", "9"},
			expected: &Config{SurveyID: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			err := parseFlags(config, tt.args)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}

func TestSplit(t *testing.T) {
	own, rest := Split([]string{"-c", "cfg.json", "village", "add", "Chongwe", "-db", "x.db"})
	assert.Equal(t, []string{"-c", "cfg.json", "-db", "x.db"}, own)
	assert.Equal(t, []string{"village", "add", "Chongwe"}, rest)
}
