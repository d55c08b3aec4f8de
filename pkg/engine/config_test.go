package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "viewgroups.yaml", `
host_page:
  url_pattern: "^https://calendar\\.example\\.com/"
scan:
  denylist: [tasks, reminders]
visibility:
  settle_delay: 200ms
reveal:
  budget: 5s
  wheel_steps: 2
  fractional_offsets: [0, 0.5, 1]
groups_file: groups.yaml
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, `^https://calendar\.example\.com/`, cfg.HostPage.URLPattern)
	assert.Equal(t, []string{"tasks", "reminders"}, cfg.Scan.Denylist)
	assert.Equal(t, "groups.yaml", cfg.GroupsFile)

	assert.Equal(t, 200*time.Millisecond, cfg.VisibilityOptions().SettleDelay)
	rv := cfg.RevealOptions()
	assert.Equal(t, 5*time.Second, rv.Budget)
	assert.Equal(t, 2, rv.WheelSteps)
	assert.Equal(t, []float64{0, 0.5, 1}, rv.FractionalOffsets)
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("VG_HOST_PATTERN", "^https://calendar")
	path := writeFile(t, "viewgroups.yaml", `
host_page:
  url_pattern: "${VG_HOST_PATTERN}"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "^https://calendar", cfg.HostPage.URLPattern)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for name, cfg := range map[string]Config{
		"bad url pattern":     {HostPage: HostPageConfig{URLPattern: "("}},
		"bad duration":        {Visibility: VisibilityConfig{SettleDelay: "fast"}},
		"offset out of range": {Reveal: RevealConfig{FractionalOffsets: []float64{0, 1.5}}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsZeroConfig(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
}

func TestLoadGroups(t *testing.T) {
	path := writeFile(t, "groups.yaml", `
focus:
  name: Focus time
  selection: [work, team]
everything:
  name: Everything
  selection: [work, team, personal, family]
`)

	groups, err := LoadGroups(path)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	g, ok := groups.Group("focus")
	require.True(t, ok)
	assert.Equal(t, "Focus time", g.Name)
	assert.Equal(t, []string{"work", "team"}, g.Selection)

	_, ok = groups.Group("missing")
	assert.False(t, ok)
}

func TestLoadGroupsMissingFile(t *testing.T) {
	_, err := LoadGroups(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
