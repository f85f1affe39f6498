package spawn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(`
name: logs
stages:
  - cat /var/log/app.log
  - args: [grep, "two words"]
    ignore_error: true
  - args: [sort]
    dir: /tmp
    env: [LC_ALL=C]
`))
	require.NoError(t, err)
	assert.Equal(t, "logs", def.Name)

	cmds, err := def.Commands()
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, []string{"cat", "/var/log/app.log"}, cmds[0].Args)
	assert.Equal(t, []string{"grep", "two words"}, cmds[1].Args)
	assert.True(t, cmds[1].IgnoreError)
	assert.Equal(t, "/tmp", cmds[2].Dir)
	assert.Equal(t, []string{"LC_ALL=C"}, cmds[2].Env)
}

func TestDefinitionErrors(t *testing.T) {
	_, err := ParseDefinition([]byte("stages: [unclosed"))
	assert.Error(t, err)

	def, err := ParseDefinition([]byte("name: empty\n"))
	require.NoError(t, err)
	_, err = def.Commands()
	assert.ErrorContains(t, err, `pipeline "empty" has no stages`)

	def, err = ParseDefinition([]byte("stages:\n  - args: []\n"))
	require.NoError(t, err)
	_, err = def.Commands()
	assert.ErrorContains(t, err, "stage 0: args required")
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages:\n  - echo hi\n"), 0o644))
	def, err := LoadDefinition(path)
	require.NoError(t, err)
	cmds, err := def.Commands()
	require.NoError(t, err)
	assert.Equal(t, "echo hi", cmds[0].String())

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
