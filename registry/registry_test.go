package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := New()
	r.Register("noop", func(Env) error { return nil })

	fn, ok := r.Lookup("noop")
	require.True(t, ok)
	assert.NoError(t, fn(Env{}))

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"noop"}, r.Names())
}

func TestNilRegistryLookup(t *testing.T) {
	var r *Registry
	_, ok := r.Lookup("echo")
	assert.False(t, ok)
}

func runBuiltin(t *testing.T, args []string, stdin string) (string, error) {
	t.Helper()
	fn, ok := WithBuiltins().Lookup(args[0])
	require.True(t, ok, "builtin %s", args[0])
	var out bytes.Buffer
	err := fn(Env{Args: args, Stdin: strings.NewReader(stdin), Stdout: &out, Stderr: &out})
	return out.String(), err
}

func TestBuiltins(t *testing.T) {
	assert.Equal(t, []string{"cat", "echo", "false", "true"}, WithBuiltins().Names())

	out, err := runBuiltin(t, []string{"echo", "a", "b"}, "")
	require.NoError(t, err)
	assert.Equal(t, "a b\n", out)

	out, err = runBuiltin(t, []string{"echo", "-n", "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	out, err = runBuiltin(t, []string{"cat"}, "piped\n")
	require.NoError(t, err)
	assert.Equal(t, "piped\n", out)

	_, err = runBuiltin(t, []string{"true"}, "")
	assert.NoError(t, err)
	_, err = runBuiltin(t, []string{"false"}, "")
	assert.ErrorIs(t, err, ErrFalse)
}

func TestCatReadsFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.txt")
	second := filepath.Join(dir, "second.txt")
	require.NoError(t, os.WriteFile(first, []byte("from file\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("and another\n"), 0o644))

	out, err := runBuiltin(t, []string{"cat", first, second}, "from stdin\n")
	require.NoError(t, err)
	assert.Equal(t, "from file\nand another\n", out)
}

func TestCatMissingFile(t *testing.T) {
	_, err := runBuiltin(t, []string{"cat", filepath.Join(t.TempDir(), "absent")}, "from stdin\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "cat:")
}
