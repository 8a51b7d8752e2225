package pool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZenLiuCN/dso"
	"github.com/ZenLiuCN/fn"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

const testFormat = "hosttoml"

func init() {
	dso.RegisterFileLoader(testFormat, func(path string) (dso.Module, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return dso.LoadBinary(dso.TypeKeyHost, data)
	})
	dso.Register("test.pool.hello", func(args ...any) (any, error) {
		return "hello", nil
	})
	dso.Register("test.pool.bye", func(args ...any) (any, error) {
		return "bye", nil
	})
}

func writeHost(t *testing.T, dir, name string, functions map[string]string) string {
	t.Helper()
	b, err := dso.EncodeHostManifest(dso.HostManifest{Name: name, Functions: functions})
	require.NoError(t, err)
	path := filepath.Join(dir, name+"."+testFormat)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func destroyed(m dso.Module) bool {
	return m.(interface{ Destroyed() bool }).Destroyed()
}

func call(t *testing.T, p *Pool, module, function string) any {
	t.Helper()
	f := p.MustRequire(module, function)
	defer f.Release()
	v, err := f.Call()
	require.NoError(t, err)
	return v
}

func TestNewPool(t *testing.T) {
	dir := t.TempDir()
	p := NewPool()
	fn.Panic(p.Load("greeter", writeHost(t, dir, "greeter", map[string]string{"Run": "test.pool.hello"}), ""))
	require.Equal(t, "hello", call(t, p, "greeter", "Run"))
	require.ErrorIs(t, p.Load("greeter", filepath.Join(dir, "greeter."+testFormat), ""), ErrAlreadyLoad)

	sp := spew.NewDefaultConfig()
	sp.MaxDepth = 3
	for name, m := range p.Modules {
		t.Log(sp.Sdump(name, m.TypeKey(), m.Imports()))
	}

	_, err := p.Require("greeter", "Missing")
	require.ErrorIs(t, err, dso.ErrNotFound)
	_, err = p.Require("nobody", "Run")
	require.ErrorIs(t, err, ErrMissingModule)
	require.Panics(t, func() { p.MustRequire("nobody", "Run") })

	require.NoError(t, p.Close())
	require.Empty(t, p.Names())
}

func TestLoadUnknownFormat(t *testing.T) {
	p := NewPool()
	err := p.Load("x", "module.unknown", "")
	require.ErrorIs(t, err, dso.ErrUnknownKind)
	require.Empty(t, p.Names())
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	a := writeHost(t, dir, "a", map[string]string{"Run": "test.pool.hello"})
	b := writeHost(t, dir, "b", map[string]string{"Run": "test.pool.bye"})
	manifest := filepath.Join(dir, "pool.toml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
[[module]]
name = "a"
path = "`+filepath.ToSlash(a)+`"

[[module]]
name = "b"
path = "`+filepath.ToSlash(b)+`"
format = "`+testFormat+`"
`), 0o644))

	p := NewPool()
	require.NoError(t, p.LoadManifest(manifest))
	require.Equal(t, []string{"a", "b"}, p.Names())
	require.Equal(t, "hello", call(t, p, "a", "Run"))
	require.Equal(t, "bye", call(t, p, "b", "Run"))

	err := p.LoadManifest(manifest)
	require.ErrorIs(t, err, ErrAlreadyLoad)
	require.Contains(t, err.Error(), `module "a"`)
	require.NoError(t, p.Close())
}

func TestManifestErrors(t *testing.T) {
	dir := t.TempDir()
	p := NewPool()

	err := p.LoadManifest(filepath.Join(dir, "missing.toml"))
	require.True(t, errors.Is(err, os.ErrNotExist))
	require.Contains(t, err.Error(), "manifest load failed")

	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("[[module]\nname ="), 0o644))
	err = p.LoadManifest(broken)
	require.Error(t, err)
	require.Contains(t, err.Error(), "manifest parse failed")

	pathless := filepath.Join(dir, "pathless.toml")
	require.NoError(t, os.WriteFile(pathless, []byte("[[module]]\nname = \"x\"\n"), 0o644))
	err = p.LoadManifest(pathless)
	require.Error(t, err)
	require.Contains(t, err.Error(), "without path")
	require.Empty(t, p.Names())
}

func TestReloadUnload(t *testing.T) {
	dir := t.TempDir()
	path := writeHost(t, dir, "m", map[string]string{"Run": "test.pool.hello"})
	p := NewPool()
	require.NoError(t, p.Load("m", path, ""))

	old := p.MustRequire("m", "Run")
	writeHost(t, dir, "m", map[string]string{"Run": "test.pool.bye"})
	require.NoError(t, p.Reload("m"))
	require.Equal(t, "bye", call(t, p, "m", "Run"))

	v, err := old.Call()
	require.NoError(t, err)
	require.Equal(t, "hello", v)
	owner := old.Owner()
	require.False(t, destroyed(owner))
	require.NoError(t, old.Release())
	require.True(t, destroyed(owner))

	require.NoError(t, p.Unload("m"))
	require.ErrorIs(t, p.Unload("m"), ErrNotLoad)
	require.ErrorIs(t, p.Reload("m"), ErrNotLoad)
	require.Empty(t, p.Names())
}

func TestCloseOrder(t *testing.T) {
	dir := t.TempDir()
	p := NewPool()
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, p.Load(name, writeHost(t, dir, name, nil), ""))
	}
	require.Equal(t, []string{"first", "second", "third"}, p.Names())
	mods := make([]dso.Module, 0, 3)
	for _, name := range p.Names() {
		mods = append(mods, p.Modules[name])
	}
	require.NoError(t, p.Close())
	for _, m := range mods {
		require.True(t, destroyed(m))
	}
	require.Empty(t, p.Modules)
}
