//go:build darwin || freebsd || linux

package dso

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildFixture compiles testdata/fixture.c, plus a blob exporting imports when given,
// into a shared library inside a temporary directory.
func buildFixture(t *testing.T, imports []ImportDescriptor) string {
	t.Helper()
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no C compiler:", err)
	}
	dir := t.TempDir()
	src := []string{"testdata/fixture.c"}
	if imports != nil {
		blob := filepath.Join(dir, "blob.c")
		require.NoError(t, os.WriteFile(blob, []byte(blobSource(EncodeBlob(imports))), 0o644))
		src = append(src, blob)
	}
	out := filepath.Join(dir, "fixture.so")
	cmd := exec.Command(cc, append([]string{"-shared", "-fPIC", "-o", out}, src...)...)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("compile fixture: %v\n%s", err, b)
	}
	return out
}

func blobSource(blob []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "__attribute__((visibility(\"default\"), aligned(8))) const unsigned char %s[%d] = {", SymbolDevBlob, len(blob))
	for _, c := range blob {
		fmt.Fprintf(&b, "%d,", c)
	}
	b.WriteString("};\n")
	return b.String()
}

func TestNativeCall(t *testing.T) {
	l, err := Open(buildFixture(t, nil))
	require.NoError(t, err)
	defer l.Close()

	add := l.MustGetFunction("add")
	defer add.Release()
	v, err := add.Call(int64(2), 3)
	require.NoError(t, err)
	require.EqualValues(t, 5, v)

	entry := l.MustGetFunction(MainEntry)
	defer entry.Release()
	require.Equal(t, add.Addr(), entry.Addr())
	v, err = entry.Call(40, 2)
	require.NoError(t, err)
	require.EqualValues(t, 42, v)

	scale := l.MustGetFunction("scale")
	defer scale.Release()
	v, err = scale.Call(1.5, 4.0)
	require.NoError(t, err)
	require.Equal(t, 6.0, v)

	greet := l.MustGetFunction("greet")
	defer greet.Release()
	s, err := As[string](greet)("gopher")
	require.NoError(t, err)
	require.Equal(t, "hello, gopher", s)

	_, err = add.Call("x", 1)
	require.ErrorIs(t, err, ErrCall)
	require.Contains(t, err.Error(), "add expects two ints")
	require.Contains(t, l.LastError(), "add expects two ints")

	_, err = l.GetFunction("sub")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNativeContext(t *testing.T) {
	l, err := Open(buildFixture(t, nil))
	require.NoError(t, err)
	defer l.Close()

	v, err := l.MustGetFunction("context").Call()
	require.NoError(t, err)
	require.EqualValues(t, l.ID(), v)

	v, err = l.MustGetFunction("resolve").Call("scale")
	require.NoError(t, err)
	require.Equal(t, Handle(l.Symbol("scale")), v)

	v, err = l.MustGetFunction("resolve").Call("nothing")
	require.NoError(t, err)
	require.Equal(t, Handle(0), v)
}

func TestNativeEnv(t *testing.T) {
	Register("test.native.mul", func(args ...any) (any, error) {
		return args[0].(int64) * args[1].(int64), nil
	})
	defer Unregister("test.native.mul")
	Register("test.native.fail", func(args ...any) (any, error) {
		return nil, fmt.Errorf("refused %d args", len(args))
	})
	defer Unregister("test.native.fail")
	manifest, err := EncodeHostManifest(HostManifest{Name: "math", Functions: map[string]string{"mul": "test.native.mul"}})
	require.NoError(t, err)

	l, err := Open(buildFixture(t, []ImportDescriptor{{Kind: TypeKeyHost, Payload: manifest}}))
	require.NoError(t, err)
	defer l.Close()
	require.Len(t, l.Imports(), 1)

	callEnv := l.MustGetFunction("call_env")
	defer callEnv.Release()
	v, err := callEnv.Call("mul", 6, 7)
	require.NoError(t, err)
	require.EqualValues(t, 42, v)

	_, err = callEnv.Call("missing")
	require.ErrorIs(t, err, ErrCall)
	require.Contains(t, err.Error(), "not_found")

	_, err = callEnv.Call("test.native.fail", 1, 2)
	require.ErrorIs(t, err, ErrCall)
	require.Contains(t, err.Error(), "refused 2 args")
}

func TestNativeLifetime(t *testing.T) {
	l, err := Open(buildFixture(t, nil))
	require.NoError(t, err)
	add := l.MustGetFunction("add")
	require.NoError(t, l.Close())
	require.False(t, l.Destroyed())

	v, err := add.Call(1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)

	require.NoError(t, add.Release())
	require.True(t, l.Destroyed())
	require.Nil(t, handles.library(l.ID()))
}

func TestNativeConcurrentCalls(t *testing.T) {
	l, err := Open(buildFixture(t, nil))
	require.NoError(t, err)
	defer l.Close()
	var w sync.WaitGroup
	for i := 0; i < 8; i++ {
		w.Add(1)
		go func(i int) {
			defer w.Done()
			for n := 0; n < 200; n++ {
				f, err := l.GetFunction("add")
				if err != nil {
					t.Error(err)
					return
				}
				v, err := f.Call(i, n)
				if err != nil || v != int64(i+n) {
					t.Errorf("add(%d, %d) = %v, %v", i, n, v, err)
				}
				_ = f.Release()
			}
		}(i)
	}
	w.Wait()
	require.EqualValues(t, 1, l.References())
}

func TestNativeConcurrentErrors(t *testing.T) {
	l, err := Open(buildFixture(t, nil))
	require.NoError(t, err)
	defer l.Close()
	var w sync.WaitGroup
	for i := 0; i < 8; i++ {
		w.Add(1)
		go func(i int) {
			defer w.Done()
			name, want := "add", "add expects two ints"
			if i%2 == 0 {
				name, want = "scale", "scale expects two floats"
			}
			f := l.MustGetFunction(name)
			defer f.Release()
			for n := 0; n < 2000; n++ {
				_, err := f.Call("x")
				if err == nil || !strings.Contains(err.Error(), want) {
					t.Errorf("%s: got %v", name, err)
					return
				}
			}
		}(i)
	}
	w.Wait()
}

func TestNativeEnvStrings(t *testing.T) {
	Register("test.native.echo", func(args ...any) (any, error) {
		runtime.GC()
		return fmt.Sprintf("echo %d", args[0]), nil
	})
	defer Unregister("test.native.echo")
	l, err := Open(buildFixture(t, nil))
	require.NoError(t, err)
	defer l.Close()
	callEnv := l.MustGetFunction("call_env")
	defer callEnv.Release()

	var w sync.WaitGroup
	for i := 0; i < 4; i++ {
		w.Add(1)
		go func(i int) {
			defer w.Done()
			for n := 0; n < 100; n++ {
				v, err := callEnv.Call("test.native.echo", i*1000+n)
				runtime.GC()
				if want := fmt.Sprintf("echo %d", i*1000+n); err != nil || v != want {
					t.Errorf("got %v, %v, want %s", v, err, want)
					return
				}
			}
		}(i)
	}
	w.Wait()
}
