package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ZenLiuCN/dso"
	"github.com/ZenLiuCN/dso/goobj"
	"github.com/ZenLiuCN/dso/pool"
	"github.com/ZenLiuCN/fn"
	"github.com/urfave/cli/v2"
)

func inspect(ctx *cli.Context) (err error) {
	if ctx.NArg() == 0 {
		return fmt.Errorf("missing library list")
	}
	w := ctx.App.Writer
	for _, s := range ctx.Args().Slice() {
		var lib dso.NativeLibrary
		if lib, err = dso.OpenNative(s); err != nil {
			return fmt.Errorf("open %s: %w", s, err)
		}
		err = describe(w, s, lib)
		_ = lib.Close()
		if err != nil {
			return
		}
	}
	return
}

func describe(w io.Writer, path string, lib dso.NativeLibrary) error {
	fmt.Fprintf(w, "%s\n", path)
	if entry, ok := dso.EntryName(lib); ok {
		fmt.Fprintf(w, "\tentry: %s (exported: %t)\n", entry, lib.Symbol(entry) != 0)
	} else {
		fmt.Fprintf(w, "\tentry: -\n")
	}
	for _, name := range append([]string{dso.SymbolModuleCtx}, dso.ContextSlots...) {
		fmt.Fprintf(w, "\t%s: %t\n", name, lib.Symbol(name) != 0)
	}
	imports, err := dso.ImportsOf(lib)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "\timports: %d\n", len(imports))
	for i, d := range imports {
		fmt.Fprintf(w, "\t\t%d %s %d bytes\n", i, d.Kind, len(d.Payload))
	}
	return nil
}

func call(ctx *cli.Context) (err error) {
	a := ctx.Args().Slice()
	if len(a) < 2 {
		return fmt.Errorf("required arguments <library> <function>")
	}
	var l *dso.Library
	if l, err = dso.Open(a[0]); err != nil {
		return
	}
	defer fn.IgnoreClose(l)
	f, err := l.GetFunction(a[1])
	if err != nil {
		return
	}
	defer func() { _ = f.Release() }()
	args := make([]any, 0, len(a)-2)
	for _, s := range a[2:] {
		args = append(args, parseArg(s))
	}
	v, err := f.Call(args...)
	if err != nil {
		return
	}
	fmt.Fprintf(ctx.App.Writer, "%v\n", v)
	return
}

func parseArg(s string) any {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func pack(ctx *cli.Context) (err error) {
	var imports []dso.ImportDescriptor
	for _, s := range ctx.Args().Slice() {
		kind, file, ok := strings.Cut(s, "=")
		if !ok || kind == "" || file == "" {
			return fmt.Errorf("invalid import %q, want <kind>=<payload file>", s)
		}
		var payload []byte
		if payload, err = os.ReadFile(file); err != nil {
			return
		}
		imports = append(imports, dso.ImportDescriptor{Kind: kind, Payload: payload})
	}
	src := BlobSource(imports)
	if out := ctx.String("out"); out != "" {
		return os.WriteFile(out, []byte(src), 0o644)
	}
	_, err = io.WriteString(ctx.App.Writer, src)
	return
}

func goobjPack(ctx *cli.Context) (err error) {
	files := ctx.Args().Slice()
	if len(files) == 0 {
		return fmt.Errorf("missing object file list")
	}
	pkgs := make([]string, len(files))
	copy(pkgs, ctx.StringSlice("pkg"))
	var payload []byte
	if payload, err = goobj.Pack(files, pkgs); err != nil {
		return
	}
	return os.WriteFile(ctx.String("out"), payload, 0o644)
}

func goobjImports(ctx *cli.Context) (err error) {
	for _, s := range ctx.Args().Slice() {
		var payload []byte
		if payload, err = os.ReadFile(s); err != nil {
			return
		}
		var v goobj.Infos
		if v, err = goobj.Imports(payload); err != nil {
			return
		}
		fmt.Fprintf(ctx.App.Writer, "%s\n%s", s, v.String())
	}
	return
}

func poolList(ctx *cli.Context) (err error) {
	if ctx.NArg() != 1 {
		return fmt.Errorf("required argument <manifest.toml>")
	}
	p := pool.NewPool()
	defer fn.IgnoreClose(p)
	if err = p.LoadManifest(ctx.Args().First()); err != nil {
		return
	}
	for _, name := range p.Names() {
		m := p.Modules[name]
		fmt.Fprintf(ctx.App.Writer, "%s\t%s\timports=%d\n", name, m.TypeKey(), len(m.Imports()))
	}
	return
}
