package goobj

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
	"github.com/pkujhd/goloader/obj"
)

// Pack reads object files (or archives) of the given package paths and serializes them as
// a goobj import payload.
func Pack(files, pkgs []string) ([]byte, error) {
	if len(files) != len(pkgs) {
		return nil, fmt.Errorf("goobj pack: %d files for %d packages", len(files), len(pkgs))
	}
	pkgs = slices.Clone(pkgs)
	for i, p := range pkgs {
		if p == "" {
			pkgs[i] = "main"
		}
	}
	l, err := goloader.ReadObjs(files, pkgs)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err = goloader.Serialize(l, &b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Infos is a stringer slice of Info
type Infos []*Info

func (i Infos) String() string {
	s := strings.Builder{}
	for _, v := range i {
		s.WriteString(v.PkgPath)
		s.WriteString(" (")
		s.WriteString(v.File)
		s.WriteString(")\n")
		s.WriteString(v.String())
	}
	return s.String()
}

// Info contains the imports of one package inside a payload
type Info struct {
	File    string
	PkgPath string
	Imports map[string]string // with pairs of package import path and version
}

func (i Info) String() string {
	s := strings.Builder{}
	k := fn.MapKeys(i.Imports)
	slices.Sort(k)
	for _, p := range k {
		if v := i.Imports[p]; v != "" {
			s.WriteString(fmt.Sprintf("\t%s@%s\n", p, v))
		} else {
			s.WriteString(fmt.Sprintf("\t%s\n", p))
		}
	}
	return s.String()
}

// Imports resolves the imported packages of a payload, with versions when they come from modules.
func Imports(payload []byte) (infos Infos, err error) {
	var l *goloader.Linker
	if l, err = goloader.UnSerialize(bytes.NewReader(payload)); err != nil {
		return
	}
	for _, pkg := range l.Packages {
		info := parseInfo(pkg)
		info.File = pkg.File
		info.PkgPath = pkg.PkgPath
		infos = append(infos, info)
	}
	return
}

func parseInfo(v *obj.Pkg) (i *Info) {
	i = new(Info)
	i.Imports = make(map[string]string)
	for _, pkg := range v.ImportPkgs {
		i.Imports[pkg] = ""
	}
	k := fn.MapKeys(i.Imports)
	for _, f := range v.CUFiles {
		f = strings.TrimPrefix(f, "gofile..")
		if strings.HasPrefix(f, "$GOROOT") {
			continue
		}
		if strings.IndexByte(f, '!') >= 0 {
			f = unescapePath(f)
		}
		for _, s := range k {
			x := strings.Index(f, s)
			if x < 0 || i.Imports[s] != "" {
				continue
			}
			f = f[x:]
			i.Imports[s] = moduleVersion(f)
		}
	}
	return
}

// moduleVersion extracts v1.2.3 out of a module cache path like pkg@v1.2.3/file.go.
func moduleVersion(f string) string {
	y := strings.IndexByte(f, '@')
	if y < 0 {
		return ""
	}
	ver := f[y+1:]
	if y = strings.IndexByte(ver, '/'); y >= 0 {
		ver = ver[:y]
	}
	return ver
}

// unescapePath reverses the module cache case encoding: "!a" is "A".
func unescapePath(f string) string {
	v := strings.Builder{}
	x := false
	for _, i := range []byte(f) {
		switch {
		case i == '!':
			x = true
		case x:
			x = false
			v.WriteByte(i - 32)
		default:
			v.WriteByte(i)
		}
	}
	return v.String()
}
