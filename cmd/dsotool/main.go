package main

import (
	"log"
	"os"

	"github.com/ZenLiuCN/dso"
	_ "github.com/ZenLiuCN/dso/goobj"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Usage = "dynamic shared library module tool"
	app.Name = "dsotool"
	app.Description = "inspect, call and prepare shared library modules for the dso loader"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
	}
	app.Before = func(ctx *cli.Context) error {
		if ctx.Bool("debug") {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			dso.SetLogger(l)
		}
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:      "inspect",
			Action:    inspect,
			Usage:     "display reserved symbols and nested imports of shared libraries",
			ArgsUsage: "<library>...",
		},
		{
			Name:      "call",
			Action:    call,
			Usage:     "call a packed function, arguments are parsed as int, float or string",
			ArgsUsage: "<library> <function> [argument]...",
		},
		{
			Name:   "pack",
			Action: pack,
			Usage:  "generate C source defining the nested import blob",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, default stdout"},
			},
			ArgsUsage: "<kind>=<payload file>...",
		},
		{
			Name:   "goobj",
			Action: goobjPack,
			Usage:  "serialize go object files as a goobj import payload",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path of each object file, default main"},
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "output file"},
			},
			ArgsUsage: "<object file>...",
		},
		{
			Name:      "imports",
			Action:    goobjImports,
			Usage:     "display imports of goobj payloads",
			ArgsUsage: "<payload>...",
		},
		{
			Name:      "pool",
			Action:    poolList,
			Usage:     "load a pool manifest and list its modules",
			ArgsUsage: "<manifest.toml>",
		},
	}
	return app
}
