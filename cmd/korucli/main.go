// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/muesli/termenv"
	"github.com/sirupsen/logrus"
)

type command struct {
	usage string
	run   func(args []string, out *printer) error
}

var commands = map[string]command{
	"devices": {"list the Vulkan physical devices as JSON", runDevices},
	"import":  {"convert images and collada meshes into assets", runImport},
	"pack":    {"pack an asset directory into a kar archive", runPack},
	"inspect": {"describe assets and kar archives", runInspect},
	"bench":   {"render a scene on the headless device", runBench},
}

// printer writes styled command output.
type printer struct {
	out *termenv.Output
}

func newPrinter(w io.Writer) *printer {
	return &printer{out: termenv.NewOutput(w)}
}

func (p *printer) title(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.out.String(fmt.Sprintf(format, args...)).Bold())
}

func (p *printer) ok(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.out.String("ok").Foreground(p.out.Color("2")), fmt.Sprintf(format, args...))
}

func (p *printer) fail(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.out.String("fail").Foreground(p.out.Color("1")), fmt.Sprintf(format, args...))
}

func (p *printer) field(name string, value interface{}) {
	fmt.Fprintf(p.out, "  %s %v\n", p.out.String(name+":").Faint(), value)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <command> [flags]\n\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, commands[name].usage)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		usage()
		os.Exit(2)
	}
	if err := cmd.run(flag.Args()[1:], newPrinter(os.Stdout)); err != nil {
		logrus.WithError(err).Fatal(flag.Arg(0))
	}
}
