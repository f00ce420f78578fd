package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/ezyang/scubaduck"
	"github.com/ezyang/scubaduck/util"
)

var version string

func parseOptions(args []string) *scubaduck.Options {
	var opts struct {
		DB      string `long:"db" description:"Dataset to load: CSV, SQLite or DuckDB file (default: bundled sample)" value-name:"path" env:"SCUBADUCK_DB"`
		Listen  string `long:"listen" description:"Bind address" value-name:"addr"`
		Config  string `long:"config" description:"YAML server config file" value-name:"filename"`
		Help    bool   `long:"help" description:"Show this help"`
		Version bool   `long:"version" description:"Show this version"`
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[option...]"
	args, err := parser.ParseArgs(args)
	if err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if len(args) > 0 {
		fmt.Printf("Unexpected arguments: %v\n\n", args)
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	return &scubaduck.Options{
		DBPath:     opts.DB,
		Listen:     opts.Listen,
		ConfigFile: opts.Config,
	}
}

func main() {
	util.InitSlog()
	options := parseOptions(os.Args[1:])

	if err := scubaduck.Run(options); err != nil {
		log.Fatal(err)
	}
}
