package main

import (
	"path/filepath"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/pkg/errors"
)

const version = "minbif-go-1.0"

const usage = `minbif, an IRC gateway to instant messaging networks.

Usage:
  minbif [options] CONFIG
  minbif -h | --help
  minbif -v | --version

Options:
  -h --help               Show this screen.
  -v --version            Show the version.
  -m --mode MODE          0 serves one client on stdin/stdout (inetd), 1 listens for clients (daemon) [default: 1].
  -p --pidfile FILE       Lock FILE and write our pid to it.`

// Modes.
const (
	modeInetd  = 0
	modeDaemon = 1
)

// Args are command line arguments.
type Args struct {
	ConfigFile string
	Mode       int
	PidFile    string
}

func getArgs(argv []string) (Args, error) {
	opts, err := docopt.ParseArgs(usage, argv, version)
	if err != nil {
		return Args{}, errors.Wrap(err, "invalid arguments")
	}
	return argsFromOpts(opts)
}

func argsFromOpts(opts docopt.Opts) (Args, error) {
	configFile, err := opts.String("CONFIG")
	if err != nil {
		return Args{}, errors.New("you must provide a configuration file")
	}

	configPath, err := filepath.Abs(configFile)
	if err != nil {
		return Args{}, errors.Wrapf(err,
			"unable to determine absolute path to config file: %s", configFile)
	}

	args := Args{ConfigFile: configPath, Mode: modeDaemon}

	if v, _ := opts["--mode"].(string); v != "" {
		mode, err := strconv.Atoi(v)
		if err != nil || (mode != modeInetd && mode != modeDaemon) {
			return Args{}, errors.Errorf("invalid mode: %s", v)
		}
		args.Mode = mode
	}

	if v, _ := opts["--pidfile"].(string); v != "" {
		args.PidFile = v
	}

	return args, nil
}
