// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"os"
	"strconv"

	"github.com/urfave/cli"

	"github.com/asayers/tailsrv/internal/config"
	"github.com/asayers/tailsrv/internal/engine"
	"github.com/asayers/tailsrv/internal/logging"
)

// VERSION is injected by build flags when packaging official binaries.
var VERSION = "SELFBUILD"

// verbosityCount is a cli.Generic that counts its own occurrences, giving
// "-v" a repeatable meaning (cli.IntFlag takes a single value, not a tally)
// the way a counted flag behaves in other CLI toolkits.
type verbosityCount int

func (v *verbosityCount) String() string { return strconv.Itoa(int(*v)) }
func (v *verbosityCount) Set(string) error {
	*v++
	return nil
}

var verbosity verbosityCount

func main() {
	// The default version flag is named "version, v", which collides with
	// the verbosity flag below on urfave/cli's shared flag.FlagSet. Move it
	// to -V so both can coexist.
	cli.VersionFlag = cli.BoolFlag{Name: "version, V", Usage: "print the version and exit"}

	myApp := cli.NewApp()
	myApp.Name = "tailsrv"
	myApp.Usage = "stream a growing file to many TCP clients"
	myApp.ArgsUsage = "FILE"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "port,p",
			Usage: "TCP port to listen on (required, unless set via -c)",
		},
		cli.IntFlag{
			Name:  "pipe-capacity",
			Value: config.DefaultPipeCapacity,
			Usage: "bytes buffered per client between the watched file and its socket",
		},
		cli.BoolFlag{
			Name:  "keepalive",
			Usage: "enable TCP keepalive on client sockets (on by default; pass -keepalive=false, or set it via -c, to disable)",
		},
		cli.GenericFlag{
			Name:  "v",
			Value: &verbosity,
			Usage: "verbosity (repeatable: -v for debug-level logs)",
		},
		cli.BoolFlag{
			Name:  "quiet,q",
			Usage: "suppress all but error-level logs",
		},
		cli.BoolFlag{
			Name:  "journal",
			Usage: "send logs to the systemd journal instead of stderr, when available",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "write logs to this file instead of stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "load a JSON config file, overriding the flags above",
		},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Path = c.Args().First()
	cfg.Port = c.Int("port")
	cfg.PipeCapacity = c.Int("pipe-capacity")
	if c.IsSet("keepalive") {
		cfg.Keepalive = c.Bool("keepalive")
	}
	cfg.Verbosity = int(verbosity)
	cfg.Quiet = c.Bool("quiet")
	cfg.Journal = c.Bool("journal")
	cfg.LogFile = c.String("log")

	if path := c.String("c"); path != "" {
		if err := config.LoadJSON(&cfg, path); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	log.Infof("version: %s", VERSION)
	log.Infof("file: %s", cfg.Path)
	log.Infof("port: %d", cfg.Port)
	log.Infof("pipe-capacity: %d", cfg.PipeCapacity)
	log.Infof("keepalive: %v", cfg.Keepalive)

	eng, err := engine.New(engine.Options{
		Path:         cfg.Path,
		Port:         cfg.Port,
		PipeCapacity: cfg.PipeCapacity,
		Keepalive:    cfg.Keepalive,
		Log:          log,
	})
	if err != nil {
		return err
	}
	log.Infof("listening on: %s", eng.Addr())

	if err := logging.NotifyReady(); err != nil {
		log.Debugf("sd_notify ready: %v", err)
	}

	ctx := installSignalHandler(log)
	err = eng.Run(ctx)

	if nerr := logging.NotifyStopping(); nerr != nil {
		log.Debugf("sd_notify stopping: %v", nerr)
	}
	return err
}

// buildLogger wires stderr, a log file, or the systemd journal as the
// logging destination: an explicit -log file wins, then -journal when
// the journal socket is reachable, else stderr.
func buildLogger(cfg config.Config) (*logging.Logger, func(), error) {
	noop := func() {}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, noop, err
		}
		return logging.New(f, cfg.Verbosity, cfg.Quiet), func() { f.Close() }, nil
	}

	if cfg.Journal {
		if w := logging.JournalWriter(); w != nil {
			return logging.New(w, cfg.Verbosity, cfg.Quiet), noop, nil
		}
	}

	return logging.New(os.Stderr, cfg.Verbosity, cfg.Quiet), noop, nil
}

// installSignalHandler returns a context cancelled on SIGINT or SIGTERM,
// triggering the orderly shutdown drain in engine.Run.
func installSignalHandler(log *logging.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := waitForShutdownSignal()
		log.Infof("received %s, shutting down", sig)
		cancel()
	}()
	return ctx
}
