// Command lasercut drives a GRBL laser cutter over a serial line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/banshee-data/lasercut/internal/config"
	"github.com/banshee-data/lasercut/internal/connection"
	"github.com/banshee-data/lasercut/internal/db"
	"github.com/banshee-data/lasercut/internal/grbl"
	"github.com/banshee-data/lasercut/internal/version"
)

type options struct {
	configPath    string
	port          string
	listen        string
	dbPath        string
	mock          bool
	sync          bool
	writeSettings bool
	showVersion   bool
	listPorts     bool
}

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("lasercut", pflag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "device config file (.json, .yaml or .yml; default "+config.DefaultConfigPath+" if present)")
	fs.StringVar(&o.port, "port", "", "serial port of the controller board")
	fs.StringVar(&o.listen, "listen", "", "debug HTTP listen address (default localhost:8090)")
	fs.StringVar(&o.dbPath, "db", "", "job history database (default lasercut.db)")
	fs.BoolVar(&o.mock, "mock", false, "drive a simulated GRBL board instead of a serial port")
	fs.BoolVar(&o.sync, "sync", false, "wait for each acknowledgment before sending the next line")
	fs.BoolVar(&o.writeSettings, "write-settings", false, "send the default GRBL $ settings after connecting")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&o.listPorts, "list-ports", false, "list serial ports and exit")
	fs.BoolP("help", "h", false, "show help")
	return fs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var o options
	fs := newFlagSet(&o)
	fs.SetOutput(stdout)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := fs.GetBool("help"); help {
		printHelp(stdout, fs)
		return nil
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	if o.listPorts {
		ports, err := connection.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(stdout, p)
		}
		return nil
	}

	cfg, err := loadConfig(&o)
	if err != nil {
		return err
	}

	rest := fs.Args()
	cmd := "serve"
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}
	switch cmd {
	case "serve":
		return serve(ctx, cfg, o.writeSettings)
	case "run":
		if len(rest) != 1 {
			return fmt.Errorf("usage: lasercut run <job.yaml>")
		}
		return runJobFile(ctx, cfg, rest[0], o.writeSettings, stdout)
	case "migrate":
		return db.RunMigrateCommand(rest, cfg.GetDBPath(), stdin, stdout)
	case "settings":
		return printSettings(stdout, rest)
	case "help":
		printHelp(stdout, fs)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// loadConfig reads --config, or the default file when it exists, and
// applies flag overrides.
func loadConfig(o *options) (*config.DeviceConfig, error) {
	cfg := config.EmptyDeviceConfig()
	path := o.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.LoadDeviceConfig(path); err != nil {
			return nil, err
		}
	}
	cfg.Override(o.port, o.listen, o.dbPath, o.mock, o.sync)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// printSettings lists the default GRBL settings, or the ones named by $n
// codes in args.
func printSettings(w io.Writer, args []string) error {
	if len(args) == 0 {
		for _, s := range grbl.DefaultSettings {
			fmt.Fprintf(w, "%-10s (%s)\n", s, s.Description)
		}
		return nil
	}
	for _, arg := range args {
		code, err := strconv.Atoi(strings.TrimPrefix(arg, "$"))
		if err != nil {
			return fmt.Errorf("invalid setting code %q", arg)
		}
		s, ok := grbl.LookupSetting(code)
		if !ok {
			return fmt.Errorf("no default for setting $%d", code)
		}
		fmt.Fprintf(w, "%-10s (%s)\n", s, s.Description)
	}
	return nil
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `lasercut - GRBL laser cutter controller

Usage:
  lasercut [flags] [serve]        connect and serve the debug HTTP surface
  lasercut [flags] run <job>      run a job file and exit
  lasercut [flags] migrate <act>  manage the job history schema
  lasercut settings [$n ...]      print the default GRBL settings

Flags:
%s`, fs.FlagUsages())
}
