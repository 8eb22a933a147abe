// Command calseal expands, imports, builds invitations for and decrypts
// calendar events.
//
// Usage:
//
//	calseal [-config path] <expand|import|invite|decrypt> [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/cyp0633/libcalseal/internal/config"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{name: "expand", usage: "list the occurrences of every event in an ICS file", run: runExpand},
	{name: "import", usage: "validate and normalize an ICS file for import", run: runImport},
	{name: "invite", usage: "build an iTIP REQUEST or REPLY for an event", run: runInvite},
	{name: "decrypt", usage: "fetch and decrypt every event of a calendar", run: runDecrypt},
}

// app is the state shared by every subcommand
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    *os.File
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("can't load .env", "error", err)
	}

	global := flag.NewFlagSet("calseal", flag.ExitOnError)
	configPath := global.String("config", defaultConfigPath(), "path of the YAML configuration")
	global.Usage = func() {
		fmt.Fprintf(global.Output(), "usage: calseal [-config path] <command> [flags]\n\ncommands:\n")
		for _, c := range commands {
			fmt.Fprintf(global.Output(), "  %-8s %s\n", c.name, c.usage)
		}
		global.PrintDefaults()
	}
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("can't load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	name, args := global.Arg(0), global.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := c.run(ctx, &app{cfg: cfg, logger: logger, out: os.Stdout}, args)
		stop()
		if err != nil {
			logger.Error("command failed", "command", name, "error", err)
			os.Exit(1)
		}
		return
	}
	logger.Error("unknown command", "command", name)
	global.Usage()
	os.Exit(2)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "calseal.yaml"
	}
	return filepath.Join(dir, "calseal", "config.yaml")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if cfg == nil {
			return nil, err
		}
		slog.Warn("can't write default configuration", "path", path, "error", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
