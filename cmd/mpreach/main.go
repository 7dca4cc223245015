/*
mpreach searches a marketplace for listings matching a keyword and sends a
message to the sellers of the listings that pass the filter.

Have a look at the README.md for more information.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/mpreach/mpreach/internal/browser"
	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/ledger"
	"github.com/mpreach/mpreach/internal/log"
	"github.com/mpreach/mpreach/internal/marketplace"
	"github.com/mpreach/mpreach/internal/output"
	"github.com/mpreach/mpreach/internal/outreach"
	"github.com/mpreach/mpreach/internal/pacing"
	"github.com/mpreach/mpreach/internal/session"
	"github.com/mpreach/mpreach/internal/types"
	"gopkg.in/yaml.v3"
)

var version = "dev"

const name = "mpreach"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug' and store screenshots of failed listings."`

	Login    LoginCmd    `cmd:"" help:"Open a browser window to log in manually and save the session."`
	Search   SearchCmd   `cmd:"" help:"Search listings and report the ones that pass the filter without sending messages."`
	Outreach OutreachCmd `cmd:"" help:"Search listings and message the sellers of the ones that pass the filter."`
	Config   ConfigCmd   `cmd:"" help:"Print the effective configuration."`
}

type LoginCmd struct {
	Config string `short:"c" default:"./config.yaml" help:"The location of the configuration file."`
}

func (lc *LoginCmd) Run(ctx context.Context) error {
	cfg, err := config.NewConfig(lc.Config)
	if err != nil {
		return err
	}
	// a human has to log in
	cfg.Browser.Headless = false
	b, err := browser.NewChrome(ctx, &cfg.Browser)
	if err != nil {
		return err
	}
	defer b.Close()

	client := marketplace.NewClient(b, &cfg.Marketplace, nil)
	defer client.Shutdown()
	sess, err := client.Login(ctx, cfg.Session.LoginWait)
	if err != nil {
		return err
	}
	if err := session.NewStore(cfg.Session.Path).Save(sess); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("saved %d cookies to %s", len(sess.Cookies), cfg.Session.Path))
	return nil
}

type SearchCmd struct {
	Config string `short:"c" default:"./config.yaml" help:"The location of the configuration file."`
	Stdout bool   `short:"o" help:"If set to true the report will be written to stdout despite any other writer configuration."`
}

func (sc *SearchCmd) Run(ctx context.Context) error {
	return run(ctx, sc.Config, sc.Stdout, types.ModeSearch)
}

type OutreachCmd struct {
	Config string `short:"c" default:"./config.yaml" help:"The location of the configuration file."`
	Stdout bool   `short:"o" help:"If set to true the report will be written to stdout despite any other writer configuration."`
}

func (oc *OutreachCmd) Run(ctx context.Context) error {
	return run(ctx, oc.Config, oc.Stdout, types.ModeOutreach)
}

type ConfigCmd struct {
	Config string `short:"c" default:"./config.yaml" help:"The location of the configuration file."`
}

func (cc *ConfigCmd) Run() error {
	cfg, err := config.NewConfig(cc.Config)
	if err != nil {
		return err
	}
	yamlData, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("error while marshalling. %v", err)
	}
	fmt.Print(string(yamlData))
	if err := cfg.Validate(true); err != nil {
		slog.Warn(err.Error())
	}
	return nil
}

// run executes a search or outreach run. Preconditions are checked before
// the browser is started.
func run(ctx context.Context, configPath string, stdout bool, mode types.Mode) error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(mode == types.ModeOutreach); err != nil {
		return err
	}
	if stdout {
		cfg.Writer.Type = string(output.STDOUT_WRITER_TYPE)
	}
	sess, err := session.NewStore(cfg.Session.Path).Load()
	if err != nil {
		return err
	}
	writer, err := output.NewWriter(&cfg.Writer)
	if err != nil {
		return err
	}

	var l ledger.Ledger = ledger.NewMemory()
	if mode == types.ModeOutreach {
		l, err = ledger.New(ctx, &cfg.Ledger)
		if err != nil {
			return err
		}
	}
	defer l.Close()

	pacer, typist := pacing.New(&cfg.Pacing)
	b, err := browser.NewChrome(ctx, &cfg.Browser)
	if err != nil {
		return err
	}
	defer b.Close()

	client := marketplace.NewClient(b, &cfg.Marketplace, typist)
	client.DebugDir = cfg.Browser.DebugDir
	defer client.Shutdown()

	engine, err := outreach.New(cfg, mode, client, l, pacer)
	if err != nil {
		return err
	}
	report, runErr := engine.Run(ctx, sess)
	if err := writer.Write(report); err != nil {
		slog.Error(fmt.Sprintf("failed to write report: %v", err))
	}
	return runErr
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx := kong.Parse(&cli,
		kong.Name(name),
		kong.UsageOnError(),
		kong.Vars{
			"version": string(cli.Version),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	config.Debug = cli.Debug
	log.InitializeDefaultLogger()

	// it's fine if there is no .env file, the environment might be set up otherwise
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(fmt.Sprintf("failed to load .env file: %v", err))
	}

	err := kctx.Run()
	if err != nil {
		slog.Error(err.Error())
	}
	kctx.FatalIfErrorf(err)
}
