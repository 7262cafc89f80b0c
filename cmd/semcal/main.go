package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"golang.org/x/term"

	"semcal/internal/config"
	"semcal/internal/export"
	appLog "semcal/internal/log"
	"semcal/internal/output"
	"semcal/internal/period"
	"semcal/internal/portal"
	"semcal/internal/schedule"
	"semcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	period     string
	format     string
	out        string
	refresh    string
	debug      bool
}

// errEnvelope marks a run that wrote an error envelope instead of a calendar.
var errEnvelope = errors.New("error envelope written")

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	applyFlags(conf, flags)

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	defer appLog.Sync()

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("semcal starting", "version", version)
	appLog.Info("effective config",
		"portal", conf.Portal.BaseURL,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"study_period", conf.StudyPeriod,
		"no_class_weeks", len(conf.NoClassWeeks),
		"breaks", len(conf.Breaks),
		"format", conf.Output.Format,
		"time_format", conf.Output.TimeFormat,
		"refresh", conf.Refresh,
		"browser_login", conf.Portal.BrowserLogin,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner, err := newRunner(conf)
	if err != nil {
		appLog.Error("failed to set up export", err)
		os.Exit(1)
	}

	if conf.Refresh != "" {
		err = serve(ctx, conf, runner)
	} else {
		err = runOnce(ctx, runner, conf.Output.Path)
	}
	if err != nil {
		if !errors.Is(err, errEnvelope) {
			appLog.Error("export failed", err)
		}
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("semcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath(), "Path to config file")
	flag.StringVar(&cfg.period, "period", "", "Study period name or code (overrides config)")
	flag.StringVar(&cfg.format, "format", "", "Output format: json or ics (overrides config)")
	flag.StringVar(&cfg.out, "out", "", "Output file; stdout when empty (overrides config)")
	flag.StringVar(&cfg.refresh, "refresh", "", "Cron spec to re-export on, e.g. \"0 6 * * *\" (requires -out)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.period != "" {
		conf.StudyPeriod = flags.period
	}
	if flags.format != "" {
		conf.Output.Format = strings.ToLower(flags.format)
	}
	if flags.out != "" {
		conf.Output.Path = flags.out
	}
	if flags.refresh != "" {
		conf.Refresh = flags.refresh
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
}

func newRunner(conf *config.Config) (*export.Runner, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}
	cal := schedule.Calendar{Location: loc, FirstDay: conf.FirstWeekday()}

	skip, err := export.SkipWeeks(conf, cal)
	if err != nil {
		return nil, err
	}

	// One reader for every prompt so typed-ahead input is not lost.
	stdin := bufio.NewReader(os.Stdin)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	readPassword := func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
	if err := promptCredentials(conf, interactive, stdin, os.Stderr, readPassword); err != nil {
		return nil, err
	}

	resolver := &period.Resolver{}
	if interactive && conf.Refresh == "" {
		resolver.Prompter = &period.Terminal{In: stdin, Out: os.Stderr}
	}

	portalConf := conf.Portal
	return &export.Runner{
		Connect: func() (export.Portal, error) {
			s, err := portal.New(portalConf, loc)
			if err != nil {
				return nil, err
			}
			if portalConf.BrowserLogin {
				return browserSession{s}, nil
			}
			return s, nil
		},
		Resolver: resolver,
		Calendar: cal,
		Skip:     skip,
		Output:   output.FromConfig(conf.Output, loc),
		Username: conf.Portal.Username,
		Password: conf.Portal.Password,
		Period:   conf.StudyPeriod,
	}, nil
}

// browserSession logs in through headless Chromium.
type browserSession struct {
	*portal.Session
}

func (b browserSession) Login(ctx context.Context, username, password string) error {
	return b.LoginWithBrowser(ctx, username, password)
}

// promptCredentials asks for whatever the environment did not supply.
func promptCredentials(conf *config.Config, interactive bool, in *bufio.Reader, out io.Writer, readPassword func() ([]byte, error)) error {
	if conf.Portal.Username != "" && conf.Portal.Password != "" {
		return nil
	}
	if !interactive {
		return fmt.Errorf("credentials missing: set %s and %s", config.EnvUsername, config.EnvPassword)
	}

	if conf.Portal.Username == "" {
		fmt.Fprint(out, "Student ID: ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read username: %w", err)
		}
		conf.Portal.Username = strings.TrimSpace(line)
	}
	if conf.Portal.Password == "" {
		fmt.Fprint(out, "Password: ")
		pw, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		conf.Portal.Password = string(pw)
	}
	return nil
}

func runOnce(ctx context.Context, runner *export.Runner, path string) error {
	out, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if err := output.Write(path, out.Data, os.Stdout); err != nil {
		return err
	}
	if out.Failed {
		return errEnvelope
	}
	return nil
}

// serve re-runs the export on the configured cron schedule until ctx is
// cancelled. Failed runs are logged and the previous output file is kept.
func serve(ctx context.Context, conf *config.Config, runner *export.Runner) error {
	if conf.Output.Path == "" {
		return errors.New("refresh mode needs an output file (-out or output.path)")
	}
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	var feed *web.Server
	if conf.Serve.Listen != "" {
		feed = web.NewServer(conf.Serve, conf.Output.Path, conf.Output.Format)
	}
	record := func(code string, classes int, err error) {
		if feed != nil {
			feed.Record(time.Now(), code, classes, err)
		}
	}

	job := func() {
		started := time.Now()
		out, err := runner.Run(ctx)
		switch {
		case err != nil:
			appLog.Error("scheduled export failed", err)
			record("", 0, err)
			return
		case out.Failed:
			appLog.Warn("scheduled export returned an error envelope; keeping previous output", "path", conf.Output.Path)
			record(out.Period.Code, 0, out.Err)
			return
		}
		if err := output.Write(conf.Output.Path, out.Data, nil); err != nil {
			appLog.Error("failed to write export", err, "path", conf.Output.Path)
			record(out.Period.Code, 0, err)
			return
		}
		record(out.Period.Code, out.Events, nil)
		appLog.Info("scheduled export written", "path", conf.Output.Path, "classes", out.Events, "took", time.Since(started).String())
	}

	if _, err := c.AddFunc(conf.Refresh, job); err != nil {
		return fmt.Errorf("invalid refresh spec %q: %w", conf.Refresh, err)
	}

	// First export right away so the file exists before the first tick.
	job()

	c.Start()
	appLog.Info("refresh scheduler started", "spec", conf.Refresh, "path", conf.Output.Path)

	var serveErr error
	if feed != nil {
		serveErr = feed.Run(ctx)
	} else {
		<-ctx.Done()
	}
	appLog.Info("shutting down")
	<-c.Stop().Done()
	return serveErr
}
