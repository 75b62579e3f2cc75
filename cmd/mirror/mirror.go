package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sidkik/dirmirror/cmd/util"
	"github.com/sidkik/dirmirror/pkg/config"
	"github.com/sidkik/dirmirror/pkg/errors"
	"github.com/sidkik/dirmirror/pkg/fswatch"
	"github.com/sidkik/dirmirror/pkg/scheduler"
	"github.com/sidkik/dirmirror/pkg/sync"
)

// Mocked out for unit testing.
var (
	fs                 = afero.NewOsFs()
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
	watch              = fswatch.Watch
	newClock           = clockwork.NewRealClock
)

type options struct {
	configPath string
	once       bool
	dryRun     bool

	// flags holds the values of the flags that can also be set in the config
	// file. They're only used if the flag was set explicitly.
	flags config.Mirror
}

// New creates a new `run` command.
func New() *cobra.Command {
	var opts options
	cobraCmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror a source directory onto a replica directory",
		Long: `Mirror a source directory onto a replica directory until interrupted.

Every interval, the files in both directories are fingerprinted from their
contents and modification times. The replica is then changed to match the
source: files that were renamed are moved rather than copied again, and files
and directories that are no longer in the source are deleted.

Settings can be read from a YAML file with --config. Flags take precedence over
the file.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := runCommand(opts, cmd.Flags()); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	addFlags(cobraCmd.Flags(), &opts)
	return cobraCmd
}

// runCommand returns instead of exiting on errors, so that the log file is
// closed before the process exits.
func runCommand(opts options, flags *pflag.FlagSet) error {
	cfg, err := loadConfig(opts, flags)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.LogPath)
	if err != nil {
		return errors.WithContext(err, "open log file")
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, opts)
}

func addFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVar(&opts.configPath, "config", "",
		"Path to a YAML config file with the mirror settings")
	flags.StringVar(&opts.flags.Source, "source", "",
		"The directory to mirror (required)")
	flags.StringVar(&opts.flags.Replica, "replica", "",
		"The directory to keep identical to the source (required)")
	flags.DurationVar(&opts.flags.Interval.Duration, "interval", config.DefaultInterval,
		"The time between two passes")
	flags.IntVar(&opts.flags.Retries, "retries", config.DefaultRetries,
		"The number of passes that may fail in a row before giving up")
	flags.StringVar(&opts.flags.LogPath, "log-path", "",
		"Also write the logs to this file")
	flags.IntVar(&opts.flags.Workers, "workers", config.DefaultMirror().Workers,
		"The number of files to fingerprint in parallel")
	flags.BoolVar(&opts.flags.Watch, "watch", false,
		"Also start a pass when the source changes, rather than only every interval")
	flags.BoolVar(&opts.once, "once", false,
		"Run a single pass and exit")
	flags.BoolVar(&opts.dryRun, "dry-run", false,
		"Log the changes that would be made to the replica without making them")
}

// loadConfig merges the config file, if any, with the flags that were set
// explicitly, and validates the result.
func loadConfig(opts options, flags *pflag.FlagSet) (config.Mirror, error) {
	cfg := config.DefaultMirror()
	if opts.configPath != "" {
		var err error
		cfg, err = config.ParseMirror(opts.configPath)
		if err != nil {
			return config.Mirror{}, errors.WithContext(err, "parse config")
		}
	}

	overrides := []struct {
		flag  string
		apply func()
	}{
		{"source", func() { cfg.Source = opts.flags.Source }},
		{"replica", func() { cfg.Replica = opts.flags.Replica }},
		{"interval", func() { cfg.Interval = opts.flags.Interval }},
		{"retries", func() { cfg.Retries = opts.flags.Retries }},
		{"log-path", func() { cfg.LogPath = opts.flags.LogPath }},
		{"workers", func() { cfg.Workers = opts.flags.Workers }},
		{"watch", func() { cfg.Watch = opts.flags.Watch }},
	}
	for _, override := range overrides {
		if flags.Changed(override.flag) {
			override.apply()
		}
	}

	cfg, err := cfg.Resolve()
	if err != nil {
		return config.Mirror{}, errors.WithContext(err, "resolve paths")
	}

	if err := cfg.Validate(); err != nil {
		if missing, ok := err.(errors.MissingFieldError); ok {
			return config.Mirror{}, errors.NewFriendlyError(
				"The %s directory is required. Set it with --%s, or in the config file.",
				missing.Field, missing.Field)
		}
		return config.Mirror{}, err
	}
	return cfg, nil
}

// setupLogging makes logrus write to `logPath` in addition to stderr. The
// returned function closes the log file.
func setupLogging(logPath string) (func(), error) {
	if logPath == "" {
		return func() {}, nil
	}

	logFile, err := fs.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		// Show the full timestamp rather than the time elapsed since dirmirror
		// started, so that passes can be found in the log file.
		FullTimestamp: true,

		// Disable colors since we're logging to a file.
		DisableColors: true,
	})
	logrus.SetOutput(io.MultiWriter(stderr, logFile))
	return func() {
		logrus.SetOutput(stderr)
		if err := logFile.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close log file")
		}
	}, nil
}

func run(ctx context.Context, cfg config.Mirror, opts options) error {
	log := logrus.WithFields(logrus.Fields{
		"source":  cfg.Source,
		"replica": cfg.Replica,
	})

	mutator := sync.NewFSMutator()
	if opts.dryRun {
		mutator = sync.NewDryRunMutator(logrus.StandardLogger())
		log.Info("Dry run. The replica won't be changed")
	}

	mirror := sync.Mirror{
		Source:  cfg.Source,
		Replica: cfg.Replica,
		Workers: cfg.Workers,
		Mutator: mutator,
		Log:     logrus.StandardLogger(),
	}

	if opts.once {
		return runOnce(ctx, mirror)
	}

	var trigger <-chan struct{}
	if cfg.Watch {
		changes, stopWatch, err := watch(cfg.Source)
		if err != nil {
			log.WithError(err).Warn("Failed to watch the source directory. " +
				"Changes will only be mirrored every interval")
		} else {
			defer func() {
				if err := stopWatch(); err != nil {
					log.WithError(err).Warn("Failed to stop watching the source directory")
				}
			}()
			trigger = changes
		}
	}

	s := scheduler.Scheduler{
		Interval: cfg.Interval.Duration,
		Retries:  cfg.Retries,
		Pass:     mirror.Sync,
		Trigger:  trigger,
		Clock:    newClock(),
		Log:      logrus.StandardLogger(),
		Console:  stdout,
	}

	log.WithField("interval", cfg.Interval.Duration).Info("Starting mirror")
	if err := s.Run(ctx); err != nil {
		return errors.WithContext(err, "mirror")
	}
	log.Info("Stopped mirror")
	return nil
}

func runOnce(ctx context.Context, mirror sync.Mirror) error {
	start := time.Now()
	res, err := mirror.Sync(ctx)
	if err != nil {
		return errors.WithContext(err, "mirror")
	}

	summary := res.Summary()
	logrus.WithFields(summary.Fields()).
		WithField("elapsed", time.Since(start)).
		Info("Completed pass")
	fmt.Fprintf(stdout, "%s\n%s\n", summary, sync.Legend)
	return nil
}
