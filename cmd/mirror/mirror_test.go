package mirror

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/dirmirror/pkg/config"
	"github.com/sidkik/dirmirror/pkg/errors"
	"github.com/sidkik/dirmirror/pkg/fswatch"
	"github.com/sidkik/dirmirror/pkg/scheduler"
)

func parseFlags(t *testing.T, args ...string) (options, *pflag.FlagSet) {
	var opts options
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addFlags(flags, &opts)
	require.NoError(t, flags.Parse(args))
	return opts, flags
}

func TestLoadConfig(t *testing.T) {
	dir := tempDir(t)
	configPath := filepath.Join(dir, "dirmirror.yaml")
	require.NoError(t, ioutil.WriteFile(configPath, []byte(`
version: "1.0"
source: /data/source
replica: /data/replica
interval: 1m
retries: 2
workers: 3
`), 0644))

	defaults := config.DefaultMirror()

	tests := []struct {
		name      string
		args      []string
		expConfig config.Mirror
		expError  error
	}{
		{
			name: "FlagsOnly",
			args: []string{"--source", "/source", "--replica", "/replica", "--interval", "5s"},
			expConfig: config.Mirror{
				Version:  config.InitialMirrorConfigVersion,
				Source:   "/source",
				Replica:  "/replica",
				Interval: config.Duration{Duration: 5 * time.Second},
				Retries:  config.DefaultRetries,
				Workers:  defaults.Workers,
			},
		},
		{
			name: "ConfigFile",
			args: []string{"--config", configPath},
			expConfig: config.Mirror{
				Version:  "1.0",
				Source:   "/data/source",
				Replica:  "/data/replica",
				Interval: config.Duration{Duration: time.Minute},
				Retries:  2,
				Workers:  3,
			},
		},
		{
			name: "FlagsOverrideConfigFile",
			args: []string{"--config", configPath, "--replica", "/backup", "--workers", "1", "--watch"},
			expConfig: config.Mirror{
				Version:  "1.0",
				Source:   "/data/source",
				Replica:  "/backup",
				Interval: config.Duration{Duration: time.Minute},
				Retries:  2,
				Workers:  1,
				Watch:    true,
			},
		},
		{
			name: "MissingReplica",
			args: []string{"--source", "/source"},
			expError: errors.NewFriendlyError(
				"The %s directory is required. Set it with --%s, or in the config file.",
				"replica", "replica"),
		},
		{
			name: "InvalidRetries",
			args: []string{"--source", "/source", "--replica", "/replica", "--retries", "0"},
			expError: errors.NewFriendlyError(
				"The number of retries must be at least 1, but got %d.", 0),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts, flags := parseFlags(t, test.args...)
			cfg, err := loadConfig(opts, flags)
			assert.Equal(t, test.expError, err)
			assert.Equal(t, test.expConfig, cfg)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts, flags := parseFlags(t, "--config", filepath.Join(tempDir(t), "missing.yaml"))
	_, err := loadConfig(opts, flags)
	assert.Error(t, err)

	var friendlyErr errors.FriendlyError
	assert.True(t, errors.As(err, &friendlyErr))
}

func TestSetupLogging(t *testing.T) {
	fs = afero.NewMemMapFs()
	var console bytes.Buffer
	stderr = &console
	defer func() {
		stderr = os.Stderr
		logrus.SetOutput(os.Stderr)
	}()

	closeLog, err := setupLogging("/var/log/dirmirror.log")
	require.NoError(t, err)
	logrus.Info("Hello")
	closeLog()

	contents, err := afero.ReadFile(fs, "/var/log/dirmirror.log")
	require.NoError(t, err)
	assert.Contains(t, string(contents), "msg=Hello")
	assert.Contains(t, console.String(), "msg=Hello")
}

func TestRunCommandClosesLogOnError(t *testing.T) {
	fs = afero.NewMemMapFs()
	var console bytes.Buffer
	stderr = &console
	stdout = ioutil.Discard
	defer func() {
		fs = afero.NewOsFs()
		stderr = os.Stderr
		stdout = os.Stdout
		logrus.SetOutput(os.Stderr)
	}()

	// The source is a file, so the pass fails.
	dir := tempDir(t)
	source := filepath.Join(dir, "source")
	require.NoError(t, ioutil.WriteFile(source, []byte("not a directory"), 0644))

	opts, flags := parseFlags(t, "--once",
		"--source", source,
		"--replica", filepath.Join(dir, "replica"),
		"--log-path", "/dirmirror.log")
	err := runCommand(opts, flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot source")

	// The log file was closed, and logs only go to stderr again.
	logrus.Info("After run")
	contents, err := afero.ReadFile(fs, "/dirmirror.log")
	require.NoError(t, err)
	assert.NotContains(t, string(contents), "After run")
	assert.Contains(t, console.String(), "After run")
}

func TestRunOnce(t *testing.T) {
	source, replica := tempDir(t), tempDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(source, "dir"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(source, "dir", "file"), []byte("contents"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(replica, "stale"), []byte("stale"), 0644))

	var out bytes.Buffer
	stdout = &out
	defer func() { stdout = os.Stdout }()

	cfg := testConfig(source, replica)
	require.NoError(t, run(context.Background(), cfg, options{once: true}))

	contents, err := ioutil.ReadFile(filepath.Join(replica, "dir", "file"))
	require.NoError(t, err)
	assert.Equal(t, "contents", string(contents))

	_, err = os.Stat(filepath.Join(replica, "stale"))
	assert.True(t, os.IsNotExist(err))

	assert.Contains(t, out.String(), "D=:0\tD+:1\tD-:0\tF=:0\tF+:1\tF-:1\tF>:0")
}

func TestRunOnceDryRun(t *testing.T) {
	source, replica := tempDir(t), tempDir(t)
	require.NoError(t, ioutil.WriteFile(filepath.Join(source, "file"), []byte("contents"), 0644))

	stdout = ioutil.Discard
	defer func() { stdout = os.Stdout }()

	cfg := testConfig(source, replica)
	require.NoError(t, run(context.Background(), cfg, options{once: true, dryRun: true}))

	_, err := os.Stat(filepath.Join(replica, "file"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunGivesUp(t *testing.T) {
	// The source is a file, so every pass fails.
	dir := tempDir(t)
	source := filepath.Join(dir, "source")
	require.NoError(t, ioutil.WriteFile(source, []byte("not a directory"), 0644))

	stdout = ioutil.Discard
	defer func() { stdout = os.Stdout }()

	cfg := testConfig(source, filepath.Join(dir, "replica"))
	cfg.Interval = config.Duration{Duration: time.Millisecond}
	cfg.Retries = 2

	err := run(context.Background(), cfg, options{})
	var exhausted scheduler.RetriesExhaustedError
	if assert.True(t, errors.As(err, &exhausted)) {
		assert.Equal(t, 2, exhausted.Attempts)
		assert.Contains(t, exhausted.Err.Error(), "snapshot source")
	}
}

func TestRunWatchFallback(t *testing.T) {
	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	watch = func(string) (chan struct{}, func() error, error) {
		return nil, nil, errors.New("too many open files")
	}
	defer func() { watch = fswatch.Watch }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig(tempDir(t), tempDir(t))
	cfg.Watch = true
	assert.NoError(t, run(ctx, cfg, options{}))

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, "Failed to watch the source directory. "+
				"Changes will only be mirrored every interval", entry.Message)
		}
	}
	assert.True(t, warned)
}

func TestRunWatchTriggersPass(t *testing.T) {
	source, replica := tempDir(t), tempDir(t)

	stdout = ioutil.Discard
	defer func() { stdout = os.Stdout }()

	// The clock never advances, so only the trigger can start passes.
	newClock = func() clockwork.Clock { return clockwork.NewFakeClock() }
	defer func() { newClock = clockwork.NewRealClock }()

	trigger := make(chan struct{}, 1)
	var stopped bool
	watch = func(root string) (chan struct{}, func() error, error) {
		assert.Equal(t, source, root)
		return trigger, func() error {
			stopped = true
			return nil
		}, nil
	}
	defer func() { watch = fswatch.Watch }()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(source, replica)
	cfg.Watch = true

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, options{})
	}()

	require.NoError(t, ioutil.WriteFile(filepath.Join(source, "file"), []byte("contents"), 0644))
	replicaFile := filepath.Join(replica, "file")
	assert.Eventually(t, func() bool {
		select {
		case trigger <- struct{}{}:
		default:
		}
		_, err := os.Stat(replicaFile)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the mirror to stop")
	}
	assert.True(t, stopped)
}

func testConfig(source, replica string) config.Mirror {
	cfg := config.DefaultMirror()
	cfg.Source = source
	cfg.Replica = replica
	cfg.Workers = 2
	return cfg
}

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "dirmirror")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}
