package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/dirmirror/pkg/errors"
)

const (
	// InitialMirrorConfigVersion is the version assumed for config files
	// that don't specify one.
	InitialMirrorConfigVersion = "1.0"

	// DefaultInterval is the time between passes if none is configured.
	DefaultInterval = 30 * time.Second

	// DefaultRetries is the number of consecutive failed passes after which
	// the mirror gives up.
	DefaultRetries = 5
)

// supportedMirrorConfigVersions is the range of config versions that this
// binary understands.
var supportedMirrorConfigVersions = version.MustConstraints(
	version.NewConstraint(">= 1.0, < 2.0"))

// Mirror is the configuration of a mirror between two directories. It can be
// read from a file, and then overridden by command line flags.
type Mirror struct {
	Version  string   `json:"version,omitempty"`
	Source   string   `json:"source"`  // Required.
	Replica  string   `json:"replica"` // Required.
	Interval Duration `json:"interval,omitempty"`
	Retries  int      `json:"retries,omitempty"`
	LogPath  string   `json:"logPath,omitempty"`
	Workers  int      `json:"workers,omitempty"`
	Watch    bool     `json:"watch,omitempty"`
}

func (c Mirror) getVersion() string {
	return c.Version
}

// Duration is a time.Duration that's written as a string such as "30s" in
// config files.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("duration must be a string such as \"30s\": %s", err)
	}

	parsed, err := time.ParseDuration(str)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// DefaultMirror returns the configuration used for settings that are neither
// in the config file nor on the command line.
func DefaultMirror() Mirror {
	return Mirror{
		Version:  InitialMirrorConfigVersion,
		Interval: Duration{DefaultInterval},
		Retries:  DefaultRetries,
		Workers:  runtime.NumCPU(),
	}
}

// ParseMirror parses the mirror config at `path`. Settings that aren't in the
// file keep their default values. The result isn't validated, so that it can
// be completed by the caller.
func ParseMirror(path string) (Mirror, error) {
	path, err := homedirExpand(path)
	if err != nil {
		return Mirror{}, errors.WithContext(err, "expand config path")
	}

	config := DefaultMirror()
	if err := parseConfig(path, &config, supportedMirrorConfigVersions); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Mirror{}, errors.NewFriendlyError(
				"The config file doesn't exist at %q.", path)
		}
		return Mirror{}, errors.WithContext(err, "parse")
	}
	return config, nil
}

// Resolve expands `~` in the paths of the config and makes them absolute.
func (c Mirror) Resolve() (Mirror, error) {
	for _, path := range []*string{&c.Source, &c.Replica, &c.LogPath} {
		if *path == "" {
			continue
		}

		expanded, err := homedirExpand(*path)
		if err != nil {
			return Mirror{}, errors.WithContext(err, fmt.Sprintf("expand %q", *path))
		}

		abs, err := filepath.Abs(expanded)
		if err != nil {
			return Mirror{}, errors.WithContext(err, fmt.Sprintf("absolute path of %q", *path))
		}
		*path = abs
	}
	return c, nil
}

// Validate checks that the config describes a mirror that can be run. It
// should be called on a resolved config.
func (c Mirror) Validate() error {
	if c.Source == "" {
		return errors.MissingFieldError{Field: "source"}
	}

	if c.Replica == "" {
		return errors.MissingFieldError{Field: "replica"}
	}

	if c.Interval.Duration <= 0 {
		return errors.NewFriendlyError("The interval must be positive, but got %s.", c.Interval)
	}

	if c.Retries < 1 {
		return errors.NewFriendlyError("The number of retries must be at least 1, but got %d.", c.Retries)
	}

	if c.Workers < 1 {
		return errors.NewFriendlyError("The number of workers must be at least 1, but got %d.", c.Workers)
	}

	if c.Source == c.Replica {
		return errors.NewFriendlyError("The source and replica must be different directories.\n"+
			"Both are set to %q.", c.Source)
	}

	if isWithin(c.Source, c.Replica) || isWithin(c.Replica, c.Source) {
		return errors.NewFriendlyError("The source and replica can't be inside each other.\n"+
			"The source is %q, and the replica is %q.", c.Source, c.Replica)
	}
	return nil
}

// isWithin returns whether `path` is inside the directory `dir`.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
