package solver

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Options are the solver settings a script can change with set-option.
type Options struct {
	PrintSuccess  bool `yaml:"print-success"`
	ProduceModels bool `yaml:"produce-models"`
	DumpModels    bool `yaml:"dump-models"`
	// TimeoutMS bounds each check-sat. Zero means no limit.
	TimeoutMS  int `yaml:"timeout"`
	RandomSeed int `yaml:"random-seed"`
}

// DefaultOptions are used when no profile is configured.
func DefaultOptions() Options {
	return Options{ProduceModels: true}
}

// LoadProfile reads an options profile from a YAML file. Keys that are
// absent keep their DefaultOptions value.
func LoadProfile(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read solver profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse solver profile %s: %w", path, err)
	}
	if opts.TimeoutMS < 0 {
		return opts, fmt.Errorf("parse solver profile %s: negative timeout", path)
	}
	return opts, nil
}

var (
	profileOnce sync.Once
	profileOpts Options
	profileErr  error
)

// ProfileDefaults returns the process-wide default options. The profile at
// path is read on the first call only; later calls return the cached result
// whatever path they pass. An empty path selects DefaultOptions.
func ProfileDefaults(path string) (Options, error) {
	profileOnce.Do(func() {
		if path == "" {
			profileOpts = DefaultOptions()
			return
		}
		profileOpts, profileErr = LoadProfile(path)
	})
	return profileOpts, profileErr
}

// set applies one set-option attribute.
func (o *Options) set(key, value string) error {
	switch key {
	case ":print-success":
		return parseBool(value, &o.PrintSuccess)
	case ":produce-models":
		return parseBool(value, &o.ProduceModels)
	case ":dump-models":
		return parseBool(value, &o.DumpModels)
	case ":timeout":
		return parseUint(value, &o.TimeoutMS)
	case ":random-seed":
		return parseUint(value, &o.RandomSeed)
	default:
		return errUnsupported
	}
}

// get renders one option for get-option.
func (o *Options) get(key string) (string, error) {
	switch key {
	case ":print-success":
		return strconv.FormatBool(o.PrintSuccess), nil
	case ":produce-models":
		return strconv.FormatBool(o.ProduceModels), nil
	case ":dump-models":
		return strconv.FormatBool(o.DumpModels), nil
	case ":timeout":
		return strconv.Itoa(o.TimeoutMS), nil
	case ":random-seed":
		return strconv.Itoa(o.RandomSeed), nil
	default:
		return "", errUnsupported
	}
}

func parseBool(s string, dst *bool) error {
	switch s {
	case "true":
		*dst = true
	case "false":
		*dst = false
	default:
		return fmt.Errorf("expected true or false, got %s", s)
	}
	return nil
}

func parseUint(s string, dst *int) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("expected a numeral, got %s", s)
	}
	*dst = n
	return nil
}
