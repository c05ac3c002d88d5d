// Package config implements the ConfigView (spec §6, C11): a flat key/value
// accessor assembled from an optional YAML file, a process .env file, and
// CLI-style arguments, with leading hyphens stripped on ingress. Mandatory
// keys fail fast with an explicit missing-key error; optional keys return
// an absent value. Grounded on the teacher's internal/config/config.go
// (YAML-file loading via gopkg.in/yaml.v3, environment-variable overlay) and
// the benchmark harness's `godotenv.Load` best-effort `.env` pattern
// (test/benchmark/benchmark_helpers.go), generalized from a fixed struct of
// per-service addresses to an open flat key namespace plus typed,
// per-job-entry-point accessors built on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
)

// View is the flat, hyphen-stripped key/value config bag spec §6 describes.
type View struct {
	flat map[string]string
}

// Load assembles a View from, in increasing precedence: the process
// environment (after a best-effort `.env` load; consulted by Get only when a
// key is absent from the file and args), a YAML file at yamlPath (nested keys
// flattened with "." join, e.g. aws: {region: ...} → "aws.region"), and args
// (CLI-style "--key value"/"--key=value"/"key=value" entries, stripped of a
// leading "--" or "-"). yamlPath may be empty to skip the file.
func Load(yamlPath string, args []string) (*View, error) {
	_ = godotenv.Load()

	flat := make(map[string]string)
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
			}
		} else {
			var raw map[string]interface{}
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
			flattenYAML("", raw, flat)
		}
	}

	for k, v := range parseArgs(args) {
		flat[k] = v
	}

	return &View{flat: flat}, nil
}

// flattenYAML walks raw, joining nested map keys with "." and collecting
// scalar leaves into out.
func flattenYAML(prefix string, raw map[string]interface{}, out map[string]string) {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flattenYAML(key, val, out)
		default:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
}

// parseArgs accepts "--key value", "--key=value", and "key=value" forms,
// stripping a leading "--" or "-" from the key (spec §6: "all keys are
// accepted with or without a leading -- prefix").
func parseArgs(args []string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := strings.TrimPrefix(strings.TrimPrefix(args[i], "--"), "-")
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			out[arg[:eq]] = arg[eq+1:]
			continue
		}
		if i+1 < len(args) {
			out[arg] = args[i+1]
			i++
		}
	}
	return out
}

// envKey translates a dot-path config key into the SCREAMING_SNAKE_CASE
// environment variable name a shell (or .env file) would define for it.
func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Get returns key's value and whether it was present, checking the flat
// bag first, then the corresponding environment variable.
func (v *View) Get(key string) (string, bool) {
	if val, ok := v.flat[key]; ok {
		return val, true
	}
	val, ok := os.LookupEnv(envKey(key))
	return val, ok
}

// MustGet returns key's value, or a ConfigMissing error if absent.
func (v *View) MustGet(key string) (string, error) {
	val, ok := v.Get(key)
	if !ok {
		return "", cdcerrors.NewConfigMissing(key)
	}
	return val, nil
}

// GetInt parses key as an integer, or returns ok=false if absent.
func (v *View) GetInt(key string) (int, bool, error) {
	val, ok := v.Get(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("config: %s is not an integer: %w", key, err)
	}
	return n, true, nil
}

// MustGetInt returns key parsed as an integer, or a ConfigMissing error if absent.
func (v *View) MustGetInt(key string) (int, error) {
	n, ok, err := v.GetInt(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, cdcerrors.NewConfigMissing(key)
	}
	return n, nil
}

// GetFloat parses key as a float64, or returns ok=false if absent.
func (v *View) GetFloat(key string) (float64, bool, error) {
	val, ok := v.Get(key)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("config: %s is not a float: %w", key, err)
	}
	return f, true, nil
}

// GetDuration parses key as a number of seconds, or returns ok=false if absent.
func (v *View) GetDuration(key string) (time.Duration, bool, error) {
	n, ok, err := v.GetInt(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return time.Duration(n) * time.Second, true, nil
}
