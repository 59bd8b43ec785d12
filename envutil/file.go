package envutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFileType is returned when the file extension is not recognized.
var ErrUnknownFileType = errors.New("env file doesn't have a known file suffix")

// LoadEnvFile loads variables from a file. The format follows the extension:
//   - .env: KEY=VALUE lines, parsed by godotenv
//   - .json: {"env": {"KEY": "VALUE"}}
//   - .yml/.yaml: a top-level env mapping
//
// Example YAML file:
//
//	env:
//	  PROBE_MAX_ATTEMPTS: "5"
//	  PROBE_PER_ATTEMPT_TIMEOUT: 2s
func LoadEnvFile(path string) (map[string]string, error) {
	name := strings.ToLower(filepath.Base(path))

	switch {
	case strings.HasSuffix(name, ".env"):
		return godotenv.Read(path)
	case strings.HasSuffix(name, ".json"):
		return loadStructured(path, json.Unmarshal)
	case strings.HasSuffix(name, ".yml"), strings.HasSuffix(name, ".yaml"):
		return loadStructured(path, yaml.Unmarshal)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFileType, filepath.Base(path))
	}
}

// envFile is the shape of JSON and YAML env files.
type envFile struct {
	Env map[string]string `json:"env" yaml:"env"`
}

func loadStructured(path string, unmarshal func([]byte, any) error) (map[string]string, error) {
	bts, err := os.ReadFile(path) // #nosec G304 -- path is the intended file to load
	if err != nil {
		return nil, err
	}

	var out envFile

	if err := unmarshal(bts, &out); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	if out.Env == nil {
		return map[string]string{}, nil
	}

	return out.Env, nil
}

// Apply sets every variable in vars in the process environment. Variables that
// are already set are left alone unless override is true.
func Apply(vars map[string]string, override bool) error {
	for key, val := range vars {
		if _, exists := os.LookupEnv(key); exists && !override {
			continue
		}

		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}

	return nil
}
