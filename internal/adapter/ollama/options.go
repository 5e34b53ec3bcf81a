package ollama

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GenerationOptions are forwarded unchanged with every generate call.
type GenerationOptions struct {
	KeepAlive string         `yaml:"keep_alive"`
	Options   map[string]any `yaml:"options"`
}

// LoadOptions reads generation options from a YAML file such as:
//
//	keep_alive: 5m
//	options:
//	  temperature: 0.7
//	  num_ctx: 4096
//
// An empty path yields zero options.
func LoadOptions(path string) (GenerationOptions, error) {
	var opts GenerationOptions
	path = strings.TrimSpace(path)
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("ollama: read options %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("ollama: parse options %s: %w", path, err)
	}
	if len(opts.Options) == 0 {
		opts.Options = nil
	}
	return opts, nil
}
