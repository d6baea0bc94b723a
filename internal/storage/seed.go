package storage

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"feedsweep/internal/ingest"
)

type seedFile struct {
	Sources []seedSource `yaml:"sources"`
}

type seedSource struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`
}

// LoadSeedFile reads a YAML list of sources.
func LoadSeedFile(path string) ([]ingest.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	out := make([]ingest.Source, 0, len(f.Sources))
	for i, s := range f.Sources {
		url := strings.TrimSpace(s.URL)
		if url == "" {
			return nil, fmt.Errorf("seed source %d: url is required", i)
		}
		kind := ingest.Kind(strings.ToLower(strings.TrimSpace(s.Kind)))
		switch kind {
		case "":
			kind = ingest.KindFeed
		case ingest.KindFeed, ingest.KindSocial:
		default:
			return nil, fmt.Errorf("seed source %d: unknown kind %q", i, s.Kind)
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = url
		}
		out = append(out, ingest.Source{
			Name:     name,
			Category: strings.TrimSpace(s.Category),
			Kind:     kind,
			URL:      url,
		})
	}
	return out, nil
}
