package registry

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/interfaces"
	"github.com/ruteri/sbs/library"
	"github.com/ruteri/sbs/metrics"
	"gopkg.in/yaml.v3"
)

// Config declares the libraries of a registry.
type Config struct {
	Libraries []LibraryConfig `yaml:"libraries"`

	// SpoolMemoryLimit is the number of bytes of a streamed blob buffered
	// in memory before spilling to SpoolDir. Zero selects the default.
	SpoolMemoryLimit int64  `yaml:"spool_memory_limit"`
	SpoolDir         string `yaml:"spool_dir"`
}

// SpoolOptions returns the spooling options for streamed content.
func (c *Config) SpoolOptions() content.SpoolOptions {
	return content.SpoolOptions{MemoryLimit: c.SpoolMemoryLimit, TempDir: c.SpoolDir}
}

// LibraryConfig declares one library and the location of its backend.
type LibraryConfig struct {
	ID       interfaces.LibraryID `yaml:"id"`
	Location string               `yaml:"location"`
}

// BackendFactory creates backends from location URIs.
// storage.StorageBackendFactory implements it.
type BackendFactory interface {
	BackendForURI(libraryID interfaces.LibraryID, uri string) (interfaces.Backend, error)
}

// LoadConfig loads a configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks that every library has an id and a location and that ids
// are unique.
func (c *Config) Validate() error {
	seen := make(map[interfaces.LibraryID]bool, len(c.Libraries))
	for i, lc := range c.Libraries {
		if lc.ID == "" {
			return fmt.Errorf("%w: library %d: id is required", interfaces.ErrInvalidArgument, i)
		}
		if lc.Location == "" {
			return fmt.Errorf("%w: library %q: location is required", interfaces.ErrInvalidArgument, lc.ID)
		}
		if seen[lc.ID] {
			return fmt.Errorf("%w: library %q is declared more than once", interfaces.ErrInvalidArgument, lc.ID)
		}
		seen[lc.ID] = true
	}
	return nil
}

// FromConfig opens every declared library. On failure, backends opened so
// far are closed.
func FromConfig(cfg *Config, factory BackendFactory, log *slog.Logger, m *metrics.Metrics) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	spool := cfg.SpoolOptions()
	libs := make([]*library.Library, 0, len(cfg.Libraries))
	for _, lc := range cfg.Libraries {
		backend, err := factory.BackendForURI(lc.ID, lc.Location)
		if err != nil {
			_ = New(libs...).Close()
			return nil, fmt.Errorf("failed to open library %q: %w", lc.ID, err)
		}
		log.Info("Opened library",
			slog.String("library_id", string(lc.ID)),
			slog.String("backend", backend.Name()))
		libs = append(libs, library.New(lc.ID, backend, log,
			library.WithMetrics(m),
			library.WithSpoolOptions(spool)))
	}
	return New(libs...), nil
}
