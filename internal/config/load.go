package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sync/singleflight"
)

// FileProvider loads Config from a JSON file on every call. Concurrent calls
// share a single read of the file.
type FileProvider struct {
	path  string
	group singleflight.Group
}

// NewFileProvider returns a provider for the config file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Load implements Provider.
func (p *FileProvider) Load(ctx context.Context) (Config, error) {
	ch := p.group.DoChan(p.path, func() (any, error) {
		return Load(p.path)
	})

	select {
	case <-ctx.Done():
		return Config{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Config{}, res.Err
		}
		return res.Val.(Config), nil
	}
}

// Load reads, resolves and validates the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading config file: %v", ErrInvalid, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing config: %v", ErrInvalid, err)
	}

	return Normalize(cfg)
}
