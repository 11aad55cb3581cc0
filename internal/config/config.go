// Package config holds the resolved runtime configuration for tailsrv and
// the JSON-file override path (mirroring the CLI-plus-JSON-override idiom
// used throughout the kcptun command family).
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config is the fully resolved set of knobs tailsrv runs with, whether they
// arrived via CLI flags or a JSON override file.
type Config struct {
	Path string `json:"path"`
	Port int    `json:"port"`

	Verbosity int  `json:"verbosity"`
	Quiet     bool `json:"quiet"`

	// PipeCapacity is the fixed size of each client's kernel pipe buffer.
	PipeCapacity int `json:"pipe_capacity"`

	// Journal routes logs through the systemd journal when it is
	// reachable. The READY=1 notification is sent whether or not it is
	// set.
	Journal bool `json:"journal"`

	// Keepalive enables TCP keepalive on accepted sockets with OS
	// defaults.
	Keepalive bool `json:"keepalive"`

	LogFile string `json:"log"`
}

const DefaultPipeCapacity = 64 * 1024

// Default returns a Config populated with the same defaults the CLI flags
// fall back to when unset.
func Default() Config {
	return Config{
		PipeCapacity: DefaultPipeCapacity,
		Keepalive:    true,
	}
}

// LoadJSON overlays cfg with values decoded from the JSON file at path.
// The file is decoded directly onto the already-flag-populated struct, so
// only the fields present in the file are overridden.
func LoadJSON(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return errors.Wrap(err, "decode config file")
	}
	return nil
}

// Validate reports whether the config is internally consistent enough to
// start the server; it does not touch the filesystem or network.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("no file path given")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.PipeCapacity <= 0 {
		return errors.Errorf("pipe capacity %d must be positive", c.PipeCapacity)
	}
	return nil
}
