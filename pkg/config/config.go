// Package config handles bfrvm.toml configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/vm"
)

// Environment overrides, applied after the file and defaults.
const (
	EnvMode     = "BFRVM_MODE"
	EnvBackend  = "BFRVM_BACKEND"
	EnvTapeSize = "BFRVM_TAPE_SIZE"
)

// Config represents a bfrvm.toml file.
type Config struct {
	VM    VM    `toml:"vm"`
	JIT   JIT   `toml:"jit"`
	Store Store `toml:"store"`
	Log   Log   `toml:"log"`
}

// VM configures sessions.
type VM struct {
	TapeSize int    `toml:"tape-size"`
	Tier     string `toml:"tier"`
	Mode     string `toml:"mode"`
}

// JIT configures the code cache and assembler.
type JIT struct {
	MaxGuestAddress uint64 `toml:"max-guest-address"`
	ArenaSize       int    `toml:"arena-size"`
	Backend         string `toml:"backend"`
}

// Store configures persistent translations. An empty path disables them.
type Store struct {
	Path string `toml:"path"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses the TOML file at path, fills in defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.StageConfig, err, fmt.Sprintf("cannot read %s", path))
	}
	return Parse(data)
}

// Parse is Load for in-memory TOML.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, errors.Wrap(errors.StageConfig, err, "parse error")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf(errors.StageConfig, "unknown key %q", undecoded[0].String())
	}
	c.applyDefaults()
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.VM.TapeSize == 0 {
		c.VM.TapeSize = 30000
	}
	if c.VM.Tier == "" {
		c.VM.Tier = "fused"
	}
	if c.VM.Mode == "" {
		c.VM.Mode = "jit"
	}
	if c.JIT.MaxGuestAddress == 0 {
		c.JIT.MaxGuestAddress = 1 << 20
	}
	if c.JIT.ArenaSize == 0 {
		c.JIT.ArenaSize = 16 * 1024 * 1024
	}
	if c.JIT.Backend == "" {
		c.JIT.Backend = "native"
	}
}

// ApplyEnv overrides fields from BFRVM_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvMode); v != "" {
		c.VM.Mode = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		c.JIT.Backend = v
	}
	if v := os.Getenv(EnvTapeSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.StageConfig, err, EnvTapeSize)
		}
		c.VM.TapeSize = n
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.VM.TapeSize <= 0 {
		return errors.Errorf(errors.StageConfig, "vm.tape-size must be positive, got %d", c.VM.TapeSize)
	}
	if _, err := vm.ParseTier(c.VM.Tier); err != nil {
		return errors.Wrap(errors.StageConfig, err, "vm.tier")
	}
	if _, err := vm.ParseMode(c.VM.Mode); err != nil {
		return errors.Wrap(errors.StageConfig, err, "vm.mode")
	}
	if c.JIT.MaxGuestAddress%4 != 0 {
		return errors.Errorf(errors.StageConfig, "jit.max-guest-address must be a multiple of 4, got %d", c.JIT.MaxGuestAddress)
	}
	if c.JIT.ArenaSize <= 0 {
		return errors.Errorf(errors.StageConfig, "jit.arena-size must be positive, got %d", c.JIT.ArenaSize)
	}
	switch c.JIT.Backend {
	case "native", "goasm":
	default:
		return errors.Errorf(errors.StageConfig, "jit.backend must be native or goasm, got %q", c.JIT.Backend)
	}
	return nil
}
