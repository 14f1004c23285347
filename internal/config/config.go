// Package config resolves the page-extension configuration of a project. The
// config file and .env are read through projectfs so editing either one
// invalidates every route computation that depends on the extension list.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/vormadev/pagestree/internal/projectfs"
	"github.com/vormadev/pagestree/kit/genericsutil"
	"github.com/vormadev/pagestree/kit/tasks"
)

const (
	DefaultFile = "pages.config.json"
	EnvFile     = ".env"

	// EnvPageExtensions holds a comma separated extension list that overrides
	// the config file.
	EnvPageExtensions = "PAGESTREE_PAGE_EXTENSIONS"
)

var ErrEmptyExtension = errors.New("config: empty page extension")

var defaultPageExtensions = []string{"tsx", "ts", "jsx", "js"}

// DefaultPageExtensions returns a copy of the extensions used when nothing is
// configured.
func DefaultPageExtensions() []string {
	return append([]string(nil), defaultPageExtensions...)
}

type Config struct {
	PageExtensions []string `json:"pageExtensions,omitempty"`
}

// Parse parses and validates pages.config.json bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.PageExtensions != nil {
		exts, err := NormalizeExtensions(cfg.PageExtensions)
		if err != nil {
			return nil, err
		}
		cfg.PageExtensions = exts
	}
	return &cfg, nil
}

// NormalizeExtensions strips surrounding whitespace and a leading dot from
// each extension and drops duplicates, keeping first-seen order.
func NormalizeExtensions(exts []string) ([]string, error) {
	out := make([]string, 0, len(exts))
	for i, ext := range exts {
		e := strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if e == "" {
			return nil, fmt.Errorf("%w at index %d", ErrEmptyExtension, i)
		}
		out = append(out, e)
	}
	return genericsutil.Dedupe(out), nil
}

type Options struct {
	File string // Optional. Defaults to pages.config.json, relative to the FS root.

	// LookupEnv reads the process environment. Optional. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Source loads Config from a project file system as a tracked computation.
type Source struct {
	fs        *projectfs.FS
	file      string
	lookupEnv func(string) (string, bool)
	load      *tasks.Task[string, *Config]
}

func NewSource(fs *projectfs.FS, opts ...Options) *Source {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	s := &Source{
		fs:        fs,
		file:      genericsutil.OrDefault(o.File, DefaultFile),
		lookupEnv: o.LookupEnv,
	}
	if s.lookupEnv == nil {
		s.lookupEnv = os.LookupEnv
	}
	s.load = tasks.NewTask(s.loadTask)
	return s
}

func (s *Source) File() string {
	return s.file
}

// Load returns the effective configuration. Precedence, highest first: process
// environment, .env, config file, defaults. The process environment is read at
// computation time and is not tracked.
func (s *Source) Load(c *tasks.Ctx) (*Config, error) {
	return s.load.Run(c, s.file)
}

// PageExtensions returns the allowed page extensions without leading dots.
func (s *Source) PageExtensions(c *tasks.Ctx) ([]string, error) {
	cfg, err := s.Load(c)
	if err != nil {
		return nil, err
	}
	return cfg.PageExtensions, nil
}

func (s *Source) loadTask(c *tasks.Ctx, file string) (*Config, error) {
	cfg := &Config{}

	fc, err := s.fs.ReadFile(c, file)
	if err != nil {
		return nil, err
	}
	if !fc.NotFound {
		parsed, err := Parse(fc.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		cfg = parsed
	}

	env, err := s.readDotEnv(c)
	if err != nil {
		return nil, err
	}
	if v, ok := s.lookupEnv(EnvPageExtensions); ok {
		env[EnvPageExtensions] = v
	}
	if v, ok := env[EnvPageExtensions]; ok && strings.TrimSpace(v) != "" {
		exts, err := NormalizeExtensions(strings.Split(v, ","))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvPageExtensions, err)
		}
		cfg.PageExtensions = exts
	}

	cfg.PageExtensions = genericsutil.OrDefaultSlice(cfg.PageExtensions, DefaultPageExtensions())
	return cfg, nil
}

func (s *Source) readDotEnv(c *tasks.Ctx) (map[string]string, error) {
	fc, err := s.fs.ReadFile(c, EnvFile)
	if err != nil {
		return nil, err
	}
	if fc.NotFound {
		return map[string]string{}, nil
	}
	env, err := godotenv.UnmarshalBytes(fc.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", EnvFile, err)
	}
	return env, nil
}
