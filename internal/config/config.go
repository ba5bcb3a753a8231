// Package config loads genspec.toml, the optional per-project settings of
// the specializer, and turns them into the options of each subsystem.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"genspec/internal/layout"
	"genspec/internal/specialize"
	"genspec/internal/trace"
	"genspec/internal/typeref"
)

// FileName is the name searched for by Find.
const FileName = "genspec.toml"

// Config is a loaded genspec.toml. The zero Root means no file was found.
type Config struct {
	Path string
	Root string
	File File
}

type File struct {
	Optimize      Optimize      `toml:"optimize"`
	Prespecialize Prespecialize `toml:"prespecialize"`
	Layout        Layout        `toml:"layout"`
	Nominal       []Nominal     `toml:"nominal"`
	Protocol      []Protocol    `toml:"protocol"`
	Trace         Trace         `toml:"trace"`
}

type Optimize struct {
	Level       string `toml:"level"`
	VerifyCache bool   `toml:"verify_cache"`
	Jobs        int    `toml:"jobs"`
	MaxRounds   int    `toml:"max_rounds"`
}

type Prespecialize struct {
	CoreModule    string   `toml:"core_module"`
	SupportModule string   `toml:"support_module"`
	Whitelist     []string `toml:"whitelist"`
	// Exports are export index paths, relative to the file's directory.
	Exports []string `toml:"exports"`
}

type Layout struct {
	Target string `toml:"target"`
}

type Nominal struct {
	Name       string   `toml:"name"`
	Kind       string   `toml:"kind"`
	Fields     []string `toml:"fields"`
	EmptyCases int      `toml:"empty_cases"`
}

type Protocol struct {
	Name       string `toml:"name"`
	ClassBound bool   `toml:"class_bound"`
}

type Trace struct {
	Level     string `toml:"level"`
	Output    string `toml:"output"`
	Mode      string `toml:"mode"`
	Format    string `toml:"format"`
	RingSize  int    `toml:"ring_size"`
	Heartbeat string `toml:"heartbeat"`
}

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{}
}

// Find walks up from startDir looking for genspec.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover loads the nearest genspec.toml above startDir, or the defaults.
func Discover(startDir string) (*Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load parses and validates path.
func Load(path string) (*Config, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg := &Config{Path: path, Root: filepath.Dir(path), File: f}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.File.Optimize.Level != "" {
		if _, err := specialize.ParseOptLevel(c.File.Optimize.Level); err != nil {
			return fmt.Errorf("[optimize].level: %w", err)
		}
	}
	if c.File.Optimize.Jobs < 0 {
		return fmt.Errorf("[optimize].jobs must not be negative")
	}
	if c.File.Optimize.MaxRounds < 0 {
		return fmt.Errorf("[optimize].max_rounds must not be negative")
	}
	for i, n := range c.File.Nominal {
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("[[nominal]] #%d: missing name", i+1)
		}
	}
	for i, p := range c.File.Protocol {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("[[protocol]] #%d: missing name", i+1)
		}
	}
	return nil
}

// ExportPaths resolves the export index paths against the file's directory.
func (c *Config) ExportPaths() []string {
	out := make([]string, 0, len(c.File.Prespecialize.Exports))
	for _, p := range c.File.Prespecialize.Exports {
		if !filepath.IsAbs(p) && c.Root != "" {
			p = filepath.Join(c.Root, filepath.FromSlash(p))
		}
		out = append(out, p)
	}
	return out
}

// Options returns the specializer options, starting from the defaults.
// Exports are left for the caller to load.
func (c *Config) Options() (specialize.Options, error) {
	opts := specialize.DefaultOptions()
	o := c.File.Optimize
	if o.Level != "" {
		lvl, err := specialize.ParseOptLevel(o.Level)
		if err != nil {
			return opts, err
		}
		opts.Level = lvl
	}
	opts.VerifyCache = o.VerifyCache
	opts.Jobs = o.Jobs
	if o.MaxRounds > 0 {
		opts.MaxRounds = o.MaxRounds
	}
	p := c.File.Prespecialize
	if p.CoreModule != "" {
		opts.CoreModule = p.CoreModule
	}
	if p.SupportModule != "" {
		opts.SupportModule = p.SupportModule
	}
	if len(p.Whitelist) > 0 {
		opts.Whitelist = append([]string(nil), p.Whitelist...)
	}
	return opts, nil
}

// Target returns the layout target, defaulting to x86_64.
func (c *Config) Target() (layout.Target, error) {
	t, ok := layout.TargetByTriple(c.File.Layout.Target)
	if !ok {
		return t, fmt.Errorf("[layout].target: unknown triple %q", c.File.Layout.Target)
	}
	return t, nil
}

// Facts returns the core library facts extended with the file's nominal
// and protocol declarations.
func (c *Config) Facts() (*layout.Facts, error) {
	facts := layout.DefaultFacts()
	for _, n := range c.File.Nominal {
		kind, err := layout.ParseNominalKind(n.Kind)
		if err != nil {
			return nil, fmt.Errorf("[[nominal]] %s: %w", n.Name, err)
		}
		nf := layout.NominalFacts{Name: n.Name, Kind: kind, EmptyCases: n.EmptyCases}
		for _, expr := range n.Fields {
			field, err := typeref.Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("[[nominal]] %s: %w", n.Name, err)
			}
			nf.Fields = append(nf.Fields, field)
		}
		facts.AddNominal(nf)
	}
	for _, p := range c.File.Protocol {
		ref, err := typeref.Parse("protocol " + p.Name)
		if err != nil {
			return nil, fmt.Errorf("[[protocol]] %s: %w", p.Name, err)
		}
		facts.AddProtocol(ref.Protocol, p.ClassBound)
	}
	return facts, nil
}

// TraceConfig returns the tracing settings. Output paths are resolved
// against the file's directory.
func (c *Config) TraceConfig() (trace.Config, error) {
	t := c.File.Trace
	var cfg trace.Config
	var err error
	if cfg.Level, err = trace.ParseLevel(t.Level); err != nil {
		return cfg, fmt.Errorf("[trace].level: %w", err)
	}
	if t.Mode != "" {
		if cfg.Mode, err = trace.ParseMode(t.Mode); err != nil {
			return cfg, fmt.Errorf("[trace].mode: %w", err)
		}
	}
	if t.Format != "" {
		if cfg.Format, err = trace.ParseFormat(t.Format); err != nil {
			return cfg, fmt.Errorf("[trace].format: %w", err)
		}
	}
	if t.Heartbeat != "" {
		if cfg.Heartbeat, err = time.ParseDuration(t.Heartbeat); err != nil {
			return cfg, fmt.Errorf("[trace].heartbeat: %w", err)
		}
	}
	cfg.RingSize = t.RingSize
	cfg.OutputPath = t.Output
	if cfg.OutputPath != "" && cfg.OutputPath != "-" && !filepath.IsAbs(cfg.OutputPath) && c.Root != "" {
		cfg.OutputPath = filepath.Join(c.Root, filepath.FromSlash(cfg.OutputPath))
	}
	return cfg, nil
}
