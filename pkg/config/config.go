package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Integrity check defaults.
const (
	DefaultIntegrityCount = 35
	DefaultIntegritySleep = 250 * time.Millisecond
)

// Runner names accepted on destinations.
const (
	RunnerLocal  = "local"
	RunnerRemote = "remote"
)

// JobConfig is the parsed job configuration document.
type JobConfig struct {
	XMLName      xml.Name           `xml:"job_conf" yaml:"-"`
	Handlers     HandlersConfig     `xml:"handlers" yaml:"handlers"`
	Destinations DestinationsConfig `xml:"destinations" yaml:"destinations"`
	Integrity    IntegrityConfig    `xml:"integrity" yaml:",inline"`
	GalaxyURL    string             `xml:"galaxy_url" yaml:"galaxy_url"`
}

// HandlersConfig mirrors the <handlers> element.
type HandlersConfig struct {
	Default    string          `xml:"default,attr" yaml:"default"`
	AssignWith string          `xml:"assign_with,attr" yaml:"assign_with"`
	MaxGrab    int             `xml:"max_grab,attr" yaml:"max_grab"`
	Handlers   []HandlerConfig `xml:"handler" yaml:"handlers"`
}

// HandlerConfig mirrors a single <handler> element. Tags is a
// comma-separated list.
type HandlerConfig struct {
	ID   string `xml:"id,attr" yaml:"id"`
	Tags string `xml:"tags,attr" yaml:"tags"`
}

// TagList returns the handler's tags with whitespace and empty entries removed.
func (h HandlerConfig) TagList() []string {
	var tags []string
	for _, t := range strings.Split(h.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// DestinationsConfig mirrors the <destinations> element.
type DestinationsConfig struct {
	Default      string              `xml:"default,attr" yaml:"default"`
	Destinations []DestinationConfig `xml:"destination" yaml:"destinations"`
}

// DestinationConfig describes where jobs run. Runner "local" executes the job
// script on the handler host; "remote" routes the job through a remote
// execution endpoint at URL, or an in-process manager when URL is empty.
type DestinationConfig struct {
	ID           string  `xml:"id,attr" yaml:"id"`
	Runner       string  `xml:"runner,attr" yaml:"runner"`
	URL          string  `xml:"url,attr" yaml:"url"`
	PrivateToken string  `xml:"private_token,attr" yaml:"private_token"`
	Manager      string  `xml:"manager,attr" yaml:"manager"`
	Timeout      float64 `xml:"timeout,attr" yaml:"timeout"` // seconds
	StagingDir   string  `xml:"staging_directory,attr" yaml:"staging_directory"`
}

// TimeoutDuration returns the per-request timeout, zero meaning none.
func (d DestinationConfig) TimeoutDuration() time.Duration {
	return time.Duration(d.Timeout * float64(time.Second))
}

// Lookup returns the destination with the given id, or the default
// destination when id is empty.
func (d DestinationsConfig) Lookup(id string) (DestinationConfig, bool) {
	if id == "" {
		id = d.Default
	}
	for _, dest := range d.Destinations {
		if dest.ID == id {
			return dest, true
		}
	}
	return DestinationConfig{}, false
}

// IntegrityConfig controls job script integrity verification.
type IntegrityConfig struct {
	Check *bool    `xml:"check,attr" yaml:"check_job_script_integrity"`
	Count int      `xml:"count,attr" yaml:"check_job_script_integrity_count"`
	Sleep *float64 `xml:"sleep,attr" yaml:"check_job_script_integrity_sleep"` // seconds
}

// Enabled reports whether scripts are verified after writing. Defaults to true.
func (c IntegrityConfig) Enabled() bool {
	return c.Check == nil || *c.Check
}

// Attempts returns the number of verification attempts.
func (c IntegrityConfig) Attempts() int {
	if c.Count <= 0 {
		return DefaultIntegrityCount
	}
	return c.Count
}

// SleepDuration returns the pause between failed verification attempts. An
// explicit zero retries immediately; unset or negative values take the default.
func (c IntegrityConfig) SleepDuration() time.Duration {
	if c.Sleep == nil || *c.Sleep < 0 {
		return DefaultIntegritySleep
	}
	return time.Duration(*c.Sleep * float64(time.Second))
}

// DefaultJobConfig returns a configuration with a single local destination and
// no handlers.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Destinations: DestinationsConfig{
			Default:      RunnerLocal,
			Destinations: []DestinationConfig{{ID: RunnerLocal, Runner: RunnerLocal}},
		},
	}
}

// Format selects the document syntax.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return FormatXML, nil
	case ".yml", ".yaml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("jobs: unsupported job config extension %q", filepath.Ext(path))
	}
}

// Load reads and parses a job configuration file.
func Load(path string) (*JobConfig, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jobs: read job config: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes a job configuration document.
func Parse(data []byte, format Format) (*JobConfig, error) {
	cfg := &JobConfig{}
	var err error
	switch format {
	case FormatXML:
		err = xml.Unmarshal(data, cfg)
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("jobs: unsupported job config format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: parse job config: %w", err)
	}
	if len(cfg.Destinations.Destinations) == 0 {
		cfg.Destinations = DefaultJobConfig().Destinations
	}
	if err := cfg.validateDestinations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *JobConfig) validateDestinations() error {
	seen := make(map[string]bool)
	for _, d := range c.Destinations.Destinations {
		if d.ID == "" {
			return fmt.Errorf("jobs: destination without id")
		}
		if seen[d.ID] {
			return fmt.Errorf("jobs: duplicate destination %q", d.ID)
		}
		seen[d.ID] = true
		switch d.Runner {
		case RunnerLocal, RunnerRemote:
		default:
			return fmt.Errorf("jobs: destination %q: unknown runner %q", d.ID, d.Runner)
		}
	}
	if c.Destinations.Default != "" && !seen[c.Destinations.Default] {
		return fmt.Errorf("jobs: default destination %q is not defined", c.Destinations.Default)
	}
	return nil
}
