package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config provides access to a parsed configuration file. Sections hold
// per-transform options; access is tracked so unused (likely
// misspelled) options can be reported before a run starts.
type Config struct {
	sections map[string]*Section
	order    []string
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
	}
}

// Load reads a configuration file and returns a Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	c := New()
	if err := c.parse(bufio.NewScanner(f), path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration data from a string.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(bufio.NewScanner(strings.NewReader(data)), "<string>"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parse(scanner *bufio.Scanner, path string) error {
	var currentSection string
	currentOptions := map[string]string{}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
			if line == "" {
				continue
			}
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if currentSection != "" {
				c.AddSection(currentSection, currentOptions)
			}
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			if currentSection == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, path)
			}
			currentOptions = map[string]string{}
			continue
		}

		sep := strings.IndexAny(line, ":=")
		if sep < 0 {
			return fmt.Errorf("config: malformed line %d in %s: %q", lineNum, path, line)
		}
		if currentSection == "" {
			return fmt.Errorf("config: option before any section at line %d in %s", lineNum, path)
		}
		key := strings.TrimSpace(line[:sep])
		val := strings.TrimSpace(line[sep+1:])
		if key == "" {
			return fmt.Errorf("config: empty option name at line %d in %s", lineNum, path)
		}
		currentOptions[key] = val
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if currentSection != "" {
		c.AddSection(currentSection, currentOptions)
	}
	return nil
}

// AddSection adds (or replaces) a section. Used both by the parser and
// by callers that synthesize sections from command-line flags.
func (c *Config) AddSection(name string, options map[string]string) *Section {
	key := strings.ToLower(name)
	if _, exists := c.sections[key]; !exists {
		c.order = append(c.order, key)
	}
	sec := NewSection(name, options)
	c.sections[key] = sec
	return sec
}

// GetSection returns a section by name.
func (c *Config) GetSection(name string) (*Section, error) {
	sec, ok := c.sections[strings.ToLower(name)]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	return sec, nil
}

// GetSectionOptional returns a section or an empty one if absent.
// Lets a transform read defaults when no section was configured.
func (c *Config) GetSectionOptional(name string) *Section {
	if sec, ok := c.sections[strings.ToLower(name)]; ok {
		return sec
	}
	return NewSection(name, nil)
}

// HasSection checks whether a section exists.
func (c *Config) HasSection(name string) bool {
	_, ok := c.sections[strings.ToLower(name)]
	return ok
}

// SectionNames returns the section names in file order.
func (c *Config) SectionNames() []string {
	return append([]string(nil), c.order...)
}

// UnusedOptions reports every option that was never read, per section,
// as "section.option" strings sorted for stable output.
func (c *Config) UnusedOptions() []string {
	var result []string
	for _, name := range c.order {
		for _, opt := range c.sections[name].UnusedOptions() {
			result = append(result, name+"."+opt)
		}
	}
	sort.Strings(result)
	return result
}
