// Package patterns owns the versioned regular-expression sets used to infer
// session state from scroll-back text. Each version is immutable once
// loaded and tagged with the upstream CLI release it was calibrated
// against, so that drift in a tool's terminal UI can be investigated by
// selecting an older/newer version rather than editing code.
package patterns

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Class is a target state class a pattern is tagged with.
type Class string

const (
	ClassWaiting Class = "waiting"
	ClassWorking Class = "working"
	ClassIdle    Class = "idle"
	ClassError   Class = "error"
)

// Threshold is the aggregated-confidence threshold a class must exceed to
// be selected by the parser (spec §4.2 step 4).
var Threshold = map[Class]float64{
	ClassError:   0.75,
	ClassWaiting: 0.65,
	ClassWorking: 0.60,
	ClassIdle:    0.50,
}

// PriorityOrder is the strict evaluation order for class selection.
var PriorityOrder = []Class{ClassError, ClassWaiting, ClassWorking, ClassIdle}

// Pattern is a single (tag, regex, base-confidence) triple.
type Pattern struct {
	Tag        string
	Regex      *regexp.Regexp
	Confidence float64
}

// OptionForm names one of the three list forms the registry extracts
// prompt options from.
type OptionForm string

const (
	FormNumbered OptionForm = "numbered"
	FormBulleted OptionForm = "bulleted"
	FormArrowed  OptionForm = "arrowed"
)

// OptionPattern extracts a single option line into (label, key).
type OptionPattern struct {
	Form  OptionForm
	Regex *regexp.Regexp
}

// Version is one immutable, fully-compiled pattern set.
type Version struct {
	Name         string // e.g. "v1", "v2026.1"
	CalibratedOn string // upstream UI release this was tuned against
	Classes      map[Class][]Pattern
	Options      []OptionPattern
}

// Registry holds all known Versions and the currently active one.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*Version
	current  string
}

//go:embed versions/*.yaml
var embeddedVersions embed.FS

// yamlPattern/yamlOption/yamlVersion mirror the on-disk YAML shape, loaded
// the same way internal/config loads its YAML documents.
type yamlPattern struct {
	Tag        string  `yaml:"tag"`
	Regex      string  `yaml:"regex"`
	Confidence float64 `yaml:"confidence"`
}

type yamlOption struct {
	Form  string `yaml:"form"`
	Regex string `yaml:"regex"`
}

type yamlVersion struct {
	Name         string                   `yaml:"name"`
	CalibratedOn string                   `yaml:"calibrated_on"`
	Classes      map[string][]yamlPattern `yaml:"classes"`
	Options      []yamlOption             `yaml:"options"`
}

// NewRegistry loads all embedded pattern-set versions and selects the
// highest-named version (lexicographic, which matches "v1" < "v2" < ...)
// as current.
func NewRegistry() (*Registry, error) {
	entries, err := embeddedVersions.ReadDir("versions")
	if err != nil {
		return nil, fmt.Errorf("reading embedded pattern versions: %w", err)
	}

	r := &Registry{versions: make(map[string]*Version)}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := embeddedVersions.ReadFile("versions/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		v, err := parseVersion(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", e.Name(), err)
		}
		r.versions[v.Name] = v
		names = append(names, v.Name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no pattern versions embedded")
	}
	sort.Strings(names)
	r.current = names[len(names)-1]
	return r, nil
}

func parseVersion(data []byte) (*Version, error) {
	var yv yamlVersion
	if err := yaml.Unmarshal(data, &yv); err != nil {
		return nil, err
	}
	v := &Version{
		Name:         yv.Name,
		CalibratedOn: yv.CalibratedOn,
		Classes:      make(map[Class][]Pattern, len(yv.Classes)),
	}
	for className, pats := range yv.Classes {
		compiled := make([]Pattern, 0, len(pats))
		for _, p := range pats {
			re, err := regexp.Compile("(?im)" + p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q: %w", p.Tag, err)
			}
			compiled = append(compiled, Pattern{Tag: p.Tag, Regex: re, Confidence: p.Confidence})
		}
		v.Classes[Class(className)] = compiled
	}
	for _, o := range yv.Options {
		re, err := regexp.Compile(o.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling option pattern %q: %w", o.Form, err)
		}
		v.Options = append(v.Options, OptionPattern{Form: OptionForm(o.Form), Regex: re})
	}
	return v, nil
}

// CurrentVersion returns the name of the currently active pattern version.
func (r *Registry) CurrentVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetVersion selects an existing version by name, failing loudly if it is
// unknown (spec §4.1: "unknown versions fail loudly").
func (r *Registry) SetVersion(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[name]; !ok {
		return fmt.Errorf("unknown pattern version %q", name)
	}
	r.current = name
	return nil
}

// ListVersions returns the names of all known versions, sorted.
func (r *Registry) ListVersions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for n := range r.versions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PatternsForClass returns the current version's patterns for a class.
func (r *Registry) PatternsForClass(c Class) []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.versions[r.current]
	return v.Classes[c]
}

// OptionPatterns returns the current version's option-extraction patterns.
func (r *Registry) OptionPatterns() []OptionPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.versions[r.current]
	return v.Options
}
