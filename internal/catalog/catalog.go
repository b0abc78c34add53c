// Package catalog loads the element catalog: the static definitions of the
// element kinds a diagram may contain, their default properties and the
// schema the property editor validates against.
package catalog

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jamicool/PPD/internal/core/model"
)

//go:embed catalog.yaml
var embedded []byte

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldSelect  FieldType = "select"
	FieldBoolean FieldType = "boolean"
)

type Catalog struct {
	Version      string                           `yaml:"version" json:"version"`
	ProjectTypes map[string]ProjectTypeDefinition `yaml:"projectTypes" json:"projectTypes"`
	Elements     map[string]ElementDefinition     `yaml:"elements" json:"elements"`
	Categories   map[string]CategoryDefinition    `yaml:"categories" json:"categories"`
}

type ProjectTypeDefinition struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Elements    []string `yaml:"elements" json:"elements"`
}

type ElementDefinition struct {
	Name              string                        `yaml:"name" json:"name"`
	Category          string                        `yaml:"category" json:"category"`
	Icon              string                        `yaml:"icon" json:"icon"`
	Color             string                        `yaml:"color" json:"color"`
	Geometry          Geometry                      `yaml:"geometry" json:"geometry"`
	DefaultProperties map[string]any                `yaml:"defaultProperties" json:"defaultProperties"`
	PropertySchema    map[string]PropertyDefinition `yaml:"propertySchema" json:"propertySchema"`
}

type Geometry struct {
	Type   string  `yaml:"type" json:"type"` // circle | rectangle | line
	Radius float64 `yaml:"radius,omitempty" json:"radius,omitempty"`
	Width  float64 `yaml:"width,omitempty" json:"width,omitempty"`
	Height float64 `yaml:"height,omitempty" json:"height,omitempty"`
	Length float64 `yaml:"length,omitempty" json:"length,omitempty"`
}

type PropertyDefinition struct {
	Type     FieldType      `yaml:"type" json:"type"`
	Label    string         `yaml:"label" json:"label"`
	Required bool           `yaml:"required,omitempty" json:"required,omitempty"`
	Min      *float64       `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64       `yaml:"max,omitempty" json:"max,omitempty"`
	Step     *float64       `yaml:"step,omitempty" json:"step,omitempty"`
	Options  []SelectOption `yaml:"options,omitempty" json:"options,omitempty"`
}

type SelectOption struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

type CategoryDefinition struct {
	Name  string `yaml:"name" json:"name"`
	Order int    `yaml:"order" json:"order"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog compiled into the binary. It is parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embedded)
	})
	return defaultCatalog, defaultErr
}

// Open loads the catalog at path, or the embedded one when path is empty.
func Open(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return Load(path)
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file '%s': %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if len(c.Elements) == 0 {
		return nil, fmt.Errorf("catalog defines no elements")
	}
	for key, el := range c.Elements {
		for field, def := range el.PropertySchema {
			switch def.Type {
			case FieldString, FieldNumber, FieldBoolean:
			case FieldSelect:
				if len(def.Options) == 0 {
					return nil, fmt.Errorf("element %q: select field %q has no options", key, field)
				}
			default:
				return nil, fmt.Errorf("element %q: field %q has unknown type %q", key, field, def.Type)
			}
		}
	}
	return &c, nil
}

func (c *Catalog) Element(kind string) (ElementDefinition, bool) {
	el, ok := c.Elements[kind]
	return el, ok
}

// Defaults returns a fresh copy of the default properties of kind. Unknown
// kinds have no defaults.
func (c *Catalog) Defaults(kind string) model.Properties {
	el, ok := c.Elements[kind]
	if !ok {
		return model.Properties{}
	}
	return model.PropertiesOf(el.DefaultProperties)
}

// ElementsFor lists the element kinds offered for a project type.
func (c *Catalog) ElementsFor(t model.ProjectType) []string {
	pt, ok := c.ProjectTypes[string(t)]
	if !ok {
		return nil
	}
	return append([]string(nil), pt.Elements...)
}

// SortedCategories returns category keys ordered for display.
func (c *Catalog) SortedCategories() []string {
	keys := make([]string, 0, len(c.Categories))
	for k := range c.Categories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, oj := c.Categories[keys[i]].Order, c.Categories[keys[j]].Order
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// CheckValue validates one property value against the schema of kind.
// Keys without a schema entry are accepted as-is.
func (c *Catalog) CheckValue(kind, key string, v model.Value) error {
	el, ok := c.Elements[kind]
	if !ok {
		return nil
	}
	def, ok := el.PropertySchema[key]
	if !ok {
		return nil
	}
	if msg := checkField(def, v); msg != "" {
		return fmt.Errorf("%s.%s %s: %w", kind, key, msg, model.ErrValidation)
	}
	return nil
}

// ValidateProperties checks a full property bag, including required fields,
// and returns one message per violation.
func (c *Catalog) ValidateProperties(kind string, props model.Properties) []string {
	el, ok := c.Elements[kind]
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(el.PropertySchema))
	for f := range el.PropertySchema {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var problems []string
	for _, field := range fields {
		def := el.PropertySchema[field]
		v, present := props[field]
		if !present {
			if def.Required {
				problems = append(problems, fmt.Sprintf("%s is required", labelOf(field, def)))
			}
			continue
		}
		if msg := checkField(def, v); msg != "" {
			problems = append(problems, fmt.Sprintf("%s %s", labelOf(field, def), msg))
		}
	}
	return problems
}

func checkField(def PropertyDefinition, v model.Value) string {
	switch def.Type {
	case FieldString:
		s, ok := v.Str()
		if !ok {
			return fmt.Sprintf("must be a string, got %s", v.Kind())
		}
		if def.Required && s == "" {
			return "must not be empty"
		}
	case FieldBoolean:
		if _, ok := v.Bool(); !ok {
			return fmt.Sprintf("must be a boolean, got %s", v.Kind())
		}
	case FieldNumber:
		f, ok := v.Num()
		if !ok {
			return fmt.Sprintf("must be a number, got %s", v.Kind())
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "must be finite"
		}
		if def.Min != nil && f < *def.Min {
			return fmt.Sprintf("must be >= %g", *def.Min)
		}
		if def.Max != nil && f > *def.Max {
			return fmt.Sprintf("must be <= %g", *def.Max)
		}
	case FieldSelect:
		s, ok := v.Str()
		if !ok {
			return fmt.Sprintf("must be one of the listed options, got %s", v.Kind())
		}
		for _, opt := range def.Options {
			if opt.Value == s {
				return ""
			}
		}
		return fmt.Sprintf("has unknown option %q", s)
	}
	return ""
}

func labelOf(field string, def PropertyDefinition) string {
	if def.Label != "" {
		return fmt.Sprintf("%q", def.Label)
	}
	return field
}
