// Package policy loads the accounting policy document: the ordered category
// list with tax rates and keyword hints, the amount extraction patterns and the
// confirmation thresholds. A Policy is immutable once loaded and safe to share
// across goroutines.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/finguru/finguru-service/internal/common"
)

// DefaultCategoryKey is the category used whenever nothing more specific can be chosen.
const DefaultCategoryKey = "miscellaneous"

// MaxTaxRate is the highest tax rate percentage a category may declare.
const MaxTaxRate = 28.0

//go:embed accounting.yaml
var builtinDocument []byte

// Category is one expense category of the policy.
type Category struct {
	Key         string   `yaml:"key" json:"key"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	TaxRate     float64  `yaml:"tax_rate" json:"tax_rate"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

// AmountPattern is one entry of the ordered amount extraction list.
type AmountPattern struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Group   int    `yaml:"group" json:"group"`

	re *regexp.Regexp
}

// Regexp returns the compiled, case-insensitive form of the pattern.
func (p AmountPattern) Regexp() *regexp.Regexp {
	return p.re
}

// Policy is the loaded accounting policy.
type Policy struct {
	Version                      string          `yaml:"version" json:"version"`
	Jurisdiction                 string          `yaml:"jurisdiction,omitempty" json:"jurisdiction,omitempty"`
	Currency                     string          `yaml:"currency,omitempty" json:"currency,omitempty"`
	DefaultCategory              string          `yaml:"default_category,omitempty" json:"default_category"`
	ConfirmationThreshold        float64         `yaml:"confirmation_threshold" json:"confirmation_threshold"`
	MaxAmountWithoutConfirmation float64         `yaml:"max_amount_without_confirmation" json:"max_amount_without_confirmation"`
	Categories                   []Category      `yaml:"categories" json:"categories"`
	AmountPatterns               []AmountPattern `yaml:"amount_patterns" json:"amount_patterns"`

	index map[string]int
}

// Load reads and validates the policy document at path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrPolicyLoad, path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Builtin returns the policy document compiled into the binary.
func Builtin() (*Policy, error) {
	return Parse(builtinDocument)
}

// BuiltinDocument returns the raw YAML of the built-in policy.
func BuiltinDocument() []byte {
	out := make([]byte, len(builtinDocument))
	copy(out, builtinDocument)
	return out
}

// Parse decodes a YAML policy document and validates it. Unknown keys are rejected.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", common.ErrPolicyLoad, err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// compile normalizes the document, checks every invariant and builds the
// category index and compiled patterns. All problems are reported together.
func (p *Policy) compile() error {
	var problems []error

	if strings.TrimSpace(p.Version) == "" {
		problems = append(problems, errors.New("version is required"))
	}
	if p.DefaultCategory == "" {
		p.DefaultCategory = DefaultCategoryKey
	}
	if p.ConfirmationThreshold < 0 || p.ConfirmationThreshold > 1 {
		problems = append(problems, fmt.Errorf("confirmation_threshold %.4f outside [0,1]", p.ConfirmationThreshold))
	}
	if p.MaxAmountWithoutConfirmation <= 0 {
		problems = append(problems, fmt.Errorf("max_amount_without_confirmation must be positive, got %.2f", p.MaxAmountWithoutConfirmation))
	}
	if len(p.Categories) == 0 {
		problems = append(problems, errors.New("at least one category is required"))
	}

	p.index = make(map[string]int, len(p.Categories))
	for i := range p.Categories {
		c := &p.Categories[i]
		c.Key = strings.TrimSpace(c.Key)
		if c.Key == "" {
			problems = append(problems, fmt.Errorf("categories[%d]: key is required", i))
			continue
		}
		if _, dup := p.index[c.Key]; dup {
			problems = append(problems, fmt.Errorf("categories[%d]: duplicate key %q", i, c.Key))
			continue
		}
		p.index[c.Key] = i

		if c.DisplayName == "" {
			c.DisplayName = c.Key
		}
		if c.TaxRate < 0 || c.TaxRate > MaxTaxRate {
			problems = append(problems, fmt.Errorf("category %q: tax_rate %.2f outside [0,%.0f]", c.Key, c.TaxRate, MaxTaxRate))
		}
		for j, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				problems = append(problems, fmt.Errorf("category %q: keywords[%d] is empty", c.Key, j))
			}
			c.Keywords[j] = kw
		}
	}

	if _, ok := p.index[p.DefaultCategory]; !ok && len(p.Categories) > 0 {
		problems = append(problems, fmt.Errorf("default category %q is not declared", p.DefaultCategory))
	}

	for i := range p.AmountPatterns {
		ap := &p.AmountPatterns[i]
		re, err := regexp.Compile("(?i)" + ap.Pattern)
		if err != nil {
			problems = append(problems, fmt.Errorf("amount_patterns[%d]: %v", i, err))
			continue
		}
		if ap.Group < 0 || ap.Group > re.NumSubexp() {
			problems = append(problems, fmt.Errorf("amount_patterns[%d]: group %d not in pattern (%d groups)", i, ap.Group, re.NumSubexp()))
			continue
		}
		ap.re = re
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", common.ErrPolicyLoad, errors.Join(problems...))
	}
	return nil
}

// Category returns the category declared under key.
func (p *Policy) Category(key string) (Category, bool) {
	i, ok := p.index[key]
	if !ok {
		return Category{}, false
	}
	return p.Categories[i], true
}

// Has reports whether key is a declared category.
func (p *Policy) Has(key string) bool {
	_, ok := p.index[key]
	return ok
}

// Default returns the designated default category.
func (p *Policy) Default() Category {
	c, _ := p.Category(p.DefaultCategory)
	return c
}

// Resolve returns the category for key, or the default category when key is
// not declared. The second result is false when the default was substituted.
func (p *Policy) Resolve(key string) (Category, bool) {
	if c, ok := p.Category(key); ok {
		return c, true
	}
	return p.Default(), false
}

// Keys returns category keys in declared order.
func (p *Policy) Keys() []string {
	keys := make([]string, len(p.Categories))
	for i, c := range p.Categories {
		keys[i] = c.Key
	}
	return keys
}

// DisplayName returns the display name for key, or key itself when unknown.
func (p *Policy) DisplayName(key string) string {
	if c, ok := p.Category(key); ok {
		return c.DisplayName
	}
	return key
}
