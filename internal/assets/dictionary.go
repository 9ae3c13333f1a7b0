package assets

import (
	"fmt"
	"strings"
)

// Asset maps a canonical code to the free-text substrings that identify it in
// report rows and to the label shown to users.
type Asset struct {
	Code     string   `yaml:"code" json:"code" validate:"required"`
	Label    string   `yaml:"label" json:"label"`
	Patterns []string `yaml:"patterns" json:"patterns" validate:"required,min=1,dive,required"`
}

// Shadow describes a pattern that can never match because an earlier pattern
// is a substring of it.
type Shadow struct {
	Code      string `json:"code"`
	Pattern   string `json:"pattern"`
	ByCode    string `json:"by_code"`
	ByPattern string `json:"by_pattern"`
	SameAsset bool   `json:"same_asset"`
}

type pattern struct {
	code  string
	raw   string
	lower string
}

// Dictionary is an ordered list of (code, pattern) pairs. Matching walks the
// pairs in declaration order and the first hit wins.
type Dictionary struct {
	assets []Asset
	pairs  []pattern
	labels map[string]string
}

// New builds a dictionary from assets in the given order.
func New(list []Asset) (*Dictionary, error) {
	d := &Dictionary{
		assets: make([]Asset, 0, len(list)),
		labels: make(map[string]string, len(list)),
	}
	for _, a := range list {
		code := strings.TrimSpace(a.Code)
		if code == "" {
			return nil, fmt.Errorf("asset code is required")
		}
		if _, dup := d.labels[code]; dup {
			return nil, fmt.Errorf("duplicate asset code %q", code)
		}
		if len(a.Patterns) == 0 {
			return nil, fmt.Errorf("asset %s has no patterns", code)
		}
		label := a.Label
		if label == "" {
			label = code
		}
		patterns := make([]string, 0, len(a.Patterns))
		for _, p := range a.Patterns {
			if strings.TrimSpace(p) == "" {
				return nil, fmt.Errorf("asset %s has an empty pattern", code)
			}
			patterns = append(patterns, p)
			d.pairs = append(d.pairs, pattern{code: code, raw: p, lower: strings.ToLower(p)})
		}
		d.labels[code] = label
		d.assets = append(d.assets, Asset{Code: code, Label: label, Patterns: patterns})
	}
	return d, nil
}

// Match returns the code of the first pattern found anywhere in name,
// ignoring case.
func (d *Dictionary) Match(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, p := range d.pairs {
		if strings.Contains(lower, p.lower) {
			return p.code, true
		}
	}
	return "", false
}

// Label returns the display label for code, or code itself when unknown.
func (d *Dictionary) Label(code string) string {
	if l, ok := d.labels[code]; ok {
		return l
	}
	return code
}

// Has reports whether code is configured.
func (d *Dictionary) Has(code string) bool {
	_, ok := d.labels[code]
	return ok
}

// Codes lists asset codes in declaration order.
func (d *Dictionary) Codes() []string {
	out := make([]string, len(d.assets))
	for i, a := range d.assets {
		out[i] = a.Code
	}
	return out
}

// Assets returns a copy of the configured assets.
func (d *Dictionary) Assets() []Asset {
	out := make([]Asset, len(d.assets))
	for i, a := range d.assets {
		a.Patterns = append([]string(nil), a.Patterns...)
		out[i] = a
	}
	return out
}

// Shadowed lists the patterns made unreachable by an earlier, shorter
// pattern. The order is left as configured; callers only report these.
func (d *Dictionary) Shadowed() []Shadow {
	var out []Shadow
	for j := 1; j < len(d.pairs); j++ {
		later := d.pairs[j]
		for i := 0; i < j; i++ {
			earlier := d.pairs[i]
			if strings.Contains(later.lower, earlier.lower) {
				out = append(out, Shadow{
					Code:       later.code,
					Pattern:    later.raw,
					ByCode:     earlier.code,
					ByPattern:  earlier.raw,
					SameAsset: later.code == earlier.code,
				})
				break
			}
		}
	}
	return out
}
