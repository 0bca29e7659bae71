package services

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy/default.yaml
var defaultTaxonomyYAML []byte

// BucketDefinition is one display category and the statuses that fall into it
type BucketDefinition struct {
	Name     string   `yaml:"name" json:"name"`
	Label    string   `yaml:"label" json:"label"`
	Statuses []string `yaml:"statuses" json:"statuses"`
}

type taxonomyDocument struct {
	Default string             `yaml:"default"`
	Buckets []BucketDefinition `yaml:"buckets"`
	Cycle   []string           `yaml:"cycle"`
}

// StatusTaxonomy maps free-text statuses to buckets. It is immutable after load
// and safe for concurrent use.
type StatusTaxonomy struct {
	defaultBucket string
	buckets       []BucketDefinition
	index         map[string]string
	cycle         []string
}

// DefaultStatusTaxonomy returns the embedded taxonomy
func DefaultStatusTaxonomy() *StatusTaxonomy {
	t, err := ParseStatusTaxonomy(defaultTaxonomyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded status taxonomy is invalid: %v", err))
	}
	return t
}

// LoadStatusTaxonomy reads a taxonomy file; an empty path yields the default
func LoadStatusTaxonomy(path string) (*StatusTaxonomy, error) {
	if path == "" {
		return DefaultStatusTaxonomy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	return ParseStatusTaxonomy(data)
}

// ParseStatusTaxonomy decodes and validates a YAML taxonomy document
func ParseStatusTaxonomy(data []byte) (*StatusTaxonomy, error) {
	var doc taxonomyDocument
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy YAML: %w", err)
	}

	if len(doc.Buckets) == 0 {
		return nil, fmt.Errorf("taxonomy defines no buckets")
	}

	t := &StatusTaxonomy{
		defaultBucket: doc.Default,
		buckets:       doc.Buckets,
		index:         make(map[string]string),
		cycle:         doc.Cycle,
	}

	names := make(map[string]bool, len(doc.Buckets))
	for _, b := range doc.Buckets {
		if b.Name == "" {
			return nil, fmt.Errorf("taxonomy bucket without a name")
		}
		if names[b.Name] {
			return nil, fmt.Errorf("duplicate taxonomy bucket %q", b.Name)
		}
		names[b.Name] = true

		for _, s := range b.Statuses {
			key := statusKey(s)
			if owner, taken := t.index[key]; taken && owner != b.Name {
				return nil, fmt.Errorf("status %q is mapped to both %q and %q", s, owner, b.Name)
			}
			t.index[key] = b.Name
		}
	}

	if !names[doc.Default] {
		return nil, fmt.Errorf("default bucket %q is not defined", doc.Default)
	}

	return t, nil
}

// statusKey folds case and composition so "DAROVÁNO" and "darováno" match
func statusKey(status string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(status)))
}

// Bucket returns the bucket name for a status, or the default bucket
func (t *StatusTaxonomy) Bucket(status string) string {
	if name, ok := t.index[statusKey(status)]; ok {
		return name
	}
	return t.defaultBucket
}

// DefaultBucket returns the bucket used for empty or unknown statuses
func (t *StatusTaxonomy) DefaultBucket() string {
	return t.defaultBucket
}

// Buckets returns the bucket definitions in display order
func (t *StatusTaxonomy) Buckets() []BucketDefinition {
	out := make([]BucketDefinition, len(t.buckets))
	copy(out, t.buckets)
	return out
}

// Label returns the display label of a bucket
func (t *StatusTaxonomy) Label(bucket string) string {
	for _, b := range t.buckets {
		if b.Name == bucket {
			if b.Label != "" {
				return b.Label
			}
			return b.Name
		}
	}
	return bucket
}

// NextStatus returns the status following current in the toggle cycle.
// Unknown statuses are treated as the first cycle entry.
func (t *StatusTaxonomy) NextStatus(current string) (string, bool) {
	if len(t.cycle) == 0 {
		return "", false
	}
	key := statusKey(current)
	for i, s := range t.cycle {
		if statusKey(s) == key {
			return t.cycle[(i+1)%len(t.cycle)], true
		}
	}
	return t.cycle[1%len(t.cycle)], true
}
