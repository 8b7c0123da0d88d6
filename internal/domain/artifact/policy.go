package artifact

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	MiB = 1024 * 1024

	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeWebP = "image/webp"
	ContentTypePDF  = "application/pdf"
	ContentTypeDOC  = "application/msword"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Rule is the validation policy of a single category.
type Rule struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// Policy maps every category to its rule.
type Policy map[Category]Rule

var imageTypes = []string{ContentTypeJPEG, ContentTypePNG, ContentTypeWebP}

// DefaultPolicy: profile photos are the smallest, documents the largest.
func DefaultPolicy() Policy {
	return Policy{
		CategoryProfilePhoto:  {MaxBytes: 5 * MiB, AllowedTypes: imageTypes},
		CategoryProgressPhoto: {MaxBytes: 10 * MiB, AllowedTypes: imageTypes},
		CategoryMealPhoto:     {MaxBytes: 10 * MiB, AllowedTypes: imageTypes},
		CategoryDocument:      {MaxBytes: 25 * MiB, AllowedTypes: []string{ContentTypePDF, ContentTypeDOC, ContentTypeDOCX}},
	}
}

type policyFile struct {
	Categories map[string]Rule `yaml:"categories"`
}

// LoadPolicyFile reads a YAML file and overlays it on DefaultPolicy.
// Fields left empty in the file keep their default.
//
//	categories:
//	  profile-photo:
//	    max_bytes: 2097152
//	  document:
//	    allowed_types: [application/pdf]
func LoadPolicyFile(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy is LoadPolicyFile without the file.
func ParsePolicy(raw []byte) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse upload policy: %w", err)
	}

	policy := DefaultPolicy()
	for name, override := range f.Categories {
		c, err := ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("upload policy: %w: %q", err, name)
		}
		rule := policy[c]
		if override.MaxBytes < 0 {
			return nil, fmt.Errorf("upload policy: %s max_bytes must be positive", name)
		}
		if override.MaxBytes > 0 {
			rule.MaxBytes = override.MaxBytes
		}
		if len(override.AllowedTypes) > 0 {
			rule.AllowedTypes = override.AllowedTypes
		}
		policy[c] = rule
	}
	return policy, nil
}
