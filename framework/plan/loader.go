package plan

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadPlans reads all plan files from a directory recursively, in lexical
// file order. Documents with variants expand into one plan per variant.
func LoadPlans(root string) ([]TestPlan, error) {
	var plans []TestPlan

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isPlanFile(path) {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		filePlans, parseErr := Parse(data, path)
		if parseErr != nil {
			return parseErr
		}
		plans = append(plans, filePlans...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load plans from %s", root)
	}
	if err := checkUniqueNames(plans); err != nil {
		return nil, errors.Wrapf(err, "load plans from %s", root)
	}
	return plans, nil
}

// checkUniqueNames rejects plans sharing a name; each name owns one
// artifact directory.
func checkUniqueNames(plans []TestPlan) error {
	seen := make(map[string]string, len(plans))
	for _, p := range plans {
		if first, ok := seen[p.Metadata.Name]; ok {
			return errors.Errorf("duplicate plan name %q in %s and %s", p.Metadata.Name, first, p.Source)
		}
		seen[p.Metadata.Name] = p.Source
	}
	return nil
}

// Parse decodes a multi-document YAML stream.
func Parse(data []byte, source string) ([]TestPlan, error) {
	var plans []TestPlan
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 1; ; doc++ {
		var p TestPlan
		if err := decoder.Decode(&p); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "%s: document %d", source, doc)
		}
		if p.Metadata.Name == "" && p.Case == "" {
			continue
		}
		if p.Case == "" {
			return nil, errors.Errorf("%s: document %d: case is required", source, doc)
		}
		if p.Metadata.Name == "" {
			p.Metadata.Name = p.Case
		}
		if _, err := p.TimeoutDuration(0); err != nil {
			return nil, errors.Wrapf(err, "%s: %s", source, p.Metadata.Name)
		}
		if _, err := p.IterationTimeout(); err != nil {
			return nil, errors.Wrapf(err, "%s: %s", source, p.Metadata.Name)
		}
		p.Source = source
		if len(p.Variants) > 0 {
			plans = append(plans, expandVariants(p)...)
		} else {
			plans = append(plans, p)
		}
	}
	return plans, nil
}

func isPlanFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func expandVariants(base TestPlan) []TestPlan {
	out := make([]TestPlan, 0, len(base.Variants))
	for i, variant := range base.Variants {
		planCopy := base
		planCopy.Variants = nil
		planCopy.Metadata.Name = variantName(base.Metadata.Name, variant, i)
		planCopy.Metadata.Tags = mergeTags(base.Metadata.Tags, variant.Tags)
		planCopy.With = mergeWith(base.With, variant.With)
		if len(variant.Platforms) > 0 {
			planCopy.Platforms = append([]string(nil), variant.Platforms...)
		}
		if variant.Loop > 0 {
			planCopy.Loop = variant.Loop
		}
		out = append(out, planCopy)
	}
	return out
}

func variantName(baseName string, variant VariantPlan, index int) string {
	if name := strings.TrimSpace(variant.Name); name != "" {
		return name
	}
	if suffix := strings.TrimSpace(variant.NameSuffix); suffix != "" {
		return fmt.Sprintf("%s-%s", baseName, suffix)
	}
	return fmt.Sprintf("%s-%d", baseName, index+1)
}

func mergeTags(base []string, extra []string) []string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	add := func(tag string) {
		value := strings.TrimSpace(tag)
		if value == "" {
			return
		}
		key := strings.ToLower(value)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, value)
	}
	for _, tag := range base {
		add(tag)
	}
	for _, tag := range extra {
		add(tag)
	}
	return out
}

func mergeWith(base, overrides map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(overrides))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range overrides {
		out[key] = value
	}
	return out
}
