package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Manifest overrides built-in prompts, e.g. to translate them or to use
// recorded beeps.
type Manifest struct {
	Voice   string   `yaml:"voice,omitempty"`
	Prompts []Prompt `yaml:"prompts"`
}

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// LoadManifest reads a manifest from disk. Relative file paths are resolved
// against the manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse prompt manifest: %w", err)
	}
	dir := filepath.Dir(path)
	for i := range m.Prompts {
		if f := m.Prompts[i].File; f != "" && !filepath.IsAbs(f) {
			m.Prompts[i].File = filepath.Join(dir, f)
		}
	}
	return m, nil
}

// Validate ensures every entry has a well formed key, is unique and defines
// exactly one source.
func Validate(m Manifest) error {
	seen := map[string]bool{}
	for i, p := range m.Prompts {
		if p.Key == "" {
			return fmt.Errorf("prompts[%d].key is required", i)
		}
		if !keyPattern.MatchString(p.Key) {
			return fmt.Errorf("prompts[%d].key %q must be lower snake case", i, p.Key)
		}
		if seen[p.Key] {
			return fmt.Errorf("prompts[%d].key %q is duplicated", i, p.Key)
		}
		seen[p.Key] = true

		sources := 0
		if p.Text != "" {
			sources++
		}
		if p.File != "" {
			sources++
		}
		if p.Tone != nil {
			sources++
			if p.Tone.Hz <= 0 || p.Tone.DurationMS <= 0 {
				return fmt.Errorf("prompts[%d].tone needs positive hz and duration_ms", i)
			}
		}
		if sources != 1 {
			return fmt.Errorf("prompts[%d] must set exactly one of text, file or tone", i)
		}
	}
	return nil
}
