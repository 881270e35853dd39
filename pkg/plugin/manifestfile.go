package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// manifestDoc is the on-disk YAML shape of a PluginManifest: a declarative
// file an operator edits instead of registering plugins in code.
type manifestDoc struct {
	ID                   string   `yaml:"id"`
	Name                 string   `yaml:"name"`
	Version              string   `yaml:"version"`
	ActivationEvents     []string `yaml:"activationEvents"`
	DeclaredCapabilities []string `yaml:"declaredCapabilities"`
	Command              []string `yaml:"command"`
}

// LoadManifestFile reads a single YAML manifest file into a PluginManifest.
func LoadManifestFile(path string) (PluginManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PluginManifest{}, fmt.Errorf("read manifest file: %w", err)
	}

	var doc manifestDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return PluginManifest{}, fmt.Errorf("unmarshal manifest file %s: %w", path, err)
	}
	if doc.ID == "" {
		return PluginManifest{}, fmt.Errorf("manifest file %s: id cannot be empty", path)
	}

	manifest := PluginManifest{
		ID:      doc.ID,
		Name:    doc.Name,
		Version: doc.Version,
		Command: doc.Command,
	}
	for _, tag := range doc.ActivationEvents {
		manifest.ActivationEvents = append(manifest.ActivationEvents, ActivationEvent(tag))
	}
	for _, tag := range doc.DeclaredCapabilities {
		manifest.DeclaredCapabilities = append(manifest.DeclaredCapabilities, Capability(tag))
	}
	return manifest, nil
}

// LoadManifestDir reads every *.yaml/*.yml file in dir into manifests,
// sorted by filename for deterministic registration order.
func LoadManifestDir(dir string) ([]PluginManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	manifests := make([]PluginManifest, 0, len(names))
	for _, name := range names {
		manifest, err := LoadManifestFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}
