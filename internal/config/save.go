package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/keelruntime/keel/internal/log"
)

// lastFeatureKey is the yaml key holding the last-active feature name.
const lastFeatureKey = "last_feature"

// FeatureStateStore persists the last-active feature name, the opaque
// string the boot hook speculatively preloads. It is an external
// collaborator of the runtime: the surrounding application writes it, the
// boot sequence only reads it.
type FeatureStateStore struct {
	Path string
}

// LastFeature reads the stored feature name. A missing file or key yields
// an empty name, not an error.
func (s FeatureStateStore) LastFeature() (string, error) {
	if s.Path == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading feature state: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parsing feature state: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return "", nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return "", nil
	}
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == lastFeatureKey {
			return root.Content[i+1].Value, nil
		}
	}
	return "", nil
}

// SaveLastFeature updates the stored feature name in place, preserving any
// other keys and comments in the file by editing the yaml document tree.
func (s FeatureStateStore) SaveLastFeature(name string) error {
	if s.Path == "" {
		return fmt.Errorf("feature state path not configured")
	}

	data, err := os.ReadFile(s.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading feature state: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing feature state: %w", err)
		}
	}

	valueNode := &yaml.Node{Kind: yaml.ScalarNode, Value: name}

	if doc.Kind == 0 {
		// Empty or new file - create document structure
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: lastFeatureKey},
						valueNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind == yaml.MappingNode {
			found := false
			for i := 0; i < len(root.Content)-1; i += 2 {
				if root.Content[i].Value == lastFeatureKey {
					root.Content[i+1] = valueNode
					found = true
					break
				}
			}
			if !found {
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: lastFeatureKey},
					valueNode,
				)
			}
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding feature state: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.WriteFile(s.Path, buf.Bytes(), 0644); err != nil { //nolint:gosec // G306: state file is not sensitive
		return fmt.Errorf("writing feature state: %w", err)
	}

	log.Debug(log.CatConfig, "last feature saved", "feature", name, "path", s.Path)
	return nil
}
