package fixture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"genspec/internal/registry"
)

// ImageDoc is the YAML form of a metadata image.
type ImageDoc struct {
	Name         string           `yaml:"name"`
	Records      []RecordDoc      `yaml:"records,omitempty"`
	Conformances []ConformanceDoc `yaml:"conformances,omitempty"`
	ObjCClasses  []string         `yaml:"objc_classes,omitempty"`
}

type RecordDoc struct {
	Kind    string `yaml:"kind"`
	Type    string `yaml:"type"`
	Absent  bool   `yaml:"absent,omitempty"`
	Pattern bool   `yaml:"pattern,omitempty"`
	Generic bool   `yaml:"generic,omitempty"`
}

type ConformanceDoc struct {
	Type      string            `yaml:"type"`
	Protocol  string            `yaml:"protocol"`
	Witnesses map[string]string `yaml:"witnesses,omitempty"`
}

// ReadImageFile loads the image description at path.
func ReadImageFile(path string) (*registry.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := ReadImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func ReadImage(r io.Reader) (*registry.Image, error) {
	var doc ImageDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	return doc.Build()
}

// Build converts the description. Type expressions are checked when the
// image is registered.
func (doc *ImageDoc) Build() (*registry.Image, error) {
	if doc.Name == "" {
		return nil, fmt.Errorf("fixture: image without a name")
	}
	img := &registry.Image{Name: doc.Name, ObjCClasses: doc.ObjCClasses}
	for i, r := range doc.Records {
		kind, err := registry.ParseRecordKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("fixture: image %s record %d: %w", doc.Name, i, err)
		}
		img.Records = append(img.Records, registry.Record{
			Kind:    kind,
			Type:    r.Type,
			Absent:  r.Absent,
			Pattern: r.Pattern,
			Generic: r.Generic,
		})
	}
	for _, c := range doc.Conformances {
		img.Conformances = append(img.Conformances, registry.Conformance{
			Type:      c.Type,
			Protocol:  c.Protocol,
			Witnesses: c.Witnesses,
		})
	}
	return img, nil
}

// DescribeImage is the inverse of Build.
func DescribeImage(img *registry.Image) *ImageDoc {
	doc := &ImageDoc{Name: img.Name, ObjCClasses: img.ObjCClasses}
	for _, r := range img.Records {
		doc.Records = append(doc.Records, RecordDoc{
			Kind:    r.Kind.String(),
			Type:    r.Type,
			Absent:  r.Absent,
			Pattern: r.Pattern,
			Generic: r.Generic,
		})
	}
	for _, c := range img.Conformances {
		doc.Conformances = append(doc.Conformances, ConformanceDoc{
			Type:      c.Type,
			Protocol:  c.Protocol,
			Witnesses: c.Witnesses,
		})
	}
	return doc
}

// LoadImage reads either an encoded image or, for .yaml and .yml paths, an
// image description.
func LoadImage(path string) (*registry.Image, error) {
	if IsYAML(path) {
		return ReadImageFile(path)
	}
	return registry.ReadImage(path)
}

// IsYAML reports whether path names a YAML document.
func IsYAML(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
