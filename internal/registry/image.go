package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"genspec/internal/mangle"
	"genspec/internal/typeref"
)

// imageSchemaVersion is bumped whenever the Image encoding changes.
const imageSchemaVersion uint16 = 1

// RecordKind says how a metadata record yields its metadata.
type RecordKind uint8

const (
	// UniqueDirectType records point straight at unique metadata.
	UniqueDirectType RecordKind = iota
	// NonuniqueDirectType records point at foreign metadata that must be
	// canonicalized before use.
	NonuniqueDirectType
	// UniqueDirectClass records name a class whose metadata is obtained
	// from the class object.
	UniqueDirectClass
	// NominalDescriptor records describe a nominal type. Only resilient
	// non-generic types can be instantiated from them.
	NominalDescriptor
)

func (k RecordKind) String() string {
	switch k {
	case UniqueDirectType:
		return "unique-direct-type"
	case NonuniqueDirectType:
		return "nonunique-direct-type"
	case UniqueDirectClass:
		return "unique-direct-class"
	case NominalDescriptor:
		return "nominal-descriptor"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint8(k))
	}
}

// ParseRecordKind accepts the names printed by RecordKind.String.
func ParseRecordKind(s string) (RecordKind, error) {
	for k := UniqueDirectType; k <= NominalDescriptor; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("registry: unknown record kind %q", s)
}

// Record is one entry of an image's metadata section.
type Record struct {
	Kind RecordKind `msgpack:"kind"`
	// Type is the type expression the record describes.
	Type string `msgpack:"type"`
	// Absent marks a class record whose class object is missing.
	Absent bool `msgpack:"absent,omitempty"`
	// Pattern marks a descriptor carrying a metadata pattern.
	Pattern bool `msgpack:"pattern,omitempty"`
	// Generic marks a descriptor of a generic type.
	Generic bool `msgpack:"generic,omitempty"`
}

// Conformance is one entry of an image's protocol conformance table.
type Conformance struct {
	// Type is the conforming nominal type's qualified name.
	Type     string `msgpack:"type"`
	Protocol string `msgpack:"protocol"`
	// Witnesses maps associated type names to type expressions.
	Witnesses map[string]string `msgpack:"witnesses,omitempty"`
}

// Image is the metadata one loaded code image contributes.
type Image struct {
	Schema       uint16        `msgpack:"schema"`
	Name         string        `msgpack:"name"`
	Records      []Record      `msgpack:"records"`
	Conformances []Conformance `msgpack:"conformances,omitempty"`
	// ObjCClasses are the classes visible to the platform class lookup,
	// by runtime name.
	ObjCClasses []string `msgpack:"objc_classes,omitempty"`
}

// section is an Image with its type expressions parsed.
type section struct {
	name    string
	records []parsedRecord
	confs   []parsedConformance
	objc    []string
}

type parsedRecord struct {
	Record
	mangled string
	ref     *typeref.TypeRef
}

type parsedConformance struct {
	typeName  string
	mangled   string
	proto     typeref.ProtocolRef
	witnesses map[string]*typeref.TypeRef
}

func parseImage(img *Image) (*section, error) {
	if img.Schema != 0 && img.Schema != imageSchemaVersion {
		return nil, fmt.Errorf("registry: image %q has schema %d, want %d", img.Name, img.Schema, imageSchemaVersion)
	}
	sec := &section{name: img.Name, objc: append([]string(nil), img.ObjCClasses...)}
	for i, r := range img.Records {
		ref, err := typeref.Parse(r.Type)
		if err != nil {
			return nil, fmt.Errorf("registry: image %q record %d: %w", img.Name, i, err)
		}
		sec.records = append(sec.records, parsedRecord{Record: r, mangled: mangle.Type(ref), ref: ref})
	}
	for i, c := range img.Conformances {
		proto, err := parseProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("registry: image %q conformance %d: %w", img.Name, i, err)
		}
		pc := parsedConformance{
			typeName:  c.Type,
			mangled:   mangle.Type(typeref.Nominal(c.Type, nil)),
			proto:     proto,
			witnesses: make(map[string]*typeref.TypeRef, len(c.Witnesses)),
		}
		for member, expr := range c.Witnesses {
			w, err := typeref.Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("registry: image %q witness %s.%s: %w", img.Name, c.Type, member, err)
			}
			pc.witnesses[member] = w
		}
		sec.confs = append(sec.confs, pc)
	}
	return sec, nil
}

func parseProtocol(s string) (typeref.ProtocolRef, error) {
	t, err := typeref.Parse(s)
	if err != nil {
		return typeref.ProtocolRef{}, err
	}
	switch t.Kind {
	case typeref.KindProtocol:
		return t.Protocol, nil
	case typeref.KindNominal:
		// A bare qualified name parses as nominal.
		return protocolFromName(t.Nominal.Name), nil
	}
	return typeref.ProtocolRef{}, fmt.Errorf("registry: %q is not a protocol", s)
}

func protocolFromName(name string) typeref.ProtocolRef {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return typeref.ProtocolRef{Module: name[:i], Name: name[i+1:]}
		}
	}
	return typeref.ProtocolRef{Name: name}
}

// Encode writes img as msgpack.
func Encode(w io.Writer, img *Image) error {
	out := *img
	out.Schema = imageSchemaVersion
	return msgpack.NewEncoder(w).Encode(&out)
}

// Decode reads an msgpack image.
func Decode(r io.Reader) (*Image, error) {
	var img Image
	if err := msgpack.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("registry: decode image: %w", err)
	}
	return &img, nil
}

// WriteImage atomically replaces path with the encoding of img.
func WriteImage(path string, img *Image) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()
	if err := Encode(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadImage loads an image written by WriteImage.
func ReadImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
