// Package schema loads the AddressBase record-type registry: the positional
// field layouts that drive both raw-row parsing and the DuckDB table
// definitions. The registry is an external versioned YAML document; the copy
// shipped with the binary matches the current Ordnance Survey relation.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistry []byte

// FieldType enumerates the scalar types a registry field can declare.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeInteger FieldType = "integer"
	TypeBigint  FieldType = "bigint"
	TypeUPRN    FieldType = "uprn"
	TypeDouble  FieldType = "double"
	TypeDate    FieldType = "date"
)

// duckType maps a registry field type to its DuckDB column type.
var duckType = map[FieldType]string{
	TypeText:    "VARCHAR",
	TypeInteger: "INTEGER",
	TypeBigint:  "BIGINT",
	TypeUPRN:    "UBIGINT",
	TypeDouble:  "DOUBLE",
	TypeDate:    "DATE",
}

// Field is one positional column of a record type.
type Field struct {
	Name string    `yaml:"name"`
	Type FieldType `yaml:"type"`
}

// RecordType is the layout of one AddressBase record identifier.
type RecordType struct {
	Code   string  `yaml:"code"`
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields"`
}

// Registry is the full record-type registry for one AddressBase release.
type Registry struct {
	Version      string       `yaml:"version"`
	IgnoredCodes []string     `yaml:"ignored_codes"`
	RecordTypes  []RecordType `yaml:"record_types"`

	byCode  map[string]*RecordType
	byName  map[string]*RecordType
	ignored map[string]bool
}

// requiredRelations are the record types the flatfile transformation joins;
// a registry missing any of them cannot drive the pipeline.
var requiredRelations = []string{
	"blpu", "lpi", "street_descriptor", "organisation", "delivery_point", "classification",
}

// Load reads a registry from the given YAML file, or the embedded default
// when path is empty.
func Load(path string) (*Registry, error) {
	data := defaultRegistry
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema registry: %w", err)
		}
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse schema registry: %w", err)
	}
	if err := reg.init(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) init() error {
	r.byCode = make(map[string]*RecordType, len(r.RecordTypes))
	r.byName = make(map[string]*RecordType, len(r.RecordTypes))
	r.ignored = make(map[string]bool, len(r.IgnoredCodes))

	for _, code := range r.IgnoredCodes {
		r.ignored[code] = true
	}
	for i := range r.RecordTypes {
		rt := &r.RecordTypes[i]
		if rt.Code == "" || rt.Name == "" {
			return fmt.Errorf("schema registry: record type %d missing code or name", i)
		}
		if len(rt.Fields) == 0 {
			return fmt.Errorf("schema registry: record type %q has no fields", rt.Name)
		}
		if _, dup := r.byCode[rt.Code]; dup {
			return fmt.Errorf("schema registry: duplicate code %q", rt.Code)
		}
		if _, dup := r.byName[rt.Name]; dup {
			return fmt.Errorf("schema registry: duplicate name %q", rt.Name)
		}
		for _, f := range rt.Fields {
			if _, ok := duckType[f.Type]; !ok {
				return fmt.Errorf("schema registry: %s.%s has unknown type %q", rt.Name, f.Name, f.Type)
			}
		}
		r.byCode[rt.Code] = rt
		r.byName[rt.Name] = rt
	}

	for _, name := range requiredRelations {
		if _, ok := r.byName[name]; !ok {
			return fmt.Errorf("schema registry: required record type %q not defined", name)
		}
	}
	return nil
}

// ByCode returns the record type for a raw record identifier.
func (r *Registry) ByCode(code string) (*RecordType, bool) {
	rt, ok := r.byCode[code]
	return rt, ok
}

// ByName returns the record type by relation name.
func (r *Registry) ByName(name string) (*RecordType, bool) {
	rt, ok := r.byName[name]
	return rt, ok
}

// Ignored reports whether a record identifier is recognised but not
// materialised (headers, trailers, street topology records).
func (r *Registry) Ignored(code string) bool {
	return r.ignored[code]
}

// CreateTableSQL renders the DuckDB DDL for one record type.
func (rt *RecordType) CreateTableSQL() string {
	cols := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		cols[i] = fmt.Sprintf("%s %s", f.Name, duckType[f.Type])
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", rt.Name, strings.Join(cols, ", "))
}

// InsertSQL renders the positional INSERT statement for one record type.
func (rt *RecordType) InsertSQL() string {
	marks := make([]string, len(rt.Fields))
	for i := range marks {
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", rt.Name, strings.Join(marks, ", "))
}
