// Package domain defines the entity documents, graph records, schema
// definitions, and error/result types shared by the graphsub transaction
// engine.
package domain

// Category classifies a node type within the dictionary.
type Category string

// Dictionary categories. File categories get index records in the object
// store on creation.
const (
	CategoryAdministrative Category = "administrative"
	CategoryBiospecimen    Category = "biospecimen"
	CategoryClinical       Category = "clinical"
	CategoryDataFile       Category = "data_file"
	CategoryMetadataFile   Category = "metadata_file"
	CategoryIndexFile      Category = "index_file"
	CategoryNotation       Category = "notation"
)

// IsFile reports whether nodes of this category carry object-store index
// records.
func (c Category) IsFile() bool {
	switch c {
	case CategoryDataFile, CategoryMetadataFile, CategoryIndexFile:
		return true
	}
	return false
}

// Cardinality constrains how many references a link may carry on each side.
type Cardinality string

// Schema-defined link cardinalities.
const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToOne  Cardinality = "many_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// MaxReferences returns the maximum number of targets a single submitted
// entity may reference through a link of this cardinality, or -1 when
// unbounded.
func (c Cardinality) MaxReferences() int {
	switch c {
	case OneToOne, ManyToOne:
		return 1
	}
	return -1
}

// MaxSources returns the maximum number of entities that may claim a single
// target through a link of this cardinality, or -1 when unbounded.
func (c Cardinality) MaxSources() int {
	switch c {
	case OneToOne, OneToMany:
		return 1
	}
	return -1
}

// PropertyKind enumerates the value kinds a property definition may declare.
type PropertyKind string

// Supported property value kinds.
const (
	KindString  PropertyKind = "string"
	KindNumber  PropertyKind = "number"
	KindInteger PropertyKind = "integer"
	KindBoolean PropertyKind = "boolean"
	KindArray   PropertyKind = "array"
	KindAny     PropertyKind = "any"
)

// PropertyDefinition constrains a single property of a node type.
type PropertyDefinition struct {
	Kind    PropertyKind `json:"kind"`
	Enum    []string     `json:"enum,omitempty"`
	Pattern string       `json:"pattern,omitempty"`
	Default any          `json:"default,omitempty"`
}

// LinkDefinition describes a named relationship from one node type to
// another.
type LinkDefinition struct {
	Name        string      `json:"name"`
	TargetType  string      `json:"target_type"`
	Label       string      `json:"label,omitempty"`
	Cardinality Cardinality `json:"cardinality"`
	Required    bool        `json:"required"`
}

// TypeDefinition is the dictionary entry for a node type. Definitions are
// immutable once the dictionary is built.
type TypeDefinition struct {
	Name             string                        `json:"name"`
	Category         Category                      `json:"category"`
	Required         []string                      `json:"required,omitempty"`
	Properties       map[string]PropertyDefinition `json:"properties"`
	SystemProperties []string                      `json:"system_properties,omitempty"`
	Links            map[string]LinkDefinition     `json:"links,omitempty"`
}

// IsSystemProperty reports whether key is declared system-owned for this
// type.
func (d TypeDefinition) IsSystemProperty(key string) bool {
	for _, k := range d.SystemProperties {
		if k == key {
			return true
		}
	}
	return false
}

// IsRequired reports whether key must be present on submission.
func (d TypeDefinition) IsRequired(key string) bool {
	for _, k := range d.Required {
		if k == key {
			return true
		}
	}
	return false
}
