// Package dictionary provides the immutable schema resolver: an in-memory
// index from node type name to its dictionary definition, built once at
// startup and shared read-only by every transaction.
package dictionary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"graphsub/pkg/domain"
)

// Dictionary is the process-wide schema index. It is immutable after
// construction; transactions receive it by reference.
type Dictionary struct {
	types map[string]domain.TypeDefinition
	names []string
}

// New builds a dictionary from definitions, rejecting structural defects
// that would otherwise surface as confusing runtime errors: duplicate type
// names, links to unknown targets, and unknown cardinalities.
func New(defs []domain.TypeDefinition) (*Dictionary, error) {
	d := &Dictionary{types: make(map[string]domain.TypeDefinition, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("dictionary: type with empty name")
		}
		if _, dup := d.types[def.Name]; dup {
			return nil, fmt.Errorf("dictionary: duplicate type %q", def.Name)
		}
		d.types[def.Name] = def
	}
	for _, def := range d.types {
		for name, link := range def.Links {
			if link.Name == "" {
				link.Name = name
				def.Links[name] = link
			}
			if _, ok := d.types[link.TargetType]; !ok {
				return nil, fmt.Errorf("dictionary: type %q link %q targets unknown type %q",
					def.Name, name, link.TargetType)
			}
			switch link.Cardinality {
			case domain.OneToOne, domain.OneToMany, domain.ManyToOne, domain.ManyToMany:
			default:
				return nil, fmt.Errorf("dictionary: type %q link %q has unknown cardinality %q",
					def.Name, name, link.Cardinality)
			}
		}
	}
	d.names = make([]string, 0, len(d.types))
	for name := range d.types {
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)
	return d, nil
}

// Load reads a JSON array of type definitions.
func Load(r io.Reader) (*Dictionary, error) {
	var defs []domain.TypeDefinition
	if err := json.NewDecoder(r).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	return New(defs)
}

// LoadFile reads a dictionary from a JSON file on disk.
func LoadFile(path string) (*Dictionary, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied schema path
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Get returns the definition for a type name.
func (d *Dictionary) Get(name string) (domain.TypeDefinition, bool) {
	def, ok := d.types[name]
	return def, ok
}

// Types returns all known type names, sorted.
func (d *Dictionary) Types() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Len returns the number of known types.
func (d *Dictionary) Len() int { return len(d.types) }

// SuggestType returns a hint like ` Did you mean 'analyte'?` for an unknown
// type name, or "" when nothing is close enough.
func (d *Dictionary) SuggestType(name string) string {
	return Suggest(name, d.names)
}

// Suggest finds the closest candidate to value by edit distance. The match
// is only offered when it differs in at most a third of its characters, so
// wild guesses stay silent.
func Suggest(value string, candidates []string) string {
	best, bestDist := "", -1
	for _, c := range candidates {
		dist := editDistance(value, c)
		if bestDist == -1 || dist < bestDist {
			best, bestDist = c, dist
		}
	}
	if best == "" || bestDist > max(len(best), len(value))/3 {
		return ""
	}
	return fmt.Sprintf(" Did you mean '%s'?", best)
}

func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
