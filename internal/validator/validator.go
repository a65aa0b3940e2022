// Package validator checks one submitted document against its dictionary
// definition. Validation is pure: it never touches storage, never stops at
// the first problem, and reports every error it finds so the submitter sees
// the complete picture in one round trip.
package validator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"graphsub/internal/dictionary"
	"graphsub/pkg/domain"
)

var reservedKeys = map[string]struct{}{
	domain.KeyType:            {},
	domain.KeyID:              {},
	domain.KeySubmitterID:     {},
	domain.KeyProjectID:       {},
	domain.KeyCreatedDatetime: {},
	domain.KeyUpdatedDatetime: {},
}

// Validate returns every error in doc. An empty slice means the document is
// valid against the schema; reference targets are the resolver's concern.
func Validate(doc domain.SubmissionDocument, dict *dictionary.Dictionary) []domain.EntityError {
	var errs []domain.EntityError

	typeName := doc.Type()
	if typeName == "" {
		return append(errs, domain.NewEntityError(domain.ErrInvalidType,
			"missing 'type'", domain.KeyType))
	}
	def, ok := dict.Get(typeName)
	if !ok {
		msg := fmt.Sprintf("Invalid entity type: %s.%s", typeName, dict.SuggestType(typeName))
		return append(errs, domain.NewEntityError(domain.ErrInvalidType, msg, domain.KeyType))
	}

	if doc.ID() == "" && doc.SubmitterID() == "" {
		errs = append(errs, domain.NewEntityError(domain.ErrMissingProperty,
			"either an id or a submitter_id is required", domain.KeyID, domain.KeySubmitterID))
	}

	errs = append(errs, checkRequired(doc, def)...)
	errs = append(errs, checkKeys(doc, def)...)
	return errs
}

func checkRequired(doc domain.SubmissionDocument, def domain.TypeDefinition) []domain.EntityError {
	var errs []domain.EntityError
	for _, key := range def.Required {
		v, present := doc.Body[key]
		if !present {
			errs = append(errs, domain.NewEntityError(domain.ErrMissingProperty,
				fmt.Sprintf("'%s' is a required property", key), key))
			continue
		}
		// Explicit null would clear the property, which a required
		// property cannot allow.
		if v == nil {
			errs = append(errs, domain.NewEntityError(domain.ErrMissingProperty,
				fmt.Sprintf("'%s' is a required property and cannot be null", key), key))
		}
	}
	for name, link := range def.Links {
		if !link.Required {
			continue
		}
		refs, err := doc.References(name)
		if err != nil {
			continue // reported by checkKeys
		}
		if len(refs) == 0 {
			errs = append(errs, domain.NewEntityError(domain.ErrMissingProperty,
				fmt.Sprintf("'%s' is a required link", name), name))
		}
	}
	return errs
}

func checkKeys(doc domain.SubmissionDocument, def domain.TypeDefinition) []domain.EntityError {
	var errs []domain.EntityError
	keys := make([]string, 0, len(doc.Body))
	for key := range doc.Body {
		keys = append(keys, key)
	}
	sort.Strings(keys) // deterministic error ordering
	for _, key := range keys {
		value := doc.Body[key]
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		if link, isLink := def.Links[key]; isLink {
			errs = append(errs, checkLink(doc, key, link)...)
			continue
		}
		prop, isProp := def.Properties[key]
		if !isProp {
			msg := fmt.Sprintf("Key '%s' is not a valid property for type '%s'.%s",
				key, def.Name, dictionary.Suggest(key, knownKeys(def)))
			errs = append(errs, domain.NewEntityError(domain.ErrInvalidProperty, msg, key))
			continue
		}
		if value == nil {
			continue // explicit null clears an optional property
		}
		errs = append(errs, checkValue(key, value, prop)...)
	}
	return errs
}

func checkLink(doc domain.SubmissionDocument, key string, link domain.LinkDefinition) []domain.EntityError {
	refs, err := doc.References(key)
	if err != nil {
		return []domain.EntityError{domain.NewEntityError(domain.ErrInvalidLink, err.Error(), key)}
	}
	if limit := link.Cardinality.MaxReferences(); limit > 0 && len(refs) > limit {
		msg := fmt.Sprintf("'%s' has cardinality %s and accepts at most %d reference(s), got %d",
			key, link.Cardinality, limit, len(refs))
		return []domain.EntityError{domain.NewEntityError(domain.ErrInvalidLink, msg, key)}
	}
	return nil
}

func checkValue(key string, value any, prop domain.PropertyDefinition) []domain.EntityError {
	var errs []domain.EntityError
	if kindErr := checkKind(key, value, prop.Kind); kindErr != nil {
		errs = append(errs, *kindErr)
	}
	if len(prop.Enum) > 0 {
		if s, ok := value.(string); ok && !inEnum(s, prop.Enum) {
			msg := fmt.Sprintf("'%v' is not one of %v for key '%s'", value, prop.Enum, key)
			errs = append(errs, domain.NewEntityError(domain.ErrInvalidValue, msg, key))
		}
	}
	if prop.Pattern != "" {
		if s, ok := value.(string); ok {
			re, err := regexp.Compile(prop.Pattern)
			if err == nil && !re.MatchString(s) {
				msg := fmt.Sprintf("'%s' does not match pattern '%s' for key '%s'", s, prop.Pattern, key)
				errs = append(errs, domain.NewEntityError(domain.ErrInvalidValue, msg, key))
			}
		}
	}
	return errs
}

func checkKind(key string, value any, kind domain.PropertyKind) *domain.EntityError {
	ok := true
	switch kind {
	case domain.KindString:
		_, ok = value.(string)
	case domain.KindBoolean:
		_, ok = value.(bool)
	case domain.KindNumber:
		ok = isNumber(value)
	case domain.KindInteger:
		ok = isInteger(value)
	case domain.KindArray:
		_, ok = value.([]any)
	case domain.KindAny, "":
	default:
		ok = false
	}
	if ok {
		return nil
	}
	err := domain.NewEntityError(domain.ErrInvalidValue,
		fmt.Sprintf("'%v' is not of type %s for key '%s'", value, kind, key), key)
	return &err
}

func isNumber(value any) bool {
	switch value.(type) {
	case json.Number, float64, int, int64:
		return true
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int64:
		return true
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case float64:
		return v == float64(int64(v))
	}
	return false
}

func inEnum(s string, enum []string) bool {
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}

func knownKeys(def domain.TypeDefinition) []string {
	keys := make([]string, 0, len(def.Properties)+len(def.Links))
	for k := range def.Properties {
		keys = append(keys, k)
	}
	for k := range def.Links {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
