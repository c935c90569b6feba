package embedding

import "strings"

// Family is the model-family sum type. Families differ only in how the input
// text is prepared before inference; the Engine contract is uniform.
type Family int

const (
	// FamilyPlain passes text through unchanged.
	FamilyPlain Family = iota

	// FamilyQueryPrefix prepends "query: " for queries and "passage: " for
	// documents (e5-style models).
	FamilyQueryPrefix

	// FamilyInstruction prepends an instruction string (instructor/bge-style
	// models).
	FamilyInstruction
)

func (f Family) String() string {
	switch f {
	case FamilyQueryPrefix:
		return "query_prefix"
	case FamilyInstruction:
		return "instruction"
	default:
		return "plain"
	}
}

const (
	queryPrefix   = "query: "
	passagePrefix = "passage: "

	queryInstruction    = "Represent this sentence for searching relevant passages: "
	documentInstruction = "Represent this document for retrieval: "
)

// DetectFamily picks the family by model-name introspection.
func DetectFamily(modelName string) Family {
	name := strings.ToLower(modelName)
	switch {
	case strings.Contains(name, "e5"):
		return FamilyQueryPrefix
	case strings.Contains(name, "instructor"), strings.Contains(name, "bge"):
		return FamilyInstruction
	default:
		return FamilyPlain
	}
}

// prepare applies the family's input convention. isQuery distinguishes query
// encoding from document encoding.
func (f Family) prepare(text string, isQuery bool) string {
	switch f {
	case FamilyQueryPrefix:
		if isQuery {
			return queryPrefix + text
		}
		return passagePrefix + text
	case FamilyInstruction:
		if isQuery {
			return queryInstruction + text
		}
		return documentInstruction + text
	default:
		return text
	}
}

// instruction returns the cache-key instruction component for the family.
func (f Family) instruction(isQuery bool) string {
	switch f {
	case FamilyQueryPrefix:
		if isQuery {
			return queryPrefix
		}
		return passagePrefix
	case FamilyInstruction:
		if isQuery {
			return queryInstruction
		}
		return documentInstruction
	default:
		return ""
	}
}
