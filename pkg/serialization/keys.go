// Package serialization converts between wire values (the JSON-compatible
// values exchanged with the backend) and typed domain values.
package serialization

// TypeKey is the reserved discriminator key. A mapping carrying it is a typed
// payload; its remaining fields follow the schema of the tag.
const TypeKey = "$type"

// Recognized type tags.
const (
	TypeReference = "ref"
	TypeDate      = "date"
	TypeRelation  = "relation"
	TypeSequence  = "seq"
)

// Field keys used by the tag schemas and by asset mappings.
const (
	DateKey              = "$date"
	IDKey                = "$id"
	RelationNameKey      = "$name"
	RelationDirectionKey = "$direction"
	SequenceKey          = "$seq"

	AssetNameKey        = "$name"
	AssetContentTypeKey = "$content_type"
	AssetURLKey         = "$url"
)

// KnownTypeTags lists every tag Decode dispatches on.
func KnownTypeTags() []string {
	return []string{TypeReference, TypeDate, TypeRelation, TypeSequence}
}
