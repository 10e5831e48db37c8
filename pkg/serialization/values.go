package serialization

import "time"

// Value is implemented by the typed domain values produced by Decode.
// The set is closed: Date, Reference, Relation, Sequence and Asset.
type Value interface {
	domainValue()
}

// Date is an absolute instant, normalized to UTC at microsecond precision,
// which is the precision of the wire format. Build it with NewDate: a Date
// holding any other time encodes as NewDate of that time, so only normalized
// values survive a round trip unchanged.
type Date struct {
	time.Time
}

// NewDate normalizes t to the wire precision.
func NewDate(t time.Time) Date {
	return Date{Time: t.UTC().Truncate(time.Microsecond)}
}

func (Date) domainValue() {}

// Reference points at another record by identifier. It carries no record data.
type Reference struct {
	ID string
}

func (Reference) domainValue() {}

// RelationDirection is the direction of a Relation.
type RelationDirection string

const (
	RelationOutward RelationDirection = "outward"
	RelationInward  RelationDirection = "inward"
	RelationMutual  RelationDirection = "mutual"
)

// Relation marks a named relation between records.
type Relation struct {
	Name      string
	Direction RelationDirection
}

func (Relation) domainValue() {}

// Sequence is an ordered list of values used for atomic append/remove list
// operations, as opposed to a plain array which replaces the whole field.
type Sequence struct {
	Values []any
}

func (Sequence) domainValue() {}

// Asset identifies a binary blob. Assets are only found under known field
// names, so they are decoded with DecodeAsset rather than Decode.
type Asset struct {
	Name        string
	ContentType string
	URL         string
}

func (Asset) domainValue() {}
