package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Decode converts a wire value into its domain form. Mappings carrying TypeKey
// are decoded according to their tag; other mappings and slices are decoded
// element by element; scalars are returned unchanged.
func Decode(wire any) (any, error) {
	return decodeAt(wire, "")
}

// DecodeBatch decodes each value independently. A failure is reported at the
// index of the failing value and leaves the other results intact.
func DecodeBatch(values []any) ([]any, []error) {
	results := make([]any, len(values))
	errs := make([]error, len(values))
	for i, v := range values {
		results[i], errs[i] = Decode(v)
	}
	return results, errs
}

func decodeAt(wire any, path string) (any, error) {
	switch v := wire.(type) {
	case map[string]any:
		if tag, ok := v[TypeKey]; ok {
			decoded, err := decodeTyped(tag, v, path)
			if err != nil {
				var located *PathError
				if errors.As(err, &located) {
					return nil, err
				}
				return nil, wrapPath(path, err)
			}
			return decoded, nil
		}
		out := make(map[string]any, len(v))
		for key, child := range v {
			decoded, err := decodeAt(child, joinPath(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		}
		return out, nil
	case []any:
		return decodeSlice(v, path)
	default:
		return wire, nil
	}
}

func decodeSlice(values []any, path string) ([]any, error) {
	out := make([]any, len(values))
	for i, child := range values {
		decoded, err := decodeAt(child, path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}

func decodeTyped(tag any, m map[string]any, path string) (any, error) {
	name, _ := tag.(string)
	switch name {
	case TypeDate:
		s, ok := m[DateKey].(string)
		if !ok {
			return nil, &MissingFieldError{Tag: TypeDate, Field: DateKey}
		}
		t, err := DateFromString(s)
		if err != nil {
			return nil, err
		}
		return Date{Time: t}, nil
	case TypeReference:
		id, ok := m[IDKey].(string)
		if !ok || id == "" {
			return nil, &MissingFieldError{Tag: TypeReference, Field: IDKey}
		}
		return Reference{ID: id}, nil
	case TypeRelation:
		relName, ok := m[RelationNameKey].(string)
		if !ok || relName == "" {
			return nil, &MissingFieldError{Tag: TypeRelation, Field: RelationNameKey}
		}
		direction, ok := m[RelationDirectionKey].(string)
		if !ok || direction == "" {
			return nil, &MissingFieldError{Tag: TypeRelation, Field: RelationDirectionKey}
		}
		return Relation{Name: relName, Direction: RelationDirection(direction)}, nil
	case TypeSequence:
		raw, ok := m[SequenceKey].([]any)
		if !ok {
			return nil, &MissingFieldError{Tag: TypeSequence, Field: SequenceKey}
		}
		values, err := decodeSlice(raw, joinPath(path, SequenceKey))
		if err != nil {
			return nil, err
		}
		return Sequence{Values: values}, nil
	default:
		return nil, &UnknownTypeTagError{Tag: tag}
	}
}

// DecodeAsset builds an Asset from its embedded mapping. Only the name is required.
func DecodeAsset(m map[string]any) (Asset, error) {
	name, ok := m[AssetNameKey].(string)
	if !ok || name == "" {
		return Asset{}, &MissingFieldError{Tag: "asset", Field: AssetNameKey}
	}
	asset := Asset{Name: name}
	asset.ContentType, _ = m[AssetContentTypeKey].(string)
	asset.URL, _ = m[AssetURLKey].(string)
	return asset, nil
}

// Encode converts a domain value into its wire form. Every typed value becomes
// a mapping carrying the tag it decodes from, so Decode(Encode(x)) == x.
// time.Time values are encoded as dates.
func Encode(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case Date:
		return encodeDate(NewDate(v.Time).Time), nil
	case time.Time:
		return encodeDate(v), nil
	case Reference:
		return map[string]any{TypeKey: TypeReference, IDKey: v.ID}, nil
	case Relation:
		return map[string]any{
			TypeKey:              TypeRelation,
			RelationNameKey:      v.Name,
			RelationDirectionKey: string(v.Direction),
		}, nil
	case Sequence:
		values, err := encodeSlice(v.Values)
		if err != nil {
			return nil, err
		}
		return map[string]any{TypeKey: TypeSequence, SequenceKey: values}, nil
	case Asset:
		m := map[string]any{AssetNameKey: v.Name}
		if v.ContentType != "" {
			m[AssetContentTypeKey] = v.ContentType
		}
		if v.URL != "" {
			m[AssetURLKey] = v.URL
		}
		return m, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			encoded, err := Encode(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = encoded
		}
		return out, nil
	case []any:
		return encodeSlice(v)
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	default:
		return nil, &UnsupportedValueError{Value: value}
	}
}

func encodeSlice(values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, child := range values {
		encoded, err := Encode(child)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = encoded
	}
	return out, nil
}

func encodeDate(t time.Time) map[string]any {
	return map[string]any{TypeKey: TypeDate, DateKey: StringFromDate(t)}
}

// ParseJSON parses JSON into an undecoded wire value, keeping numbers as
// json.Number.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var wire any
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to parse wire json: %w", err)
	}
	return wire, nil
}

// Unmarshal parses JSON with ParseJSON and decodes the result.
func Unmarshal(data []byte) (any, error) {
	wire, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return Decode(wire)
}

// Marshal encodes value and renders it as JSON.
func Marshal(value any) ([]byte, error) {
	wire, err := Encode(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func wrapPath(path string, err error) error {
	if path == "" {
		return err
	}
	return &PathError{Path: path, Err: err}
}
