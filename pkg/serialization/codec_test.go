package serialization_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

func sampleDate() serialization.Date {
	return serialization.NewDate(time.Date(2016, 3, 14, 9, 26, 53, 589793000, time.UTC))
}

func TestDecode_TypedPayloads(t *testing.T) {
	t.Run("Date", func(t *testing.T) {
		decoded, err := serialization.Decode(map[string]any{
			"$type": "date",
			"$date": "2016-03-14T09:26:53.589793Z",
		})
		require.NoError(t, err)
		assert.Equal(t, sampleDate(), decoded)
	})

	t.Run("Reference", func(t *testing.T) {
		decoded, err := serialization.Decode(map[string]any{"$type": "ref", "$id": "note/1"})
		require.NoError(t, err)
		assert.Equal(t, serialization.Reference{ID: "note/1"}, decoded)
	})

	t.Run("Relation", func(t *testing.T) {
		decoded, err := serialization.Decode(map[string]any{
			"$type":      "relation",
			"$name":      "friend",
			"$direction": "mutual",
		})
		require.NoError(t, err)
		assert.Equal(t, serialization.Relation{Name: "friend", Direction: serialization.RelationMutual}, decoded)
	})

	t.Run("Sequence decodes nested values", func(t *testing.T) {
		decoded, err := serialization.Decode(map[string]any{
			"$type": "seq",
			"$seq": []any{
				"plain",
				map[string]any{"$type": "ref", "$id": "note/2"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, serialization.Sequence{Values: []any{"plain", serialization.Reference{ID: "note/2"}}}, decoded)
	})

	t.Run("Empty sequence is valid", func(t *testing.T) {
		decoded, err := serialization.Decode(map[string]any{"$type": "seq", "$seq": []any{}})
		require.NoError(t, err)
		assert.Equal(t, serialization.Sequence{Values: []any{}}, decoded)
	})
}

func TestDecode_PlainValues(t *testing.T) {
	t.Run("Scalars pass through", func(t *testing.T) {
		for _, v := range []any{nil, true, "text", 3.5, json.Number("42")} {
			decoded, err := serialization.Decode(v)
			require.NoError(t, err)
			assert.Equal(t, v, decoded)
		}
	})

	t.Run("Nested records are decoded recursively", func(t *testing.T) {
		decoded, err := serialization.Decode(map[string]any{
			"title": "Groceries",
			"meta": map[string]any{
				"created": map[string]any{"$type": "date", "$date": "2016-03-14T09:26:53.589793Z"},
			},
			"items": []any{map[string]any{"$type": "ref", "$id": "item/1"}, 7.0},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"title": "Groceries",
			"meta":  map[string]any{"created": sampleDate()},
			"items": []any{serialization.Reference{ID: "item/1"}, 7.0},
		}, decoded)
	})

	t.Run("Asset shaped mappings are not auto-detected", func(t *testing.T) {
		wire := map[string]any{"$name": "photo.png", "$url": "https://assets/photo.png"}
		decoded, err := serialization.Decode(wire)
		require.NoError(t, err)
		assert.Equal(t, wire, decoded)
	})
}

func TestDecode_Errors(t *testing.T) {
	t.Run("Unknown tag", func(t *testing.T) {
		_, err := serialization.Decode(map[string]any{"$type": "bogus"})
		var tagErr *serialization.UnknownTypeTagError
		require.ErrorAs(t, err, &tagErr)
		assert.Equal(t, "bogus", tagErr.Tag)
	})

	t.Run("Non-string tag", func(t *testing.T) {
		_, err := serialization.Decode(map[string]any{"$type": 4.0})
		var tagErr *serialization.UnknownTypeTagError
		require.ErrorAs(t, err, &tagErr)
	})

	t.Run("Malformed date never defaults", func(t *testing.T) {
		decoded, err := serialization.Decode(map[string]any{"$type": "date", "$date": "yesterday"})
		var dateErr *serialization.MalformedDateError
		require.ErrorAs(t, err, &dateErr)
		assert.Equal(t, "yesterday", dateErr.Value)
		assert.Nil(t, decoded)
	})

	t.Run("Reference without id", func(t *testing.T) {
		_, err := serialization.Decode(map[string]any{"$type": "ref"})
		var fieldErr *serialization.MissingFieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "$id", fieldErr.Field)
	})

	t.Run("Relation without direction", func(t *testing.T) {
		_, err := serialization.Decode(map[string]any{"$type": "relation", "$name": "friend"})
		var fieldErr *serialization.MissingFieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "$direction", fieldErr.Field)
	})

	t.Run("Nested failure reports its path", func(t *testing.T) {
		_, err := serialization.Decode(map[string]any{
			"items": []any{"ok", map[string]any{"$type": "ref"}},
		})
		var pathErr *serialization.PathError
		require.ErrorAs(t, err, &pathErr)
		assert.Equal(t, "items[1]", pathErr.Path)
		var fieldErr *serialization.MissingFieldError
		assert.ErrorAs(t, err, &fieldErr)
	})

	t.Run("Failure inside a sequence is located once", func(t *testing.T) {
		_, err := serialization.Decode(map[string]any{
			"tags": map[string]any{"$type": "seq", "$seq": []any{map[string]any{"$type": "nope"}}},
		})
		var pathErr *serialization.PathError
		require.ErrorAs(t, err, &pathErr)
		assert.Equal(t, "tags.$seq[0]", pathErr.Path)
	})
}

func TestDecodeBatch_IsolatesFailures(t *testing.T) {
	results, errs := serialization.DecodeBatch([]any{
		map[string]any{"$type": "ref", "$id": "a"},
		map[string]any{"$type": "bogus"},
		"plain",
	})

	require.Len(t, results, 3)
	assert.Equal(t, serialization.Reference{ID: "a"}, results[0])
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.Nil(t, results[1])
	assert.Equal(t, "plain", results[2])
	assert.NoError(t, errs[2])
}

func TestDecodeAsset(t *testing.T) {
	t.Run("Full mapping", func(t *testing.T) {
		asset, err := serialization.DecodeAsset(map[string]any{
			"$name":         "photo.png",
			"$content_type": "image/png",
			"$url":          "https://assets/photo.png",
		})
		require.NoError(t, err)
		assert.Equal(t, serialization.Asset{Name: "photo.png", ContentType: "image/png", URL: "https://assets/photo.png"}, asset)
	})

	t.Run("Missing name", func(t *testing.T) {
		_, err := serialization.DecodeAsset(map[string]any{"$url": "https://assets/photo.png"})
		var fieldErr *serialization.MissingFieldError
		require.ErrorAs(t, err, &fieldErr)
	})
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		value any
	}{
		{name: "Date", value: sampleDate()},
		{name: "Date at whole second", value: serialization.NewDate(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))},
		{name: "Reference", value: serialization.Reference{ID: "note/42"}},
		{name: "Relation", value: serialization.Relation{Name: "follow", Direction: serialization.RelationOutward}},
		{name: "Sequence", value: serialization.Sequence{Values: []any{"a", serialization.Reference{ID: "b"}}}},
		{name: "Empty sequence", value: serialization.Sequence{Values: []any{}}},
		{name: "Scalar", value: "text"},
		{name: "Record", value: map[string]any{
			"when":  sampleDate(),
			"who":   serialization.Reference{ID: "user/1"},
			"count": 3.0,
			"list":  []any{true, nil},
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := serialization.Encode(tc.value)
			require.NoError(t, err)
			decoded, err := serialization.Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, tc.value, decoded)
		})
	}

	t.Run("Asset", func(t *testing.T) {
		asset := serialization.Asset{Name: "doc.pdf", ContentType: "application/pdf", URL: "https://assets/doc.pdf"}
		wire, err := serialization.Encode(asset)
		require.NoError(t, err)
		decoded, err := serialization.DecodeAsset(wire.(map[string]any))
		require.NoError(t, err)
		assert.Equal(t, asset, decoded)
	})

	t.Run("Through JSON", func(t *testing.T) {
		value := map[string]any{"when": sampleDate(), "tags": serialization.Sequence{Values: []any{"x"}}}
		data, err := serialization.Marshal(value)
		require.NoError(t, err)
		decoded, err := serialization.Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, value, decoded)
	})
}

func TestEncode_DateNormalization(t *testing.T) {
	local := time.FixedZone("UTC+9", 9*60*60)
	raw := time.Date(2021, 6, 1, 17, 0, 0, 123456789, local)

	wire, err := serialization.Encode(serialization.Date{Time: raw})
	require.NoError(t, err)
	normalized, err := serialization.Encode(serialization.NewDate(raw))
	require.NoError(t, err)
	assert.Equal(t, normalized, wire)
	assert.Equal(t, "2021-06-01T08:00:00.123456Z", wire.(map[string]any)["$date"])

	decoded, err := serialization.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, serialization.NewDate(raw), decoded)
}

func TestParseJSON(t *testing.T) {
	wire, err := serialization.ParseJSON([]byte(`{"n": 3, "when": {"$type": "date", "$date": "soon"}}`))
	require.NoError(t, err)
	m := wire.(map[string]any)
	assert.Equal(t, json.Number("3"), m["n"])
	assert.Equal(t, map[string]any{"$type": "date", "$date": "soon"}, m["when"], "tagged values are left undecoded")

	_, err = serialization.ParseJSON([]byte("{"))
	assert.Error(t, err)
}

func TestEncode_Unsupported(t *testing.T) {
	_, err := serialization.Encode(struct{ X int }{X: 1})
	var unsupported *serialization.UnsupportedValueError
	require.ErrorAs(t, err, &unsupported)
}

func TestEncode_Golden(t *testing.T) {
	record := map[string]any{
		"title":     "Groceries",
		"done":      false,
		"due":       sampleDate(),
		"owner":     serialization.Reference{ID: "user/ada"},
		"followers": serialization.Relation{Name: "follow", Direction: serialization.RelationInward},
		"tags":      serialization.Sequence{Values: []any{"milk", "eggs"}},
		"photo": serialization.Asset{
			Name:        "photo.png",
			ContentType: "image/png",
			URL:         "https://assets.example.com/photo.png",
		},
	}

	wire, err := serialization.Encode(record)
	require.NoError(t, err)
	data, err := json.MarshalIndent(wire, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "encoded_record", data)
}
