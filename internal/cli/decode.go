package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

// TypedValue is one typed value found while decoding a payload.
type TypedValue struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// DecodeResult is the output of the decode command.
type DecodeResult struct {
	Typed []TypedValue `json:"typed"`
	// Canonical is the payload re-encoded from its decoded form.
	Canonical any `json:"canonical"`
}

func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	var asAsset bool
	cmd := &cobra.Command{
		Use:   "decode [file|-]",
		Short: "Decode a JSON record payload and list its typed values",
		Long: `Decode a JSON record payload, resolving $type-tagged values (dates,
references, relations, sequences), and list every typed value with its path.
Reads stdin when no file is given.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runDecode(rootOpts, cmd, path, asAsset)
		},
	}
	cmd.Flags().BoolVar(&asAsset, "asset", false, "decode the payload as an asset mapping")
	return cmd
}

func runDecode(opts *RootOptions, cmd *cobra.Command, path string, asAsset bool) error {
	formatter := newFormatter(opts, cmd)

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read input", err, nil)
	}
	formatter.VerboseLog("Read %d bytes", len(data))

	decoded, err := serialization.Unmarshal(data)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDecode, "failed to decode payload", err, nil)
	}
	if asAsset {
		m, ok := decoded.(map[string]any)
		if !ok {
			return formatter.Fail(ExitFailure, ErrCodeDecode, "asset payload must be a mapping", nil, nil)
		}
		asset, err := serialization.DecodeAsset(m)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeDecode, "failed to decode asset", err, nil)
		}
		decoded = asset
	}

	canonical, err := serialization.Encode(decoded)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDecode, "failed to re-encode payload", err, nil)
	}
	result := DecodeResult{Typed: collectTyped("$", decoded, nil), Canonical: canonical}

	return formatter.Success(result, func(w io.Writer) {
		if len(result.Typed) == 0 {
			fmt.Fprintln(w, "no typed values")
			return
		}
		for _, tv := range result.Typed {
			fmt.Fprintf(w, "%s: %s %s\n", tv.Path, tv.Kind, tv.Value)
		}
	})
}

// collectTyped walks a decoded value in key order and records every domain value.
func collectTyped(path string, value any, out []TypedValue) []TypedValue {
	switch v := value.(type) {
	case serialization.Date:
		out = append(out, TypedValue{Path: path, Kind: "date", Value: serialization.StringFromDate(v.Time)})
	case serialization.Reference:
		out = append(out, TypedValue{Path: path, Kind: "ref", Value: v.ID})
	case serialization.Relation:
		out = append(out, TypedValue{Path: path, Kind: "relation", Value: v.Name + " (" + string(v.Direction) + ")"})
	case serialization.Asset:
		out = append(out, TypedValue{Path: path, Kind: "asset", Value: strings.TrimSpace(v.Name + " " + v.ContentType)})
	case serialization.Sequence:
		out = append(out, TypedValue{Path: path, Kind: "seq", Value: fmt.Sprintf("%d item(s)", len(v.Values))})
		for i, child := range v.Values {
			out = collectTyped(fmt.Sprintf("%s[%d]", path, i), child, out)
		}
	case map[string]any:
		for _, k := range collectKeys(v) {
			out = collectTyped(path+"."+k, v[k], out)
		}
	case []any:
		for i, child := range v {
			out = collectTyped(fmt.Sprintf("%s[%d]", path, i), child, out)
		}
	}
	return out
}
