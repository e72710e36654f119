package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// addFormatFlag registers --format on cmd.
func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", "text", "output format: text, json or yaml")
}

// render writes v as JSON or YAML, or calls text for the human format.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	format, _ := cmd.Flags().GetString("format")
	w := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "", "text":
		text(w)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

// parseKinds resolves "all" or a single kind name.
func parseKinds(arg string) ([]schema.Kind, error) {
	if strings.EqualFold(arg, "all") {
		return schema.Kinds(), nil
	}
	kind, err := schema.ParseKind(arg)
	if err != nil {
		return nil, err
	}
	return []schema.Kind{kind}, nil
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadAll reads every kind from a; unavailable collections are empty.
func loadAll(ctx context.Context, a store.Adapter) (map[schema.Kind][]schema.Record, error) {
	out := make(map[schema.Kind][]schema.Record)
	for _, kind := range schema.Kinds() {
		records, err := store.LoadOrEmpty(ctx, a, kind, logger)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out[kind] = records
	}
	return out, nil
}

// exportRecords renders records with their JSON document field names.
func exportRecords(kind schema.Kind, records []schema.Record) []map[string]any {
	s := schema.MustLookup(kind)
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = s.JSONObject(r)
	}
	return out
}
