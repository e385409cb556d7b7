package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatYAML, formatJSON:
		return nil
	}

	return fmt.Errorf("unknown output format %q, want %s or %s", format, formatYAML, formatJSON)
}

// render writes v to w. JSON output is one document per line so event
// streams can be piped into line-oriented tools.
func render(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}

		_, err = fmt.Fprintf(w, "%s\n", data)

		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}

		return enc.Close()
	}

	return checkFormat(format)
}
