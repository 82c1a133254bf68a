package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	navschema "github.com/AreTaj/Migraine-Navigator/schema"
)

const schemaURL = "navigator.v1.json"

var loadShellSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(navschema.ShellV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks the decoded YAML document against the embedded
// schema and lists every violation as "path: message".
func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadShellSchema()
	if err != nil {
		return err
	}

	// The validator only understands JSON-decoded values.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	var vErr *jsonschema.ValidationError
	if errors.As(err, &vErr) {
		return fmt.Errorf("schema validation failed:\n%s", strings.Join(violations(vErr), "\n"))
	}
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func violations(err *jsonschema.ValidationError) []string {
	var lines []string
	for _, unit := range err.BasicOutput().Errors {
		if strings.HasPrefix(unit.Error, "doesn't validate with") {
			continue
		}
		line := fmt.Sprintf("- %s: %s", configPath(unit.InstanceLocation), unit.Error)
		if !slices.Contains(lines, line) {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "- config: "+err.Message)
	}
	return lines
}

// configPath turns a JSON pointer such as /sidecar/args/0 into sidecar.args[0].
func configPath(pointer string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
		if strings.Trim(segment, "0123456789") == "" {
			fmt.Fprintf(&b, "[%s]", segment)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "config"
	}
	return b.String()
}
