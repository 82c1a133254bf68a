package schema

import _ "embed"

// ShellV1Schema contains the JSON schema for navigator.yaml.
//
//go:embed navigator.v1.json
var ShellV1Schema []byte
