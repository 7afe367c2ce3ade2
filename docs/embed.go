// Package docs embeds the API contract served at /openapi.yaml.
package docs

import (
	_ "embed"
)

// OpenAPISpec is the OpenAPI 3 document describing the HTTP API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
