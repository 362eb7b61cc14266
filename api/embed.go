package api

import _ "embed"

// OpenAPISpec is the Transactions API document shipped with the service.
// The server reads api/openapi.yaml from disk at startup; this copy lets
// tests run against the same document.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
