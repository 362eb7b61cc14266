// Package apidoc loads the OpenAPI document the service publishes and
// derives the renderings the documentation mount needs.
package apidoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	// ErrNotFound is returned when the document file does not exist.
	ErrNotFound = errors.New("openapi document not found")
	// ErrInvalid is returned when the document cannot be parsed or fails validation.
	ErrInvalid = errors.New("invalid openapi document")
)

// kin-openapi only checks string formats that are registered. Every ID in
// the Transactions API is format: uuid.
func init() {
	openapi3.DefineStringFormatValidator("uuid", openapi3.NewRegexpFormatValidator(openapi3.FormatOfStringForUUIDOfRFC4122))
}

// Document is an OpenAPI document loaded once at startup. It is never
// mutated after Load returns and is safe for concurrent readers.
type Document struct {
	path string
	raw  []byte
	json []byte
	spec *openapi3.T
}

// Operation describes one method+path pair declared by the document.
type Operation struct {
	Method      string `yaml:"method"`
	Path        string `yaml:"path"`
	OperationID string `yaml:"operation_id,omitempty"`
	Summary     string `yaml:"summary,omitempty"`
}

// Load reads the document at path and validates it.
func Load(ctx context.Context, path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read openapi document %s: %w", path, err)
	}
	doc, err := Parse(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.path = path
	return doc, nil
}

// Parse builds a Document from YAML or JSON bytes.
func Parse(ctx context.Context, raw []byte) (*Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalid)
	}

	loader := &openapi3.Loader{Context: ctx}
	spec, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalid, err)
	}
	if err := spec.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
		return nil, fmt.Errorf("%w: validate: %v", ErrInvalid, err)
	}

	js, err := spec.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: render json: %v", ErrInvalid, err)
	}

	return &Document{raw: raw, json: js, spec: spec}, nil
}

// Path returns the file the document was loaded from, empty for Parse.
func (d *Document) Path() string { return d.path }

// Raw returns the document bytes exactly as read.
func (d *Document) Raw() []byte { return d.raw }

// JSON returns the document rendered as JSON.
func (d *Document) JSON() []byte { return d.json }

// Spec returns the parsed document. Callers must not modify it.
func (d *Document) Spec() *openapi3.T { return d.spec }

// Title returns info.title, or a fallback when the document has none.
func (d *Document) Title() string {
	if d.spec.Info == nil || strings.TrimSpace(d.spec.Info.Title) == "" {
		return "API documentation"
	}
	return d.spec.Info.Title
}

// Version returns info.version.
func (d *Document) Version() string {
	if d.spec.Info == nil {
		return ""
	}
	return d.spec.Info.Version
}

// Operations lists every operation sorted by path, then method.
func (d *Document) Operations() []Operation {
	var ops []Operation
	if d.spec.Paths == nil {
		return ops
	}
	for path, item := range d.spec.Paths.Map() {
		if item == nil {
			continue
		}
		for method, op := range item.Operations() {
			ops = append(ops, Operation{
				Method:      method,
				Path:        path,
				OperationID: op.OperationID,
				Summary:     op.Summary,
			})
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		return ops[i].Method < ops[j].Method
	})
	return ops
}

// DescriptionHTML renders info.description as sanitized HTML.
func (d *Document) DescriptionHTML() template.HTML {
	if d.spec.Info == nil || strings.TrimSpace(d.spec.Info.Description) == "" {
		return ""
	}
	return renderMarkdown(d.spec.Info.Description)
}

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()
)

func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes()))
}
