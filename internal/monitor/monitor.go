// Package monitor validates the workflow's inbound contracts (checkout
// requests and gateway redirect callbacks) against JSON schemas before
// any business logic runs.
package monitor

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/checkout_request.schema.json
var checkoutRequestSchema []byte

//go:embed schemas/redirect_callback.schema.json
var redirectCallbackSchema []byte

// ContractMonitor validates payloads against one compiled JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles a schema from raw bytes.
func NewContractMonitor(schemaBytes []byte) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// NewCheckoutRequestMonitor validates POST /checkout bodies.
func NewCheckoutRequestMonitor() (*ContractMonitor, error) {
	return NewContractMonitor(checkoutRequestSchema)
}

// NewRedirectCallbackMonitor validates gateway return-URL parameters.
func NewRedirectCallbackMonitor() (*ContractMonitor, error) {
	return NewContractMonitor(redirectCallbackSchema)
}

// Validate checks the given JSON document. It returns true when valid,
// or false with the list of violations.
func (cm *ContractMonitor) Validate(document []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return false, nil, fmt.Errorf("validating document: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// ValidateQuery validates URL query parameters by flattening them into a
// JSON object (first value wins per key).
func (cm *ContractMonitor) ValidateQuery(params url.Values) (bool, []string, error) {
	flat := make(map[string]string, len(params))
	for k, vs := range params {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}
	doc, err := json.Marshal(flat)
	if err != nil {
		return false, nil, fmt.Errorf("encoding query parameters: %w", err)
	}
	return cm.Validate(doc)
}

// FormatErrors joins validation violations into one message.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(violations, "; ")
}
