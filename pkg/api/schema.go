package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

//go:embed schemas/action_request.schema.json
var actionRequestSchemaJSON []byte

const actionRequestSchemaURL = "https://devops-agent.schemas.local/action_request.schema.json"

var actionRequestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(actionRequestSchemaURL, bytes.NewReader(actionRequestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("api: load action request schema: %w", err)
	}
	return c.Compile(actionRequestSchemaURL)
})

// decodeActionRequest parses and validates a submit body. It returns a
// problem detail for any rejection.
func decodeActionRequest(body []byte) (contracts.ActionRequest, *ProblemDetail) {
	var req contracts.ActionRequest

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return req, newProblem(http.StatusBadRequest, CodeInvalidJSON, "Invalid request body: "+err.Error())
	}

	schema, err := actionRequestSchema()
	if err != nil {
		return req, newProblem(http.StatusInternalServerError, CodeInternal, "request schema unavailable")
	}
	if err := schema.Validate(doc); err != nil {
		p := newProblem(http.StatusUnprocessableEntity, CodeValidation, "request does not match the ActionRequest schema")
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			p.Meta = map[string]any{"errors": leafErrors(ve)}
		}
		return req, p
	}

	if err := json.Unmarshal(body, &req); err != nil {
		return req, newProblem(http.StatusUnprocessableEntity, CodeValidation, err.Error())
	}
	if req.Target == nil {
		req.Target = map[string]any{}
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	return req, nil
}

func leafErrors(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}
