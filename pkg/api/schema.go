package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

// Request body schemas. Range checks are left to the domain so callers get
// the marketplace error kind instead of a generic 400.
var schemaSources = map[string]string{
	"create_job": `{
		"type": "object",
		"required": ["budget", "duration_ms"],
		"additionalProperties": false,
		"properties": {
			"description": {"type": "string", "maxLength": 4096},
			"project_type": {"type": "string", "maxLength": 256},
			"required_skills": {"type": "array", "items": {"type": "string"}, "maxItems": 64},
			"budget": {"type": "integer"},
			"duration_ms": {"type": "integer"}
		}
	}`,
	"create_profile": `{
		"type": "object",
		"required": ["job_id"],
		"additionalProperties": false,
		"properties": {
			"job_id": {"type": "string", "minLength": 1},
			"description": {"type": "string", "maxLength": 4096}
		}
	}`,
	"add_skill": `{
		"type": "object",
		"required": ["skill"],
		"additionalProperties": false,
		"properties": {"skill": {"type": "string", "maxLength": 256}}
	}`,
	"bid": `{
		"type": "object",
		"required": ["profile_id"],
		"additionalProperties": false,
		"properties": {"profile_id": {"type": "string", "minLength": 1}}
	}`,
	"select_worker": `{
		"type": "object",
		"required": ["worker", "funded"],
		"additionalProperties": false,
		"properties": {
			"worker": {"type": "string", "minLength": 1},
			"funded": {"type": "integer"}
		}
	}`,
	"rating": `{
		"type": "object",
		"required": ["rating"],
		"additionalProperties": false,
		"properties": {"rating": {"type": "integer"}}
	}`,
	"complaint": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {"reason": {"type": "string", "maxLength": 4096}}
	}`,
	"resolve": `{
		"type": "object",
		"required": ["to_worker"],
		"additionalProperties": false,
		"properties": {"to_worker": {"type": "boolean"}}
	}`,
	"deposit": `{
		"type": "object",
		"required": ["amount"],
		"additionalProperties": false,
		"properties": {"amount": {"type": "integer"}}
	}`,
}

type schemas map[string]*jsonschema.Schema

func compileSchemas() (schemas, error) {
	out := make(schemas, len(schemaSources))
	for name, src := range schemaSources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://buildmarket.dev/schemas/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// decode validates the request body against the named schema and then
// unmarshals it into v. It writes the error response and returns false on failure.
func (s schemas) decode(w http.ResponseWriter, r *http.Request, name string, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "request body too large")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := s[name].Validate(doc); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", fmt.Sprintf("schema validation failed: %v", err))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	return true
}
