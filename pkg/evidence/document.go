package evidence

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// packSchema is the structural contract an exported pack document must meet
// before any hash comparison runs.
const packSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "tenant_id", "generated_at", "manifest", "data", "signature", "signature_algorithm"],
  "properties": {
    "version": {"type": "string"},
    "tenant_id": {"type": "string", "minLength": 1},
    "generated_at": {"type": "string"},
    "criteria": {"type": "object"},
    "manifest": {
      "type": "object",
      "required": ["sections", "payload_hash"],
      "properties": {
        "sections": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "count", "hash"],
            "properties": {
              "name": {"type": "string"},
              "count": {"type": "integer"},
              "hash": {"type": "string"}
            }
          }
        },
        "payload_hash": {"type": "string"}
      }
    },
    "data": {"type": "object"},
    "signature": {"type": "string", "minLength": 1},
    "signature_algorithm": {"type": "string"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func packSchemaCompiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("pack.schema.json", packSchema)
	})
	return compiledSchema, schemaErr
}

// VerifyDocument validates a raw exported pack document structurally, then
// runs full hash and signature verification. Consumers must call this before
// trusting an imported pack's contents.
func (b *Builder) VerifyDocument(raw []byte) VerifyResult {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return VerifyResult{Reason: ReasonInvalidPack, Actual: err.Error()}
	}
	if _, ok := generic["data"]; !ok {
		return VerifyResult{Reason: ReasonMissingData}
	}

	schema, err := packSchemaCompiled()
	if err != nil {
		return VerifyResult{Reason: ReasonInvalidPack, Actual: err.Error()}
	}
	if err := schema.Validate(generic); err != nil {
		reason := ReasonInvalidPack
		if strings.Contains(err.Error(), "'data'") {
			reason = ReasonMissingData
		}
		return VerifyResult{Reason: reason, Actual: err.Error()}
	}

	var pack Pack
	if err := json.Unmarshal(raw, &pack); err != nil {
		return VerifyResult{Reason: ReasonInvalidPack, Actual: err.Error()}
	}
	return b.Verify(pack)
}
