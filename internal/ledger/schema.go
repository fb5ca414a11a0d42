package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ledgerSchema validates the structural shape of a ledger file before it is
// decoded. Additional properties stay allowed so that newer writers remain
// loadable by older readers.
const ledgerSchema = `{
  "type": "object",
  "required": ["jobs"],
  "properties": {
    "last_updated": {"type": "string"},
    "total_jobs": {"type": "integer", "minimum": 0},
    "jobs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "start_index", "end_index", "status"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "start_index": {"type": "integer", "minimum": 0},
          "end_index": {"type": "integer", "minimum": 0},
          "indices": {"type": "array", "items": {"type": "integer", "minimum": 0}},
          "status": {"enum": ["pending", "running", "completed", "failed", "timeout"]},
          "attempts": {"type": "integer", "minimum": 0},
          "max_attempts": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var compiledSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ledger.json", strings.NewReader(ledgerSchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("ledger.json")
}

// validateSchema checks raw ledger bytes against the embedded schema.
func validateSchema(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return err
	}
	return nil
}
