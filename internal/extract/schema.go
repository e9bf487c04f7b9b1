package extract

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rowsSchemaName = "chart_rows"

// rowsSchemaJSON is the response contract sent to the model and enforced
// locally. Rank cells accept integers, strings, or null because scanned
// charts carry placeholders ("NEW", "--", "12*") that normalization
// coerces afterwards.
const rowsSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["rows"],
  "properties": {
    "rows": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["chart_title", "chart_section", "this_week", "last_week", "two_weeks_ago", "weeks_on_chart", "title", "artist", "label"],
        "properties": {
          "chart_title": {"type": "string"},
          "chart_section": {"type": ["string", "null"]},
          "this_week": {"type": ["integer", "string", "null"]},
          "last_week": {"type": ["integer", "string", "null"]},
          "two_weeks_ago": {"type": ["integer", "string", "null"]},
          "weeks_on_chart": {"type": ["integer", "string", "null"]},
          "title": {"type": "string"},
          "artist": {"type": "string"},
          "label": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var rowsSchema = jsonschema.MustCompileString(rowsSchemaName+".json", rowsSchemaJSON)

// validateRows checks a parsed payload against the rows schema.
func validateRows(raw json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode payload for validation: %w", err)
	}
	if err := rowsSchema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match the rows schema: %w", err)
	}
	return nil
}

// responseFormatSchema returns the schema document as a generic value for
// the provider's json_schema response format.
func responseFormatSchema() map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(rowsSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("rows schema is not valid JSON: %v", err))
	}
	return doc
}
