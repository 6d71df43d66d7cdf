package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const gameSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["points"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "isGameTemplate": {"type": "boolean"},
    "points": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "location": {
            "type": ["object", "null"],
            "required": ["lat", "lng"],
            "properties": {
              "lat": {"type": "number", "minimum": -90, "maximum": 90},
              "lng": {"type": "number", "minimum": -180, "maximum": 180}
            }
          },
          "radiusMeters": {"type": "number", "minimum": 0},
          "activationTypes": {
            "type": ["array", "null"],
            "items": {"enum": ["radius", "click", "qr", "nfc", "ibeacon"]}
          },
          "isUnlocked": {"type": "boolean"},
          "isCompleted": {"type": "boolean"},
          "isSectionHeader": {"type": "boolean"},
          "playgroundId": {"type": "string"},
          "tags": {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    },
    "dangerZones": {"type": ["array", "null"]},
    "routes": {"type": ["array", "null"]}
  }
}`

var gameSchema = jsonschema.MustCompileString("game.schema.json", gameSchemaJSON)

// validateGame checks a raw game document against the game schema.
func validateGame(body []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decoding game: %w", err)
	}
	if err := gameSchema.Validate(doc); err != nil {
		return fmt.Errorf("invalid game: %w", err)
	}
	return nil
}
