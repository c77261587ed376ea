package testevents

// SchemaVersion is the contract version the generated events target.
const SchemaVersion = "v1"

// SchemaDocument is the JSON Schema registered before events flow. The
// invalid generator violates it on purpose: wrong types, missing
// required fields and unexpected properties.
const SchemaDocument = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["userID", "action", "amount"],
  "additionalProperties": false,
  "properties": {
    "userID": {"type": "string", "minLength": 1},
    "action": {"type": "string", "enum": ["signup", "purchase", "refund"]},
    "amount": {"type": "number", "minimum": 0},
    "email": {"type": "string", "format": "email"}
  }
}`
