// Package schemas embeds the JSON Schemas for persisted artifacts.
package schemas

import _ "embed"

// PipelineState is the schema for pipeline_state.json. It intentionally leaves
// additionalProperties open: files written by newer versions with extra fields
// still load, and missing optional fields default.
//
//go:embed pipeline_state.schema.json
var PipelineState []byte
