// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user CUE files against an embedded schema.
//
// Parsing follows three steps: compile the schema, compile the user data and
// unify it with a schema definition, then validate and decode:
//
//	//go:embed config_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[map[string]any](
//	    schema, data, "#Config",
//	    cueutil.WithFilename("augment.cue"),
//	)
//
// Errors carry the file name and a JSON-style path to the offending field.
package cueutil
