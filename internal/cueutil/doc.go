// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE helpers shared by configuration loading:
// schema unification and error formatting with JSON-path prefixes.
//
//	//go:embed config_schema.cue
//	var schema string
//
//	v, err := cueutil.Unify(schema, "#Config", data, "config.cue")
//	if err != nil {
//	    return err // error includes the CUE path, e.g. "config.cue: remote.timeout: ..."
//	}
package cueutil
