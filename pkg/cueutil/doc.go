// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes user-authored CUE documents against embedded schemas.
//
// Both the configuration file and the promotion job source go through the
// same flow: compile the schema, compile the user document, unify it with the
// schema definition, validate and decode into a Go struct.
//
//	//go:embed jobsource_schema.cue
//	var jobSourceSchema []byte
//
//	res, err := cueutil.ParseAndDecode[JobSource](
//		jobSourceSchema, data, "#JobSource",
//		cueutil.WithFilename("jobs.cue"),
//	)
package cueutil
