// Package targets maps target identifiers like "aarch64-android" to the compiler, flags and output
// location used to build ICU for them.
//
// The builtin rows live in DefaultTable. Projects can add or replace rows with a targets.star file
// (see LoadOverlay) without touching the build code.
package targets
