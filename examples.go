// Package blimp embeds the example profile and script shipped with the
// blimp CLI.
package blimp

import _ "embed"

// ExampleProfile contains the embedded examples/battery.yaml profile
//
//go:embed examples/battery.yaml
var ExampleProfile string

// ExampleScript contains the embedded examples/battery.lua handler the
// example profile refers to
//
//go:embed examples/battery.lua
var ExampleScript string

// Example file names, as the profile refers to them
const (
	ExampleProfileName = "battery.yaml"
	ExampleScriptName  = "battery.lua"
)
