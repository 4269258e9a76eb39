// Package config loads climbrag settings from climbrag.yaml with
// environment overrides.
package config
