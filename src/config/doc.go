// Package config defines the configuration of an Astreum node.
//
// A single Config object is assembled from defaults, an optional TOML file in
// the data directory, and command-line flags, then handed to the top-level
// constructor. It also owns the logger so every component logs through one
// formatted output.
package config
