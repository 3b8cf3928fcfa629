// Package config loads runtime configuration.
//
// Settings come from three layers, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. A TOML or YAML file, chosen by extension
//  3. Environment variables with the LUMEN_ prefix
//
// Environment names map to setting paths by splitting off the first
// underscore-separated word as the section: LUMEN_VM_QUEUE_SIZE sets
// vm.queue_size. LUMEN_LOG_LEVEL, LUMEN_IDENTITY, LUMEN_AUTOEXEC and
// LUMEN_WORKSPACE are shorthands.
package config
