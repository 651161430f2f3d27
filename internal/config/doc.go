// Package config loads keystep's settings.
//
// Settings come from three layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment (KEYSTEP_*) │  ← Highest priority
//	├─────────────────────────────┤
//	│  2. TOML file               │  ← ~/.config/keystep/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Command line flags are applied on top by the caller.
//
// # File format
//
//	[interpreter]
//	command = "python3"
//	candidates = ["python3", "python", "python2"]
//
//	[debug]
//	host = "127.0.0.1"
//	retry_interval = "500ms"
//
//	[session]
//	stop_timeout = "3s"
//	kill_grace = "2s"
//
//	[ui]
//	language = "de"
//
//	[logging]
//	level = "debug"
//	file = "/tmp/keystep.log"
//
// The watcher sub-package reports changes to the file for live reload.
package config
