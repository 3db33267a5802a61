// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML configuration at ~/.trellis/config.toml, watched
//     with fsnotify so schedules can change without a restart
package file
