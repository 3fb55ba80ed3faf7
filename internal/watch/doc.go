// Package watch notifies a callback when a file is rewritten, using fsnotify.
// rulprep uses it to re-run a complete apply whenever the input telemetry file
// or the configuration file changes.
package watch
