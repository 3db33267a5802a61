// Package jenkins decodes Jenkins build payloads into pipelines.
// Builds are the only kind Jenkins exposes.
package jenkins
