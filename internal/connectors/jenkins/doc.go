// Package jenkins implements a connector for one Jenkins job.
//
// Builds are read from the job's JSON API in a single response and mapped
// to the pipeline kind. Jenkins has no server-side change filter, so
// incremental listings drop builds that finished before the watermark.
// Folder jobs are addressed by their slash-separated full name.
package jenkins
