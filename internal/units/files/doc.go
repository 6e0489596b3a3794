// Package files finds and watches files.
//
// Finder walks a set of roots in parallel and reports every regular file it
// meets; directories it cannot read are logged and skipped. Watcher reports
// filesystem changes under a set of roots, coalescing bursts of events for
// the same path. Both hand their results to an emit function so they can
// feed a topic directly.
package files
