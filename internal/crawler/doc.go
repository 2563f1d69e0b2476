// Package crawler implements the follower-graph discovery engine together with
// the job, result and provider types shared by the rest of the service.
//
// The Engine walks the follower relation breadth-first from a target account.
// Every account is evaluated once per run; accounts whose follower count meets
// the job threshold are reported as results, and only those (when public and
// above the requested depth) are expanded further.
package crawler
