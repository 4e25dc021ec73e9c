// Package webhook accepts signed HTTP callbacks and turns each into a job.
//
// Every endpoint is bound to one job type. The request body must carry an
// HMAC-SHA256 signature of the raw body in the configured header, either as
// plain hex or GitHub's "sha256=<hex>" form. A verified body is enqueued as the
// job's args, so a JSON body is required.
package webhook
