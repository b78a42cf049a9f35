// Package webhook turns HMAC-signed HTTP POSTs into herd jobs.
//
// Each configured endpoint names a job type and its constraints and worker
// selector. A request whose body verifies against the endpoint secret is
// enqueued as one job with the decoded JSON body as its args; nothing is
// dispatched here, the scheduler picks the job up on its next tick.
//
// Configuration:
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/offer
//	      job_type: accept_offer
//	      constraints: [daily_budget]
//	      bots: [0, 1]
//	      secret: ${OFFER_HOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 64KB
//
// Responses: 202 with the job id, 403 for a missing or bad signature (never
// more detail), 400 for a body that is not JSON, 413 for an oversized body,
// and 500 when the job cannot be enqueued.
package webhook
