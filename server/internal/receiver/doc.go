// Package receiver implements POST /api/v1/reports, the endpoint that
// accepts report batches from projectlens-agent instances.
//
// Every report is checked with Report.Validate; invalid reports are listed
// in the response's rejected array and the rest of the batch is kept. A
// report older than the one already held for its project is still written
// to history but neither replaces the latest report nor triggers alerts.
// Authentication is enforced upstream by the auth middleware.
package receiver
