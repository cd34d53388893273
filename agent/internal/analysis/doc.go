// Package analysis derives health and risk metrics from a project Bundle.
//
// Everything here is a pure function over an immutable Bundle:
//
//   - Analyze runs AnalyzeProject, AnalyzeTickets, AnalyzeResources and
//     AnalyzeRisks and returns a Result
//   - AnalyzeTicketProgress and AnalyzeProjectTimeline build the note-driven
//     timelines (status changes, key updates, per-ticket progress)
//   - BuildPrompt renders a Timeline into the insight-service prompt
//
// A bundle missing a required field (project status or actual hours, ticket
// status or priority, project manager for timelines) fails the whole call
// with ErrMalformedInput. Results are never cached here.
package analysis
