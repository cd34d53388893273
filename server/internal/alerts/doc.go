// Package alerts implements the rule evaluation engine and webhook delivery
// for project health alerting. Rules are evaluated against each received
// report; webhooks are delivered to Teams, Slack, or generic HTTP targets.
package alerts
