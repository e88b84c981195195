// Package alerts implements the rule evaluation engine and webhook delivery
// for speed-test alerting. Rules such as "download < 10" or
// "state == critical" are evaluated against every record the server stores;
// fire and resolve events are delivered to Teams, Slack, or generic HTTP
// webhooks.
package alerts
