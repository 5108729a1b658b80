// Package nutrition records meals and computes nutrition summaries.
//
// Summaries cover today, the last seven days (always seven buckets, averaged
// over seven) and the current month to date (averaged over elapsed days).
// Day boundaries are UTC. Returned macro totals and averages are rounded to
// one decimal; average daily calories to a whole number.
//
// When an Analyzer is configured, each summary carries free-text commentary.
// Analyzer failures never fail a summary.
package nutrition
