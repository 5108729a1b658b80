// Package tools provides the tool registry exposed over MCP.
//
// A Tool is a Definition (name, description, JSON Schema) plus a Handler that
// receives the raw arguments object. Handlers decode into a typed input
// struct and apply per-field defaults; arguments are not validated against
// the advertised schema.
//
// Registry.Call never fails: unknown tools yield {"error": "Unknown tool: X"}
// and handler errors yield {"error": "..."} with Result.IsError set.
//
// CalorieTools wires the five tracker tools to a nutrition.Engine:
//
//   - add_meal
//   - get_today_summary
//   - get_weekly_summary
//   - get_monthly_summary
//   - get_meal_history
package tools
