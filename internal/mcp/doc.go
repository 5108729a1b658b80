// Package mcp implements the Model Context Protocol transport and dispatcher
// that expose the calorie tools to MCP clients.
//
// # Transport
//
//   - GET /sse opens a Server-Sent Events stream. The first event announces
//     the message endpoint, then a ping event is sent on every heartbeat.
//   - POST /sse and POST /messages accept one JSON body per call: a single
//     JSON-RPC request, a batch array, or an empty/handshake body.
//
// An empty body or {} is answered with the endpoint and tool capability so
// clients can discover where to send requests:
//
//	{"endpoint": "/messages", "capabilities": {"tools": {}}}
//
// # Dispatch
//
// Dispatcher routes initialize, tools/list, tools/call and ping through a
// fixed method table. notifications/* are acknowledged with an empty result.
// A single request that fails is answered with HTTP 400; a batch always gets
// HTTP 200 with one response per element in input order.
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "add_meal",
//	    "arguments": {"meal_name": "Oatmeal", "calories": 350}
//	  },
//	  "id": 2
//	}
//
// Tool results are returned as a single text content item holding the
// indented JSON payload.
//
// # Authentication
//
// When Config.RequireAuth is set every route requires a bearer token
// accepted by Config.Verifier. See package auth.
package mcp
