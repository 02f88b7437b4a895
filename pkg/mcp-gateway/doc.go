// Package mcpgateway is a reverse proxy that fronts the HTTP tool servers
// of a registry under one listener. Requests to /mcp/<server> are rewritten
// onto the server's registered streamable endpoint, /sse/<server> and
// /messages cover the SSE transport pair, and responses stream through
// unbuffered. CORS is handled at the boundary so browser-hosted clients can
// talk to any fronted server directly.
package mcpgateway
