// Package mcpscope implements a client-side exploration toolkit for the Model
// Context Protocol (MCP), following the official specification from
// https://spec.modelcontextprotocol.io/specification/.
//
// The package connects to MCP servers over HTTP or a local child process,
// performs the initialization handshake, enumerates the tools, resources and
// prompts a server exposes, invokes them, and classifies which revision of the
// specification the server most likely implements.
package mcpscope
