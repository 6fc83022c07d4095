// Copyright 2025 Hivemind Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@hivemindlabs.io
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hivemindlabs/hivemind/internal/errors"
	"github.com/hivemindlabs/hivemind/pkg/tools"
)

const mcpServerName = "hivemind"

// jsonRPCRequest represents a JSON-RPC 2.0 request from the MCP client.
//
// The MCP protocol uses JSON-RPC 2.0 for all client-server communication.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"` // Request parameters (tool-specific)
}

// jsonRPCResponse represents a JSON-RPC 2.0 response to the MCP client.
//
// Contains either a result (on success) or an error (on failure), never both.
type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"` // Error details (if request failed)
}

// rpcError represents a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"` // Additional error data (optional)
}

// mcpServerInfo provides server identification for MCP protocol handshake.
type mcpServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type mcpCapabilities struct {
	Tools map[string]any `json:"tools,omitempty"` // Tool capabilities declaration
}

// mcpInitializeResult is the response to the MCP initialize request.
type mcpInitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    mcpCapabilities `json:"capabilities"`
	ServerInfo      mcpServerInfo   `json:"serverInfo"` // Server identification
}

// mcpToolsListResult is the response to the tools/list request.
type mcpToolsListResult struct {
	Tools []tools.Tool `json:"tools"`
}

type mcpToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"` // Tool-specific arguments
}

// mcpToolResult is the result of a tool execution.
//
// Contains the tool's output as an array of content blocks (typically text).
type mcpToolResult struct {
	Content []mcpContent `json:"content"`
	IsError bool         `json:"isError,omitempty"` // True if tool execution failed
}

// mcpContent represents a single content block in a tool result.
//
// MCP supports multiple content types; Hivemind uses text content exclusively.
type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"` // Content text
}

// mcpServer maintains state for the running MCP server instance.
type mcpServer struct {
	dispatcher *tools.Dispatcher
}

// runMCPServer serves the Model Context Protocol over stdin/stdout.
//
// MCP Protocol Flow:
//  1. Client sends initialize request
//  2. Server responds with capabilities and server info
//  3. Client sends tools/list to discover available tools
//  4. Client sends tools/call requests to invoke specific tools
//  5. Server executes the tool and returns results as content blocks
//
// The tool surface is generated from the active template: a query_<type>
// and list_<type> pair per entity type, plus search_vault, rebuild_index,
// and get_vault_stats. Tool-level failures come back as isError results;
// the server only stops when stdin closes or ctx is cancelled.
func runMCPServer(ctx context.Context, dispatcher *tools.Dispatcher, cfg *Config, globals GlobalFlags) {
	server := &mcpServer{dispatcher: dispatcher}

	if !globals.Quiet {
		fmt.Fprintf(os.Stderr, "Hivemind MCP server %s starting...\n", version)
		fmt.Fprintf(os.Stderr, "  Vault: %s\n", cfg.Vault.Path)
		fmt.Fprintf(os.Stderr, "  Template: %s\n", cfg.Template.ActiveTemplate)
		fmt.Fprintf(os.Stderr, "  Tools: %d\n", len(dispatcher.Tools()))
	}

	// Stdin reads cannot be interrupted, so the scanner runs on its own
	// goroutine and the loop selects against ctx.
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "Shutting down\n")
			return
		case line, ok = <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					errors.FatalError(errors.NewInternalError(
						"MCP server input error",
						"Failed to read from stdin",
						"Check if stdin is closed or if there's a pipe issue.",
						err,
					), globals.JSON)
				}
				return
			}
		}
		if line == "" {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			ue := errors.NewInputError(
				"Invalid JSON in MCP request",
				"The request does not conform to JSON-RPC 2.0 format",
				"Check your MCP client configuration or update Claude Code/Cursor",
			)
			fmt.Fprintf(os.Stderr, "%s\n", ue.Format(false))
			continue
		}

		resp := server.handleRequest(ctx, req)

		// Notifications get no response on the wire.
		if resp.ID == nil && resp.Result == nil && resp.Error == nil {
			continue
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			ue := errors.NewInternalError(
				"Cannot encode MCP response",
				"Failed to marshal response to JSON",
				"This is a bug. Please report it with the request details.",
				err,
			)
			fmt.Fprintf(os.Stderr, "%s\n", ue.Format(false))
			continue
		}

		_, _ = fmt.Fprintf(os.Stdout, "%s\n", respBytes)
		_ = os.Stdout.Sync()
	}
}

func (s *mcpServer) handleRequest(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	switch req.Method {
	case "initialize":
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: mcpInitializeResult{
				ProtocolVersion: "2024-11-05",
				Capabilities: mcpCapabilities{
					Tools: map[string]any{"listChanged": true},
				},
				ServerInfo: mcpServerInfo{
					Name:    mcpServerName,
					Version: version,
				},
			},
		}

	case "notifications/initialized":
		return jsonRPCResponse{}

	case "tools/list":
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: mcpToolsListResult{
				Tools: s.dispatcher.Tools(),
			},
		}

	case "tools/call":
		var params mcpToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error: &rpcError{
					Code:    -32602,
					Message: "Invalid params",
					Data:    err.Error(),
				},
			}
		}

		result := s.dispatcher.Dispatch(ctx, params.Name, params.Arguments)
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: mcpToolResult{
				Content: []mcpContent{{Type: "text", Text: result.Text}},
				IsError: result.IsError,
			},
		}

	default:
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &rpcError{
				Code:    -32601,
				Message: "Method not found",
				Data:    req.Method,
			},
		}
	}
}
