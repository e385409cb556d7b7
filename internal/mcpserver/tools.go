// Package mcpserver registers MCP tools that expose cloud operations.
// It adapts the session and api packages to the MCP SDK's tool handler
// interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/iotcloud/internal/api"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/alexjbarnes/iotcloud/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusSource reports the session state. *session.Session satisfies it.
type StatusSource interface {
	Snapshot() session.Snapshot
}

// RegisterTools adds all cloud tools to the given MCP server.
func RegisterTools(server *mcp.Server, status StatusSource, c *api.Client) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cloud_status",
		Description: "Report whether the client is signed in to the cloud. Returns the session state and a fingerprint of the current token, never the token itself.",
	}, statusHandler(status))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "device_list",
		Description: "List every device on the account with its ID, name, and online status.",
	}, deviceListHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "device_get",
		Description: "Get one device by ID or name, including the cloud functions and variables it exposes.",
	}, deviceGetHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "function_call",
		Description: "Call a cloud function on a device with a string argument. Returns the integer the function returned.",
	}, functionCallHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "variable_get",
		Description: "Read the current value of a cloud variable from a device.",
	}, variableGetHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "event_publish",
		Description: "Publish an event to the account's event stream. Events are private unless public is true.",
	}, eventPublishHandler(c))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput has no parameters.
type StatusInput struct{}

// DeviceListInput has no parameters.
type DeviceListInput struct{}

// DeviceGetInput holds parameters for device_get.
type DeviceGetInput struct {
	Device string `json:"device" jsonschema:"required,device ID or name"`
}

// FunctionCallInput holds parameters for function_call.
type FunctionCallInput struct {
	Device   string `json:"device" jsonschema:"required,device ID or name"`
	Function string `json:"function" jsonschema:"required,cloud function name"`
	Argument string `json:"argument,omitempty" jsonschema:"string argument passed to the function"`
}

// VariableGetInput holds parameters for variable_get.
type VariableGetInput struct {
	Device   string `json:"device" jsonschema:"required,device ID or name"`
	Variable string `json:"variable" jsonschema:"required,cloud variable name"`
}

// EventPublishInput holds parameters for event_publish.
type EventPublishInput struct {
	Name   string `json:"name" jsonschema:"required,event name"`
	Data   string `json:"data,omitempty" jsonschema:"event payload"`
	Public bool   `json:"public,omitempty" jsonschema:"publish to the public stream, defaults to private"`
	TTL    int    `json:"ttl,omitempty" jsonschema:"time to live in seconds"`
}

// --- Output types ---

// StatusResult is the cloud_status output.
type StatusResult struct {
	State            string `json:"state"`
	TokenFingerprint string `json:"token_fingerprint,omitempty"`
}

// DeviceListResult is the device_list output.
type DeviceListResult struct {
	Count   int             `json:"count"`
	Devices []models.Device `json:"devices"`
}

// --- Handlers ---

func statusHandler(status StatusSource) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		snap := status.Snapshot()
		result := &StatusResult{State: snap.State.String()}
		if snap.Token != nil {
			result.TokenFingerprint = snap.Token.Fingerprint()
		}
		return textResult(result), result, nil
	}
}

// Device payloads carry timestamps and free-form values, so these tools
// return unstructured JSON text only.

func deviceListHandler(c *api.Client) mcp.ToolHandlerFor[DeviceListInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ DeviceListInput) (*mcp.CallToolResult, any, error) {
		devices, err := c.ListDevices(ctx)
		if err != nil {
			return nil, nil, err
		}
		return textResult(&DeviceListResult{Count: len(devices), Devices: devices}), nil, nil
	}
}

func deviceGetHandler(c *api.Client) mcp.ToolHandlerFor[DeviceGetInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeviceGetInput) (*mcp.CallToolResult, any, error) {
		device, err := c.GetDevice(ctx, input.Device)
		if err != nil {
			return nil, nil, err
		}
		return textResult(device), nil, nil
	}
}

func functionCallHandler(c *api.Client) mcp.ToolHandlerFor[FunctionCallInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FunctionCallInput) (*mcp.CallToolResult, any, error) {
		result, err := c.CallFunction(ctx, input.Device, input.Function, input.Argument)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), nil, nil
	}
}

func variableGetHandler(c *api.Client) mcp.ToolHandlerFor[VariableGetInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VariableGetInput) (*mcp.CallToolResult, any, error) {
		result, err := c.GetVariable(ctx, input.Device, input.Variable)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), nil, nil
	}
}

func eventPublishHandler(c *api.Client) mcp.ToolHandlerFor[EventPublishInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EventPublishInput) (*mcp.CallToolResult, any, error) {
		result, err := c.PublishEvent(ctx, models.PublishRequest{
			Name:    input.Name,
			Data:    input.Data,
			Private: !input.Public,
			TTL:     input.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), nil, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
