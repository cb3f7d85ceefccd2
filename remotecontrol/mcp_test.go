package remotecontrol

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func TestMCPServerGetSetParam(t *testing.T) {
	reg := New()
	value := "1.0"
	reg.Register(Param{
		Name:        "digitalgain",
		Description: "scale factor",
		Get:         func() string { return value },
		Set: func(v string) error {
			value = v
			return nil
		},
	})

	srv := NewMCPServer(reg, "dabmod", "test")
	require.NotNil(t, srv.HTTPHandler())

	setReq := mcp.CallToolRequest{}
	setReq.Params.Arguments = map[string]any{"name": "digitalgain", "value": "0.75"}
	result, err := srv.handleSetParam(context.Background(), setReq)
	require.NoError(t, err)
	require.False(t, result.IsError)

	getReq := mcp.CallToolRequest{}
	getReq.Params.Arguments = map[string]any{"name": "digitalgain"}
	result, err = srv.handleGetParam(context.Background(), getReq)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "0.75", value)
}

func TestMCPServerGetUnknownParamIsToolError(t *testing.T) {
	reg := New()
	srv := NewMCPServer(reg, "dabmod", "test")

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"name": "nope"}
	result, err := srv.handleGetParam(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.IsError)
}
