package rclparams

import (
	"context"
	"errors"
	"fmt"
	"strings"

	runtimepkg "github.com/drblury/widgetbus/internal/runtime"
	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
)

// ErrLengthMismatch is returned when a response does not carry one entry per
// requested parameter.
var ErrLengthMismatch = errors.New("widgetbus: parameter response length mismatch")

// Invoker calls the service bound to a widget attribute. *runtime.Runtime
// satisfies it.
type Invoker interface {
	InvokeService(ctx context.Context, instanceID, attrName string, req any, opts runtimepkg.CallOptions) (any, error)
}

// Get reads names through the GetParameters service bound to
// instanceID/attrName and returns the values keyed by name.
func Get(ctx context.Context, inv Invoker, instanceID, attrName string, names ...string) (map[string]ParameterValue, error) {
	var resp GetParametersResponse
	if err := invoke(ctx, inv, instanceID, attrName, GetParametersRequest{Names: names}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Values) != len(names) {
		return nil, fmt.Errorf("%w: asked for %d, got %d", ErrLengthMismatch, len(names), len(resp.Values))
	}
	out := make(map[string]ParameterValue, len(names))
	for i, name := range names {
		out[name] = resp.Values[i]
	}
	return out, nil
}

// Set writes params through the SetParameters service bound to
// instanceID/attrName. A response that rejects any parameter is returned
// together with a *RejectedError.
func Set(ctx context.Context, inv Invoker, instanceID, attrName string, params ...Parameter) (SetParametersResponse, error) {
	var resp SetParametersResponse
	if err := invoke(ctx, inv, instanceID, attrName, SetParametersRequest{Parameters: params}, &resp); err != nil {
		return resp, err
	}
	if len(resp.Results) != len(params) {
		return resp, fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(params), len(resp.Results))
	}
	rejected := &RejectedError{}
	for i, res := range resp.Results {
		if !res.Successful {
			rejected.Names = append(rejected.Names, params[i].Name)
			rejected.Reasons = append(rejected.Reasons, res.Reason)
		}
	}
	if len(rejected.Names) > 0 {
		return resp, rejected
	}
	return resp, nil
}

// RejectedError lists the parameters a node refused to set.
type RejectedError struct {
	Names   []string
	Reasons []string
}

func (e *RejectedError) Error() string {
	parts := make([]string, len(e.Names))
	for i, name := range e.Names {
		parts[i] = name + ": " + e.Reasons[i]
	}
	return "widgetbus: parameters rejected (" + strings.Join(parts, "; ") + ")"
}

// invoke sends req as a generic JSON tree and decodes the reply into out.
func invoke(ctx context.Context, inv Invoker, instanceID, attrName string, req, out any) error {
	payload, err := jsoncodec.Normalize(req)
	if err != nil {
		return fmt.Errorf("encode parameter request: %w", err)
	}
	resp, err := inv.InvokeService(ctx, instanceID, attrName, payload, runtimepkg.CallOptions{})
	if err != nil {
		return err
	}
	data, err := jsoncodec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode parameter response: %w", err)
	}
	if err := jsoncodec.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode parameter response: %w", err)
	}
	return nil
}
