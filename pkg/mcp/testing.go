package mcp

import "context"

// FakeBridge is a scripted Bridge for tests.
type FakeBridge struct {
	Resources map[string]string
	ToolText  string
	Err       error

	ToolCalls []FakeToolCall
}

type FakeToolCall struct {
	Name      string
	Arguments map[string]any
}

func (f *FakeBridge) ReadResource(ctx context.Context, uri string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Resources[uri], nil
}

func (f *FakeBridge) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	f.ToolCalls = append(f.ToolCalls, FakeToolCall{Name: name, Arguments: arguments})
	if f.Err != nil {
		return "", f.Err
	}
	return f.ToolText, nil
}
