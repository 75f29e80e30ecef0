package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

var coreToolNames = []string{
	"list_files",
	"read_from_file",
	"read_lines_from_file",
	"write_to_file",
	"run_command",
	"view_image",
	"replace_lines_in_file",
}

func TestRegisterCoreTools(t *testing.T) {
	reg := NewToolRegistry()
	RegisterCoreTools(reg)

	if reg.Count() != len(coreToolNames) {
		t.Fatalf("got %d tools, want %d", reg.Count(), len(coreToolNames))
	}
	for _, name := range coreToolNames {
		tool := reg.Get(name)
		if tool == nil {
			t.Errorf("tool %q not registered", name)
			continue
		}
		if tool.Definition.Description == "" {
			t.Errorf("tool %q has no description", name)
		}
		if tool.Definition.Parameters["type"] != "object" {
			t.Errorf("tool %q parameters are not an object schema", name)
		}
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewToolRegistry()
	if reg.Get("nope") != nil {
		t.Error("unknown tool must return nil")
	}
}

func TestCoreToolExecutors(t *testing.T) {
	reg := NewToolRegistry()
	RegisterCoreTools(reg)
	sb, dir := newTestSandbox(t)
	writeTestFile(t, dir, "f.txt", "one\ntwo\n")
	ctx := context.Background()

	out, err := reg.Get("read_from_file").Executor(ctx, json.RawMessage(`{"path":"f.txt"}`), sb)
	if err != nil {
		t.Fatalf("read_from_file: %v", err)
	}
	if out.Text != "one\ntwo\n" {
		t.Errorf("read_from_file: %q", out.Text)
	}

	out, err = reg.Get("read_lines_from_file").Executor(ctx, json.RawMessage(`{"file_path":"f.txt","start_line":2}`), sb)
	if err != nil {
		t.Fatalf("read_lines_from_file: %v", err)
	}
	if out.Text != "2:two\n" {
		t.Errorf("read_lines_from_file: %q", out.Text)
	}

	_, err = reg.Get("write_to_file").Executor(ctx, json.RawMessage(`{"path":"g.txt","content":"x\n"}`), sb)
	if err != nil {
		t.Fatalf("write_to_file: %v", err)
	}

	out, err = reg.Get("replace_lines_in_file").Executor(ctx,
		json.RawMessage(`{"file_path":"f.txt","start_line":1,"remove_line_count":1,"previous_lines":"one\n","new_lines":"ONE\n"}`), sb)
	if err != nil {
		t.Fatalf("replace_lines_in_file: %v", err)
	}
	if out.Text != "1:ONE\n2:two\n" {
		t.Errorf("replace_lines_in_file: %q", out.Text)
	}
}

func TestCoreToolMissingArguments(t *testing.T) {
	reg := NewToolRegistry()
	RegisterCoreTools(reg)
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	for _, name := range coreToolNames {
		_, err := reg.Get(name).Executor(ctx, json.RawMessage(`{}`), sb)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Errorf("%s with empty arguments: got %v, want ValidationError", name, err)
		}
	}
}

func TestParseToolArgumentsInvalid(t *testing.T) {
	_, err := ParseToolArguments(json.RawMessage(`not json`))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestGetIntArg(t *testing.T) {
	args := map[string]interface{}{
		"float":  float64(5),
		"string": "5",
	}
	if n, ok := GetIntArg(args, "float"); !ok || n != 5 {
		t.Errorf("float64 arg: got %d, %v", n, ok)
	}
	if _, ok := GetIntArg(args, "string"); ok {
		t.Error("string arg must not parse as int")
	}
	if _, ok := GetIntArg(args, "absent"); ok {
		t.Error("absent arg must not parse")
	}
}
