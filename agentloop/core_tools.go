package agentloop

import (
	"context"
	"encoding/json"

	"github.com/tinkerdev/tinker/llmclient"
)

// RegisterCoreTools registers the sandboxed tool operations on a
// ToolRegistry.
func RegisterCoreTools(reg *ToolRegistry) {
	registerListFiles(reg)
	registerReadFromFile(reg)
	registerReadLinesFromFile(reg)
	registerWriteToFile(reg)
	registerRunCommand(reg)
	registerViewImage(reg)
	registerReplaceLinesInFile(reg)
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func integerProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

func registerListFiles(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: llmclient.ToolDefinition{
			Name:        "list_files",
			Description: "List names of all files in a directory.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"directory": stringProp("The directory to list."),
				},
				"required": []string{"directory"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, sb *Sandbox) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			directory, ok := GetStringArg(args, "directory")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "directory is required"}
			}
			text, err := sb.ListFiles(directory)
			return ToolOutput{Text: text}, err
		},
	})
}

func registerReadFromFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: llmclient.ToolDefinition{
			Name:        "read_from_file",
			Description: "Read text from a file at the given path.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": stringProp("The path to the file."),
				},
				"required": []string{"path"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, sb *Sandbox) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			path, ok := GetStringArg(args, "path")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "path is required"}
			}
			text, err := sb.ReadFromFile(path)
			return ToolOutput{Text: text}, err
		},
	})
}

func registerReadLinesFromFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: llmclient.ToolDefinition{
			Name: "read_lines_from_file",
			Description: "Read up to 500 lines from a file starting at a specific line number. " +
				"Each line is prefixed with its line number.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path":  stringProp("The path to the file."),
					"start_line": integerProp("The line number to start reading from (1-indexed)."),
				},
				"required": []string{"file_path", "start_line"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, sb *Sandbox) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			filePath, ok := GetStringArg(args, "file_path")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "file_path is required"}
			}
			startLine, ok := GetIntArg(args, "start_line")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "start_line is required"}
			}
			text, err := sb.ReadLinesFromFile(filePath, startLine)
			return ToolOutput{Text: text}, err
		},
	})
}

func registerWriteToFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: llmclient.ToolDefinition{
			Name:        "write_to_file",
			Description: "Write text to a file at the given path, overwriting any existing content.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    stringProp("The path to the file."),
					"content": stringProp("The content to write to the file."),
				},
				"required": []string{"path", "content"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, sb *Sandbox) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			path, ok := GetStringArg(args, "path")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "path is required"}
			}
			content, ok := GetStringArg(args, "content")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "content is required"}
			}
			text, err := sb.WriteToFile(path, content)
			return ToolOutput{Text: text}, err
		},
	})
}

func registerRunCommand(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: llmclient.ToolDefinition{
			Name: "run_command",
			Description: "Run a shell command in the working directory and return its exit code, " +
				"stdout, and stderr.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": stringProp("The command to run."),
				},
				"required": []string{"command"},
			},
		},
		Executor: func(ctx context.Context, arguments json.RawMessage, sb *Sandbox) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			command, ok := GetStringArg(args, "command")
			if !ok || command == "" {
				return ToolOutput{}, &ValidationError{Message: "command is required"}
			}
			text, err := sb.RunCommand(ctx, command)
			return ToolOutput{Text: text}, err
		},
	})
}

func registerViewImage(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: llmclient.ToolDefinition{
			Name:        "view_image",
			Description: "View a png or jpg image file.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": stringProp("The path to the image file."),
				},
				"required": []string{"path"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, sb *Sandbox) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			path, ok := GetStringArg(args, "path")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "path is required"}
			}
			text, attachment, err := sb.ViewImage(path)
			return ToolOutput{Text: text, Attachment: attachment}, err
		},
	})
}

func registerReplaceLinesInFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: llmclient.ToolDefinition{
			Name: "replace_lines_in_file",
			Description: "Replace a range of lines in a file with new lines. The previous lines " +
				"must match the file's current content exactly, or the edit is rejected.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path":         stringProp("The path to the file."),
					"start_line":        integerProp("The starting line number for replacement (1-indexed)."),
					"remove_line_count": integerProp("The number of lines to remove, starting with start_line."),
					"previous_lines":    stringProp("The lines currently in the addressed range, verbatim."),
					"new_lines":         stringProp("The new lines to insert."),
				},
				"required": []string{"file_path", "start_line", "remove_line_count", "previous_lines", "new_lines"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, sb *Sandbox) (ToolOutput, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolOutput{}, err
			}
			filePath, ok := GetStringArg(args, "file_path")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "file_path is required"}
			}
			startLine, ok := GetIntArg(args, "start_line")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "start_line is required"}
			}
			removeLineCount, ok := GetIntArg(args, "remove_line_count")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "remove_line_count is required"}
			}
			previousLines, ok := GetStringArg(args, "previous_lines")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "previous_lines is required"}
			}
			newLines, ok := GetStringArg(args, "new_lines")
			if !ok {
				return ToolOutput{}, &ValidationError{Message: "new_lines is required"}
			}
			text, err := sb.ReplaceLinesInFile(filePath, startLine, removeLineCount, previousLines, newLines)
			return ToolOutput{Text: text}, err
		},
	})
}
