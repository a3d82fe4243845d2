// Package fileops exposes workspace-scoped file tools. Paths are resolved
// relative to the workspace root and may not escape it.
package fileops

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/tools/builtin/shared"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/filestore"
)

const (
	maxSendBytes = 20 << 20
	maxReadBytes = 256 << 10
)

// Tools returns the file tools rooted at workspace.
func Tools(workspace string) []shared.Tool {
	return []shared.Tool{
		NewSendFile(workspace),
		NewReadFile(workspace),
		NewWriteFile(workspace),
	}
}

func resolve(root, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("path required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	target := rel
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, rel)
	}
	target = filepath.Clean(target)
	within, err := filepath.Rel(absRoot, target)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", rel)
	}
	return target, nil
}

func detectMime(path string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

type sendFile struct {
	shared.BaseTool
	root string
}

// NewSendFile creates the send_file tool. Its result carries the file
// payload marker, which the engine turns into a file event for the user.
func NewSendFile(root string) shared.Tool {
	return &sendFile{
		BaseTool: shared.NewBaseTool(ports.ToolDefinition{
			Name:        "send_file",
			Description: "Send a file from the workspace to the user.",
			Parameters: shared.ObjectSchema(map[string]shared.Property{
				"path": {Type: "string", Description: "Workspace-relative path."},
				"name": {Type: "string", Description: "Optional file name shown to the user."},
			}, "path"),
		}),
		root: root,
	}
}

func (t *sendFile) Execute(_ context.Context, call session.ToolCall) (ports.ToolResult, error) {
	path, err := resolve(t.root, shared.StringArg(call.Arguments, "path"))
	if err != nil {
		return shared.ToolError("%v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return shared.ToolError("cannot read file: %v", err)
	}
	if info.IsDir() {
		return shared.ToolError("%s is a directory", filepath.Base(path))
	}
	if info.Size() > maxSendBytes {
		return shared.ToolError("file is %d bytes; the limit is %d", info.Size(), maxSendBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return shared.ToolError("cannot read file: %v", err)
	}
	name := strings.TrimSpace(shared.StringArg(call.Arguments, "name"))
	if name == "" {
		name = filepath.Base(path)
	}
	return ports.ToolResult{
		Content: fmt.Sprintf("Sent %s (%d bytes) to the user.", name, len(data)),
		File: &ports.FilePayload{
			Name:     name,
			Bytes:    data,
			MimeType: detectMime(path, data),
		},
	}, nil
}

type readFile struct {
	shared.BaseTool
	root string
}

// NewReadFile creates the read_file tool.
func NewReadFile(root string) shared.Tool {
	return &readFile{
		BaseTool: shared.NewBaseTool(ports.ToolDefinition{
			Name:        "read_file",
			Description: "Read a text file from the workspace.",
			Parameters: shared.ObjectSchema(map[string]shared.Property{
				"path": {Type: "string", Description: "Workspace-relative path."},
			}, "path"),
		}),
		root: root,
	}
}

func (t *readFile) Execute(_ context.Context, call session.ToolCall) (ports.ToolResult, error) {
	path, err := resolve(t.root, shared.StringArg(call.Arguments, "path"))
	if err != nil {
		return shared.ToolError("%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return shared.ToolError("cannot read file: %v", err)
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	content := string(data)
	if truncated {
		content += "\n[truncated]"
	}
	return ports.ToolResult{Content: content}, nil
}

type writeFile struct {
	shared.BaseTool
	root string
}

// NewWriteFile creates the write_file tool.
func NewWriteFile(root string) shared.Tool {
	return &writeFile{
		BaseTool: shared.NewBaseTool(ports.ToolDefinition{
			Name:        "write_file",
			Description: "Create or replace a text file in the workspace.",
			Parameters: shared.ObjectSchema(map[string]shared.Property{
				"path":    {Type: "string", Description: "Workspace-relative path."},
				"content": {Type: "string", Description: "Full file content."},
			}, "path", "content"),
		}),
		root: root,
	}
}

func (t *writeFile) Execute(_ context.Context, call session.ToolCall) (ports.ToolResult, error) {
	path, err := resolve(t.root, shared.StringArg(call.Arguments, "path"))
	if err != nil {
		return shared.ToolError("%v", err)
	}
	content := shared.StringArg(call.Arguments, "content")
	if err := filestore.AtomicWrite(path, []byte(content), 0o644); err != nil {
		return shared.ToolError("write failed: %v", err)
	}
	return shared.Text("Wrote %d bytes to %s.", len(content), filepath.Base(path))
}
