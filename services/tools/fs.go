package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/upb/maturity-gateway/services"
)

// Content encodings accepted by the file tools.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

const (
	dirMode  = 0o750
	fileMode = 0o640
)

const fsReadSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"encoding": {"type": "string", "enum": ["utf-8", "base64"]}
	},
	"required": ["path"],
	"additionalProperties": false
}`

const fsWriteSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"content": {"type": "string"},
		"encoding": {"type": "string", "enum": ["utf-8", "base64"]}
	},
	"required": ["path", "content"],
	"additionalProperties": false
}`

const fsListSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"}
	},
	"additionalProperties": false
}`

type fsArgs struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FSRead reads a file inside the engagement sandbox.
func FSRead() Tool {
	return Tool{
		Name:        "fs_read",
		Description: "Read a file from the engagement workspace",
		Operation:   "read",
		Schema:      fsReadSchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			var args fsArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			encoding := args.Encoding
			if encoding == "" {
				encoding = EncodingUTF8
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				data, err := os.ReadFile(v.Path)
				if err != nil {
					return nil, fsError(err)
				}
				var content string
				switch encoding {
				case EncodingBase64:
					content = base64.StdEncoding.EncodeToString(data)
				default:
					if !utf8.Valid(data) {
						return nil, services.NewValidationError("file is not valid utf-8; read it with encoding base64", nil)
					}
					content = string(data)
				}
				return map[string]interface{}{
					"path":       v.RelPath(),
					"content":    content,
					"encoding":   encoding,
					"size_bytes": len(data),
				}, nil
			}
			return Request{Path: args.Path, CheckSize: true}, fn, nil
		},
	}
}

// FSWrite writes a file inside the engagement sandbox, creating parent
// directories. Concurrent writers to the same file race; the last one wins.
func FSWrite() Tool {
	return Tool{
		Name:        "fs_write",
		Description: "Write a file to the engagement workspace",
		Operation:   "write",
		Schema:      fsWriteSchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			var args fsArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			req := Request{Path: args.Path}
			switch args.Encoding {
			case EncodingBase64:
				data, err := base64.StdEncoding.DecodeString(args.Content)
				if err != nil {
					return Request{}, nil, services.NewValidationError("content is not valid base64", err)
				}
				req.Content = data
			default:
				req.Content = []byte(args.Content)
				req.Text = args.Content
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				if err := writeFile(v.Path, v.Content); err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"path":       v.RelPath(),
					"size_bytes": len(v.Content),
				}, nil
			}
			return req, fn, nil
		},
	}
}

// FSList lists a directory inside the engagement sandbox.
func FSList() Tool {
	return Tool{
		Name:        "fs_list",
		Description: "List a directory of the engagement workspace",
		Operation:   "list",
		Schema:      fsListSchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			var args fsArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			if args.Path == "" {
				args.Path = "."
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				info, err := os.Stat(v.Path)
				if err != nil {
					return nil, fsError(err)
				}
				if !info.IsDir() {
					return nil, services.NewValidationError("path is not a directory", nil)
				}
				dirEntries, err := os.ReadDir(v.Path)
				if err != nil {
					return nil, fsError(err)
				}
				entries := make([]interface{}, 0, len(dirEntries))
				for _, e := range dirEntries {
					entry := map[string]interface{}{
						"name":   e.Name(),
						"is_dir": e.IsDir(),
					}
					if fi, err := e.Info(); err == nil && !e.IsDir() {
						entry["size_bytes"] = fi.Size()
					}
					entries = append(entries, entry)
				}
				return map[string]interface{}{
					"path":    v.RelPath(),
					"entries": entries,
					"count":   len(entries),
				}, nil
			}
			return Request{Path: args.Path}, fn, nil
		},
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return services.WrapInternal("failed to create directory", err)
	}
	// A link created after Resolve would redirect the write.
	if info, err := os.Lstat(path); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return services.NewPathTraversalError("refusing to write through a symbolic link")
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return fsError(err)
	}
	return nil
}

// fsError converts filesystem errors without echoing absolute sandbox paths.
func fsError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return services.NewNotFoundError("file not found", nil)
	case errors.Is(err, fs.ErrPermission):
		return services.NewDomainError(services.ErrorTypeForbidden, "permission denied", nil)
	default:
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return services.WrapInternal(pathErr.Op+" failed", pathErr.Err)
		}
		return services.WrapInternal("filesystem operation failed", err)
	}
}
