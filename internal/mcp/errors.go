// Package mcp exposes claudevil's search/index tools over the Model
// Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
)

// Custom MCP error codes for claudevil.
const (
	// ErrCodeIndexNotFound indicates no index exists for the project.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a file no longer exists on disk.
	ErrCodeFileNotFound = -32004

	// ErrCodePathTraversal indicates a requested path escapes the project root.
	ErrCodePathTraversal = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrPathTraversal indicates a requested path escapes the project root.
	ErrPathTraversal = errors.New("path escapes project root")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors, mapping known error
// types and claudevilerrors.Error categories to the appropriate code.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ce *claudevilerrors.Error
	if errors.As(err, &ce) {
		return mapClaudevilError(ce)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "request was canceled"}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "tool not found"}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "invalid parameters"}
	case errors.Is(err, ErrPathTraversal):
		return &MCPError{Code: ErrCodePathTraversal, Message: "path escapes project root"}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "internal server error"}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("tool %q not found", name)}
}

// mapClaudevilError converts a claudevilerrors.Error to an MCPError.
func mapClaudevilError(ce *claudevilerrors.Error) *MCPError {
	switch ce.Category {
	case claudevilerrors.CategoryConfiguration, claudevilerrors.CategoryTask:
		return &MCPError{Code: ErrCodeInternalError, Message: ce.Message}
	case claudevilerrors.CategoryModel:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: ce.Message}
	case claudevilerrors.CategoryStore:
		if ce.Code == claudevilerrors.ErrCodeCorruptIndex {
			return &MCPError{Code: ErrCodeIndexNotFound, Message: ce.Message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: ce.Message}
	case claudevilerrors.CategoryFilesystem:
		switch ce.Code {
		case claudevilerrors.ErrCodeFileNotFound:
			return &MCPError{Code: ErrCodeFileNotFound, Message: ce.Message}
		case claudevilerrors.ErrCodePathTraversal:
			return &MCPError{Code: ErrCodePathTraversal, Message: ce.Message}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: ce.Message}
		}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: ce.Message}
	}
}
