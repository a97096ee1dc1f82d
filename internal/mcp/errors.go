package mcp

import (
	"context"
	"errors"
	"fmt"

	memerrors "github.com/memcore/memcore/internal/errors"
)

// Custom MCP error codes for memcore, in the unallocated range below the
// standard JSON-RPC codes, mirroring the teacher's convention.
const (
	ErrCodeChunkNotFound    = -32001
	ErrCodeEmbeddingFailed  = -32002
	ErrCodeTimeout          = -32003
	ErrCodeSourceNotFound   = -32004
	ErrCodeTierUnavailable  = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for conditions raised inside this package rather than
// surfaced from a deeper MemError.
var (
	ErrChunkNotFound = errors.New("chunk not found")
	ErrToolNotFound  = errors.New("tool not found")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts an internal error into the MCP error envelope. It
// checks for memcore's own MemError taxonomy first, then a handful of
// package-local sentinels and context errors, and falls back to a
// generic internal error otherwise.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var memErr *memerrors.MemError
	if errors.As(err, &memErr) {
		return mapMemError(memErr)
	}

	switch {
	case errors.Is(err, ErrChunkNotFound):
		return &MCPError{Code: ErrCodeChunkNotFound, Message: "Chunk not found."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// mapMemError translates a memcore MemError into the MCP envelope using
// its category, so retrieval tier outages and storage faults surface
// under distinct codes rather than a single catch-all.
func mapMemError(e *memerrors.MemError) *MCPError {
	switch e.Category {
	case memerrors.CategoryInput:
		return &MCPError{Code: ErrCodeInvalidParams, Message: e.Message}
	case memerrors.CategoryTierUnavailable:
		return &MCPError{Code: ErrCodeTierUnavailable, Message: e.Message}
	case memerrors.CategoryRouting:
		return &MCPError{Code: ErrCodeTierUnavailable, Message: e.Message}
	case memerrors.CategoryTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: e.Message}
	case memerrors.CategoryStorage, memerrors.CategoryIntegrity:
		if e.Code == memerrors.ErrCodeSourceMissing {
			return &MCPError{Code: ErrCodeSourceNotFound, Message: e.Message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: e.Message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: e.Message}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a
// custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}
