// Package protocol defines the wire contract between the xplor frontend and
// the xplord backend: id-correlated request/response messages on one channel
// and topic-filtered events on the other.
package protocol

import (
	"encoding/json"
	"time"
)

// Error codes carried in Response.Error.Code.
const (
	CodePathNotFound      = "PATH_NOT_FOUND"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeFileExists        = "FILE_EXISTS"
	CodeDirectoryNotEmpty = "DIRECTORY_NOT_EMPTY"
	CodeInvalidPath       = "INVALID_PATH"
	CodeDiskFull          = "DISK_FULL"
	CodeCancelled         = "OPERATION_CANCELLED"
	CodeOperationFailed   = "OPERATION_FAILED"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeTimeout           = "TIMEOUT"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnknown           = "UNKNOWN"
)

// Actions understood by the backend.
const (
	ActionFSList       = "fs.list"
	ActionFSInfo       = "fs.info"
	ActionFSCopy       = "fs.copy"
	ActionFSMove       = "fs.move"
	ActionFSDelete     = "fs.delete"
	ActionFSRename     = "fs.rename"
	ActionFSMkdir      = "fs.mkdir"
	ActionFSWriteFile  = "fs.writeFile"
	ActionFSFolderSize = "fs.folderSize"
	ActionFSDrives     = "fs.drives"
	ActionFSWatch      = "fs.watch"
	ActionFSUnwatch    = "fs.unwatch"
	ActionFSSearch     = "fs.search"
	ActionThemeList    = "theme.list"
	ActionThemeGet     = "theme.get"
	ActionThemeSave    = "theme.save"
	ActionThemeDelete  = "theme.delete"
	ActionCancel       = "cancel"
)

// Request is a client-to-backend message on the request/response channel.
type Request struct {
	ID     string         `json:"id"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// ErrorInfo describes an application-level failure.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Response is correlated to its Request strictly by ID. Responses may arrive
// in any order; the channel is multiplexed.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// Event is a backend-to-client message on the publish channel. Path doubles
// as the delivery topic: a subscriber to a directory receives events for any
// path beneath it (prefix match, done by the backend).
type Event struct {
	Type      string          `json:"type"`
	Path      string          `json:"path"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// EventFSChanged is the Type of filesystem change events.
const EventFSChanged = "fs.changed"

// Filesystem change kinds carried in FSChange.EventType.
const (
	FSCreated  = "created"
	FSDeleted  = "deleted"
	FSModified = "modified"
	FSRenamed  = "renamed"
	// FSOverflow signals the backend lost track of changes; the consumer
	// must reload the whole directory instead of applying deltas.
	FSOverflow = "overflow"
)

// FSChange is the Data payload of an fs.changed event.
type FSChange struct {
	EventType string `json:"eventType"`
	OldPath   string `json:"oldPath,omitempty"`
}

// Subscription control ops, sent client-to-backend on the event channel.
const (
	SubOpSubscribe   = "subscribe"
	SubOpUnsubscribe = "unsubscribe"
)

// SubControl registers or removes interest in a topic.
type SubControl struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
}

// Entry is one directory entry, the element type of fs.list and fs.search
// response data.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Drive describes a mounted volume, returned by fs.drives.
type Drive struct {
	Path  string `json:"path"`
	Label string `json:"label"`
	Total uint64 `json:"total,omitempty"`
	Free  uint64 `json:"free,omitempty"`
}

// Theme is a named color scheme stored by the backend.
type Theme struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Colors map[string]string `json:"colors"`
}

// Now returns the event timestamp for the current instant, seconds since the
// Unix epoch with fractional precision.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
