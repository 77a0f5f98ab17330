package models

import (
	"strings"
	"time"
)

// EventType identifies the monitoring surface an event came from.
type EventType string

const (
	EventTypeFileSystem   EventType = "file_system"
	EventTypeClipboard    EventType = "clipboard"
	EventTypeUSBDevice    EventType = "usb_device"
	EventTypeFileTransfer EventType = "file_transfer"
)

// File event subtypes.
const (
	FileEventCreated  = "created"
	FileEventModified = "modified"
	FileEventDeleted  = "deleted"
	FileEventMoved    = "moved"
)

// FileInfo describes the file a file-system or transfer event concerns.
type FileInfo struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Extension string `json:"extension,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
}

// TransferInfo describes a detected copy out of a protected directory.
type TransferInfo struct {
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	ProtectedRoot   string `json:"protected_root,omitempty"`
	MatchBasis      string `json:"match_basis,omitempty"`
}

// ClipboardInfo describes a clipboard capture.
type ClipboardInfo struct {
	ContentPreview string `json:"content_preview,omitempty"`
	ContentLength  int    `json:"content_length"`
	WindowTitle    string `json:"window_title,omitempty"`
	ProcessName    string `json:"process_name,omitempty"`
}

// USBInfo describes a removable device attach or detach.
type USBInfo struct {
	DeviceID     string `json:"device_id,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Label        string `json:"label,omitempty"`
	MountPoint   string `json:"mount_point,omitempty"`
	Action       string `json:"action,omitempty"`
}

// Classification is the content-inspection verdict attached to an event.
type Classification struct {
	Sensitive  bool     `json:"sensitive"`
	Families   []string `json:"families,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	MatchCount int      `json:"match_count,omitempty"`
}

// Event is the envelope every monitor emits and the server evaluates.
type Event struct {
	EventID   string    `json:"event_id"`
	AgentID   string    `json:"agent_id"`
	Type      EventType `json:"type"`
	Subtype   string    `json:"subtype,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname,omitempty"`
	Username  string    `json:"username,omitempty"`
	Process   string    `json:"process,omitempty"`

	File      *FileInfo      `json:"file,omitempty"`
	Transfer  *TransferInfo  `json:"transfer,omitempty"`
	Clipboard *ClipboardInfo `json:"clipboard,omitempty"`
	USB       *USBInfo       `json:"usb,omitempty"`

	Classification *Classification `json:"classification,omitempty"`

	// Enforcement fields recorded by the server after evaluation.
	PolicyIDs   []string       `json:"policy_ids,omitempty"`
	Severity    Severity       `json:"severity,omitempty"`
	ActionTaken string         `json:"action_taken,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Field resolves a named attribute for rule evaluation. It understands a
// flat namespace over the envelope and its sub-structs; unknown names
// return ok=false so evaluators can try alias candidates in order.
func (e *Event) Field(name string) (any, bool) {
	switch name {
	case "event_type", "type":
		return string(e.Type), true
	case "subtype", "event_subtype":
		return e.Subtype, true
	case "severity":
		if e.Severity != "" {
			return string(e.Severity), true
		}
		return nil, false
	case "hostname":
		return e.Hostname, true
	case "username", "user":
		return e.Username, true
	case "process", "process_name":
		if e.Process != "" {
			return e.Process, true
		}
		if e.Clipboard != nil && e.Clipboard.ProcessName != "" {
			return e.Clipboard.ProcessName, true
		}
		return nil, false
	}

	if e.File != nil {
		switch name {
		case "file_path", "path":
			return e.File.Path, true
		case "file_name", "name":
			return e.File.Name, true
		case "file_extension", "extension":
			return e.File.Extension, true
		case "file_size", "size_bytes":
			return e.File.SizeBytes, true
		case "file_hash", "sha256":
			return e.File.SHA256, true
		case "mime_type":
			return e.File.MIMEType, true
		}
	}
	if e.Transfer != nil {
		switch name {
		case "source_path":
			return e.Transfer.SourcePath, true
		case "destination_path", "destination":
			return e.Transfer.DestinationPath, true
		}
	}
	if e.Clipboard != nil {
		switch name {
		case "clipboard_content", "content":
			return e.Clipboard.ContentPreview, true
		case "content_length":
			return e.Clipboard.ContentLength, true
		case "window_title":
			return e.Clipboard.WindowTitle, true
		}
	}
	if e.USB != nil {
		switch name {
		case "device_id":
			return e.USB.DeviceID, true
		case "vendor_id":
			return e.USB.VendorID, true
		case "product_id":
			return e.USB.ProductID, true
		case "serial_number":
			return e.USB.SerialNumber, true
		case "mount_point":
			return e.USB.MountPoint, true
		case "device_label", "label":
			return e.USB.Label, true
		case "usb_action":
			return e.USB.Action, true
		}
	}
	if e.Classification != nil {
		switch name {
		case "classification_families", "families":
			return e.Classification.Families, true
		case "classification_severity":
			return string(e.Classification.Severity), true
		case "sensitive":
			return e.Classification.Sensitive, true
		}
	}
	return nil, false
}

// PolicyTypeFor maps the event's surface to the policy type that governs it.
func (e *Event) PolicyTypeFor() PolicyType {
	switch e.Type {
	case EventTypeClipboard:
		return PolicyTypeClipboard
	case EventTypeUSBDevice:
		return PolicyTypeUSBDevice
	case EventTypeFileTransfer:
		if e.USB != nil {
			return PolicyTypeUSBTransfer
		}
		return PolicyTypeFileTransfer
	default:
		return PolicyTypeFileSystem
	}
}

// NormalizePath lowercases and forward-slashes a path so dedup keys and
// path comparisons behave the same across platforms.
func NormalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}
