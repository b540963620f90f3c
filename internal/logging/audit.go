package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType names a remote mutation.
type AuditEventType string

const (
	AuditAssetExport  AuditEventType = "asset_export"
	AuditAssetImport  AuditEventType = "asset_import"
	AuditAssetMove    AuditEventType = "asset_move"
	AuditAssetDelete  AuditEventType = "asset_delete"
	AuditFolderCreate AuditEventType = "folder_create"
	AuditTaskFinished AuditEventType = "task_finished"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Timestamp   int64          `json:"ts"` // Unix milliseconds
	EventType   AuditEventType `json:"event"`
	Target      string         `json:"target"`
	Destination string         `json:"destination,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	State       string         `json:"state,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// AuditLogger appends asset and task mutations to <logs>/<date>_audit.log.
// Every method is a no-op unless debug mode is on.
type AuditLogger struct{}

// InitAudit opens the audit log in the logs directory.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}
	loggersMu.RLock()
	dir := logsDir
	loggersMu.RUnlock()
	if dir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_audit.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the audit logger.
func Audit() AuditLogger { return AuditLogger{} }

// Log writes one event as a JSON line.
func (AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = auditFile.Write(append(data, '\n'))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// AssetExport records an export request.
func (a AuditLogger) AssetExport(assetID, operation string, err error) {
	a.Log(AuditEvent{EventType: AuditAssetExport, Target: assetID, Operation: operation,
		Success: err == nil, Error: errString(err)})
}

// AssetImport records a Cloud Storage import request.
func (a AuditLogger) AssetImport(assetID, operation string, err error) {
	a.Log(AuditEvent{EventType: AuditAssetImport, Target: assetID, Operation: operation,
		Success: err == nil, Error: errString(err)})
}

// AssetMove records a move.
func (a AuditLogger) AssetMove(from, to string, err error) {
	a.Log(AuditEvent{EventType: AuditAssetMove, Target: from, Destination: to,
		Success: err == nil, Error: errString(err)})
}

// AssetDelete records a deletion.
func (a AuditLogger) AssetDelete(assetID string, err error) {
	a.Log(AuditEvent{EventType: AuditAssetDelete, Target: assetID,
		Success: err == nil, Error: errString(err)})
}

// FolderCreate records a folder creation.
func (a AuditLogger) FolderCreate(folder string, err error) {
	a.Log(AuditEvent{EventType: AuditFolderCreate, Target: folder,
		Success: err == nil, Error: errString(err)})
}

// TaskFinished records the terminal state of an operation.
func (a AuditLogger) TaskFinished(operation, assetID, state, errMsg string, succeeded bool) {
	a.Log(AuditEvent{EventType: AuditTaskFinished, Target: assetID, Operation: operation,
		State: state, Success: succeeded, Error: errMsg})
}
