package receiver

import (
	"encoding/json"
	"os"
	"sync"
)

// auditRecord is one line of the receiver audit log. Msg keeps the raw bytes
// as received from the device so a broken parser can be diagnosed later.
type auditRecord struct {
	Ts     int64  `json:"ts"`
	Proto  string `json:"proto"`
	Device string `json:"device"`
	Msg    string `json:"msg"`
	Err    string `json:"err,omitempty"`
}

// AuditLog records every received message before parsing.
type AuditLog interface {
	LogMsg(msg []byte, ts int64, proto, device string)
	LogErr(err error, msg []byte, ts int64, proto, device string)
}

// FileAuditLog appends one JSON record per message to a file.
type FileAuditLog struct {
	mu   sync.Mutex
	name string
}

func NewFileAuditLog(name string) *FileAuditLog {
	return &FileAuditLog{name: name}
}

func (a *FileAuditLog) LogMsg(msg []byte, ts int64, proto, device string) {
	a.write(auditRecord{Ts: ts, Proto: proto, Device: device, Msg: string(msg)})
}

func (a *FileAuditLog) LogErr(
	err error, msg []byte, ts int64, proto, device string,
) {
	a.write(auditRecord{
		Ts: ts, Proto: proto, Device: device,
		Msg: string(msg), Err: err.Error(),
	})
}

func (a *FileAuditLog) write(rec auditRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fd, err := os.OpenFile(a.name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer fd.Close()
	//nolint:errcheck // audit logging is best effort
	fd.Write(append(line, '\r', '\n'))
}

// DumbAuditLog discards everything.
type DumbAuditLog struct{}

func (DumbAuditLog) LogMsg([]byte, int64, string, string)        {}
func (DumbAuditLog) LogErr(error, []byte, int64, string, string) {}
