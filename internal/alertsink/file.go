package alertsink

import (
	"os"
	"sync"

	"github.com/rtkjbillo/wazuh"
)

// FileSink is the default sink: a named pipe or plain file opened for
// append, matching the "named message queue path opened for writing"
// description in spec.md §6. A real deployment points Path at the
// vendor message-queue's well-known socket path; in tests it is a plain
// file.
type FileSink struct {
	Path string

	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens path for append, creating it if absent.
func NewFileSink(path string) (*FileSink, error) {
	s := &FileSink{Path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o660)
	if err != nil {
		return wazuh.NewError("alertsink.FileSink.open", wazuh.ErrQueueFatal, "opening alert sink", err)
	}
	s.f = f
	return nil
}

// Send writes one framed alert. On write failure it reopens the sink
// exactly once and retries; a second failure is ErrQueueFatal, which
// callers treat as terminal (spec.md §4.7, §7).
func (s *FileSink) Send(a Alert, priority Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := frame(a, priority)
	if err != nil {
		return err
	}

	if _, err := s.f.Write(msg); err != nil {
		s.f.Close()
		if rerr := s.open(); rerr != nil {
			return rerr
		}
		if _, err := s.f.Write(msg); err != nil {
			return wazuh.NewError("alertsink.FileSink.Send", wazuh.ErrQueueFatal, "send failed after reopen", err)
		}
	}
	return nil
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
