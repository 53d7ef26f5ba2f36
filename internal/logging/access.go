package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AccessRecord describes one completed reply.
type AccessRecord struct {
	RemoteIP  string
	Method    string
	URI       string
	Protocol  string
	Status    int
	BytesSent int64
	Duration  time.Duration
}

// AccessLog writes one line per completed reply. A nil *AccessLog is a
// valid, disabled log.
type AccessLog struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	closer io.Closer
}

// OpenAccessLog opens the access log destination: "" or "-" is stdout,
// "none" disables access logging, anything else is a file opened for
// appending.
func OpenAccessLog(dest string) (*AccessLog, error) {
	switch dest {
	case "none":
		return nil, nil
	case "", "-":
		return NewAccessLog(os.Stdout), nil
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}
	a := NewAccessLog(f)
	a.closer = f
	return a, nil
}

func NewAccessLog(w io.Writer) *AccessLog {
	return &AccessLog{zl: zerolog.New(w).With().Timestamp().Logger()}
}

func (a *AccessLog) Log(rec AccessRecord) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.zl.Log().
		Str("remote", rec.RemoteIP).
		Str("method", rec.Method).
		Str("uri", sanitizeValue(rec.URI)).
		Str("proto", rec.Protocol).
		Int("status", rec.Status).
		Int64("bytes", rec.BytesSent).
		Dur("duration", rec.Duration).
		Send()
}

func (a *AccessLog) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
