package logging

import (
	"context"
	"strings"
	"sync"
)

// Recorder keeps every message it receives. Used by tests.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// Contains reports whether any message contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, msg := range r.Messages() {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func (r *Recorder) Debug(msg string, args ...any) { r.record(msg) }
func (r *Recorder) Info(msg string, args ...any)  { r.record(msg) }
func (r *Recorder) Warn(msg string, args ...any)  { r.record(msg) }
func (r *Recorder) Error(msg string, args ...any) { r.record(msg) }

func (r *Recorder) DebugCtx(ctx context.Context, msg string, args ...any) { r.record(msg) }
func (r *Recorder) InfoCtx(ctx context.Context, msg string, args ...any)  { r.record(msg) }
func (r *Recorder) WarnCtx(ctx context.Context, msg string, args ...any)  { r.record(msg) }
func (r *Recorder) ErrorCtx(ctx context.Context, msg string, args ...any) { r.record(msg) }
