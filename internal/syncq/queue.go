package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Command is a write that could not reach the API. It is replayed with its
// original idempotency key so the server applies it at most once.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Description    string         `json:"description,omitempty"`
}

type Failure struct {
	Command Command
	Err     error
}

type ReplayResult struct {
	Replayed  int
	Duplicate int
	Failed    []Failure
	Remaining int
}

// Queue is a JSON file of pending commands.
type Queue struct {
	mu   sync.Mutex
	path string
}

func New(dir string) *Queue {
	return &Queue{path: filepath.Join(dir, "queue.json")}
}

func (q *Queue) Path() string { return q.path }

func (q *Queue) Load() ([]Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked()
}

func (q *Queue) loadLocked() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saveLocked(commands)
}

func (q *Queue) saveLocked(commands []Command) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

func (q *Queue) Push(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.loadLocked()
	if err != nil {
		return err
	}
	return q.saveLocked(append(commands, cmd))
}

// Replay sends queued commands in order. A retryable error stops the replay
// and keeps that command and everything after it. Commands the server
// already applied count as Duplicate; other rejections are dropped and
// reported in Failed.
func (q *Queue) Replay(ctx context.Context, send func(context.Context, Command) error, retryable, duplicate func(error) bool) (ReplayResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.loadLocked()
	if err != nil {
		return ReplayResult{}, err
	}
	var res ReplayResult
	i := 0
	for ; i < len(commands); i++ {
		if ctx.Err() != nil {
			break
		}
		err := send(ctx, commands[i])
		switch {
		case err == nil:
			res.Replayed++
		case duplicate(err):
			res.Duplicate++
		case retryable(err):
			res.Failed = append(res.Failed, Failure{Command: commands[i], Err: err})
			res.Remaining = len(commands) - i
			return res, q.saveLocked(commands[i:])
		default:
			res.Failed = append(res.Failed, Failure{Command: commands[i], Err: err})
		}
	}
	res.Remaining = len(commands) - i
	return res, q.saveLocked(commands[i:])
}
