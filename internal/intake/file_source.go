package intake

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"signal_trader/internal/core"
)

// FileSource reads signals from a JSONL file, one signal object per line
// with a "ts" unix timestamp. The feed marker is the line number, so the
// adapter resumes where it left off across restarts.
type FileSource struct {
	path string
}

// NewFileSource creates a source over path. A missing file is an empty feed.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type fileLine struct {
	Ts int64 `json:"ts"`
	core.Signal
}

func (f *FileSource) Poll(ctx context.Context, afterID string) ([]Message, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open signal file: %w", err)
	}
	defer file.Close()

	after := 0
	if afterID != "" {
		if n, err := strconv.Atoi(afterID); err == nil {
			after = n
		}
	}

	var messages []Message
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= after {
			continue
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line fileLine
		if err := json.Unmarshal(raw, &line); err != nil {
			// A malformed line is skipped but still advances the marker.
			messages = append(messages, Message{ID: strconv.Itoa(lineNo), Ts: time.Unix(0, 0)})
			continue
		}

		sig := line.Signal
		if sig.Fingerprint == "" {
			sum := sha256.Sum256(raw)
			sig.Fingerprint = hex.EncodeToString(sum[:])
		}

		messages = append(messages, Message{
			ID:     strconv.Itoa(lineNo),
			Ts:     time.Unix(line.Ts, 0),
			Signal: sig,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read signal file: %w", err)
	}
	return messages, nil
}
