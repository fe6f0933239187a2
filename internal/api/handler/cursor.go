package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/applyflow/internal/storage"
)

// DecodeJobCursor parses a cursor produced by EncodeJobCursor.
// An empty string means the first page.
func DecodeJobCursor(cursorStr string) (*storage.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	ts, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}

	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid job id in cursor: %w", err)
	}

	return &storage.JobCursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		JobID:     id,
	}, nil
}

func EncodeJobCursor(cursor *storage.JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
