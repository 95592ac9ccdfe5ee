package repo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/util"

	"github.com/lkjx77/GeoGig/pkg/object"
)

type ReflogEntry struct {
	Ref       string
	OldID     object.ID
	NewID     object.ID
	Timestamp int64
	Reason    string
}

func reflogPath(ref string) string {
	return path.Join("logs", ref)
}

func (s *FSRefStore) appendReflog(ref string, oldID, newID object.ID, reason string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if strings.TrimSpace(reason) == "" {
		reason = "update"
	}
	reason = strings.ReplaceAll(reason, "\n", " ")

	logPath := reflogPath(ref)
	if err := s.fs.MkdirAll(path.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("reflog mkdir: %w", err)
	}

	line := fmt.Sprintf("%s %s %d %s\n", oldID, newID, time.Now().Unix(), reason)

	f, err := s.fs.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(line)); err != nil {
		return fmt.Errorf("reflog write: %w", err)
	}
	return nil
}

// ReadReflog returns the entries of ref, newest first. limit <= 0 returns
// all of them.
func (s *FSRefStore) ReadReflog(ref string, limit int) ([]ReflogEntry, error) {
	data, err := util.ReadFile(s.fs, reflogPath(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	var entries []ReflogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 4)
		if len(parts) < 4 {
			continue
		}
		oldID, err := object.ParseID(parts[0])
		if err != nil {
			continue
		}
		newID, err := object.ParseID(parts[1])
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, ReflogEntry{
			Ref:       ref,
			OldID:     oldID,
			NewID:     newID,
			Timestamp: ts,
			Reason:    parts[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	// Return newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
