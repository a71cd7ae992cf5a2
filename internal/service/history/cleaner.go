package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"robomind/internal/models"
)

const (
	DefaultTempAudioTTL             = time.Hour
	DefaultTempAudioCleanupInterval = 15 * time.Minute
)

// CreateTempAudio records an uploaded voice clip kept on disk until it
// expires.
func (s *Service) CreateTempAudio(ctx context.Context, rec models.TempAudio) (*models.TempAudio, error) {
	if rec.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(DefaultTempAudioTTL)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO temp_audio (conversation_id, file_name, stored_path, mime_type, size, language_hint, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConversationID, rec.FileName, rec.StoredPath, rec.MimeType, rec.Size, rec.LanguageHint, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert temp audio: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("temp audio id: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

// DeleteTempAudio removes a clip from disk and from the table.
func (s *Service) DeleteTempAudio(ctx context.Context, id int64) error {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT stored_path FROM temp_audio WHERE id = ?`, id).Scan(&path)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("get temp audio: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp audio file: %w", err)
	}
	_ = os.Remove(filepath.Dir(path))
	if _, err := s.db.ExecContext(ctx, `DELETE FROM temp_audio WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete temp audio record: %w", err)
	}
	return nil
}

// StartTempAudioCleaner runs periodic cleanup of expired clips until the
// context is canceled.
func (s *Service) StartTempAudioCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTempAudioCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpiredAudio(); err != nil {
				log.Printf("cleanup temp audio error: %v", err)
			}
		}
	}
}

func (s *Service) cleanupExpiredAudio() error {
	rows, err := s.db.Query(`
		SELECT id, stored_path FROM temp_audio
		WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return err
	}
	defer rows.Close()

	type audioRow struct {
		id   int64
		path string
	}
	var files []audioRow
	for rows.Next() {
		var fr audioRow
		if err := rows.Scan(&fr.id, &fr.path); err != nil {
			return err
		}
		files = append(files, fr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove temp audio %s failed: %v", f.path, err)
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM temp_audio WHERE id = ?`, f.id); err != nil {
			log.Printf("delete temp audio record %d failed: %v", f.id, err)
		}

		// prune empty directories
		_ = os.Remove(filepath.Dir(f.path))
	}
	return nil
}
