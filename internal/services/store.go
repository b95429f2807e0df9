package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"phantomrecorder/backend/internal/models"
)

// Store persists recording sessions and their steps.
type Store interface {
	CreateSession(ctx context.Context, s *models.RecordingSession) error
	AppendStep(ctx context.Context, step *models.RecordedStep) error
	FinishSession(ctx context.Context, sessionID, script string, stoppedAt time.Time) error
	// AbandonSession marks a session that never got a browser.
	AbandonSession(ctx context.Context, sessionID string) error
	// AbandonUnfinished marks sessions left in the recording state by an
	// earlier process as abandoned.
	AbandonUnfinished(ctx context.Context) (int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) CreateSession(ctx context.Context, s *models.RecordingSession) error {
	if err := g.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("creating session %s: %w", s.SessionID, err)
	}
	return nil
}

func (g *GormStore) AppendStep(ctx context.Context, step *models.RecordedStep) error {
	if err := g.db.WithContext(ctx).Create(step).Error; err != nil {
		return fmt.Errorf("saving step %d of %s: %w", step.Seq, step.SessionID, err)
	}
	return nil
}

func (g *GormStore) FinishSession(ctx context.Context, sessionID, script string, stoppedAt time.Time) error {
	err := g.db.WithContext(ctx).Model(&models.RecordingSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":     models.SessionStopped,
			"script":     script,
			"stopped_at": stoppedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("finishing session %s: %w", sessionID, err)
	}
	return nil
}

func (g *GormStore) AbandonSession(ctx context.Context, sessionID string) error {
	err := g.db.WithContext(ctx).Model(&models.RecordingSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":     models.SessionAbandoned,
			"stopped_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("abandoning session %s: %w", sessionID, err)
	}
	return nil
}

func (g *GormStore) AbandonUnfinished(ctx context.Context) (int64, error) {
	res := g.db.WithContext(ctx).Model(&models.RecordingSession{}).
		Where("status = ?", models.SessionRecording).
		Updates(map[string]interface{}{
			"status":     models.SessionAbandoned,
			"stopped_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("abandoning unfinished sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
