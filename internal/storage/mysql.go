package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/engine"
	"bedtime-stories/server/internal/models"
)

// ErrStoryNotFound is returned when an archived story does not exist.
var ErrStoryNotFound = errors.New("archived story not found")

// MySQLStore archives finished stories.
type MySQLStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewMySQLStore connects to MySQL and migrates the archive tables.
func NewMySQLStore(cfg config.MySQLConfig, log *zap.Logger) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	store, err := OpenArchive(mysql.Open(dsn), log)
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return store, nil
}

// OpenArchive opens the archive on any gorm dialector and migrates it.
func OpenArchive(dialector gorm.Dialector, log *zap.Logger) (*MySQLStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&models.Story{}, &models.StorySegment{}, &models.StoryDecision{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &MySQLStore{db: db, log: log}, nil
}

// Close closes the connection pool.
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB exposes the underlying handle.
func (s *MySQLStore) GetDB() *gorm.DB {
	return s.db
}

// WithTx runs fn in a transaction.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(*gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// ArchiveStory writes the snapshot, replacing an earlier archive of the
// same session.
func (s *MySQLStore) ArchiveStory(ctx context.Context, snap *engine.Snapshot) error {
	story := toArchive(snap)

	err := s.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("story_id = ?", story.ID).Delete(&models.StorySegment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("story_id = ?", story.ID).Delete(&models.StoryDecision{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("id = ?", story.ID).Delete(&models.Story{}).Error; err != nil {
			return err
		}
		return tx.Create(story).Error
	})
	if err != nil {
		return fmt.Errorf("archive story %s: %w", snap.ID, err)
	}

	s.log.Info("Story archived",
		zap.String("session_id", story.ID),
		zap.String("outcome", story.Outcome),
		zap.Int("segments", len(story.Segments)))
	return nil
}

// GetStory loads an archived story with its segments and decisions.
func (s *MySQLStore) GetStory(ctx context.Context, id string) (*models.Story, error) {
	var story models.Story
	err := s.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Decisions", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&story, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &story, nil
}

// ListStories returns the most recent archived stories of a user without
// their segments.
func (s *MySQLStore) ListStories(ctx context.Context, userID string, limit int) ([]models.Story, error) {
	if limit <= 0 {
		limit = 20
	}
	var stories []models.Story
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Limit(limit).
		Find(&stories).Error
	return stories, err
}

func toArchive(snap *engine.Snapshot) *models.Story {
	outcome := "complete"
	if snap.Story.Aborted {
		outcome = "aborted"
	}
	req := snap.Request
	story := &models.Story{
		ID:                  snap.ID,
		UserID:              req.UserID,
		Kind:                snap.Kind,
		Outcome:             outcome,
		Name:                req.Name,
		Place:               req.Place,
		Tone:                req.Tone,
		Moral:               req.Moral,
		TargetAge:           req.TargetAge,
		TargetLengthMinutes: req.TargetLengthMinutes,
		CumulativeMinutes:   snap.Story.CumulativeMinutes,
		TotalTokens:         snap.Story.TotalTokens,
		CreatedAt:           snap.CreatedAt,
		UpdatedAt:           snap.UpdatedAt,
	}
	if req.IsContinuation {
		story.ContinuedFrom = req.StoryChoice
	}
	for i, seg := range snap.Story.Segments {
		story.Segments = append(story.Segments, models.StorySegment{
			StoryID:          snap.ID,
			Position:         i,
			Text:             seg.Text,
			IllustrationCues: seg.IllustrationCues,
			Choices:          seg.Choices,
			Final:            seg.Final,
		})
	}
	for i, choice := range snap.Decisions {
		story.Decisions = append(story.Decisions, models.StoryDecision{
			StoryID:  snap.ID,
			Position: i,
			Choice:   choice,
		})
	}
	return story
}

var _ engine.Archiver = (*MySQLStore)(nil)
