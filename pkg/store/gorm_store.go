package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"photoyarn/pkg/domain"
)

const migrateLockID int64 = 51730417

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB named by dsn and runs auto-migrations.
// "sqlite://<path>" (or a path ending in .db) selects SQLite, anything else
// is handed to the Postgres driver.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	dialector, isPostgres := openDialector(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&StoryModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) (gorm.Dialector, bool) {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "sqlite://"):
		return sqlite.Open(dsn[len("sqlite://"):]), false
	case strings.HasPrefix(lower, "file:"), strings.HasSuffix(lower, ".db"), lower == ":memory:":
		return sqlite.Open(dsn), false
	default:
		return postgres.Open(dsn), true
	}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveStory inserts a story record. Records are never updated in place.
func (s *GormStore) SaveStory(ctx context.Context, story domain.StoryArtifact) error {
	model, err := storyToModel(story)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetStory returns a story by ID.
func (s *GormStore) GetStory(ctx context.Context, id string) (domain.StoryArtifact, bool, error) {
	var model StoryModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.StoryArtifact{}, false, nil
		}
		return domain.StoryArtifact{}, false, err
	}
	story, err := storyFromModel(model)
	if err != nil {
		return domain.StoryArtifact{}, false, err
	}
	return story, true, nil
}

// DeleteStory removes a story record; missing rows are ignored.
func (s *GormStore) DeleteStory(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&StoryModel{}).Error
}

// ListStories returns id and creation time of every stored story, oldest first.
func (s *GormStore) ListStories(ctx context.Context) ([]StoryRef, error) {
	var models []StoryModel
	if err := s.db.WithContext(ctx).Select("id", "created_at").Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	refs := make([]StoryRef, 0, len(models))
	for _, m := range models {
		refs = append(refs, StoryRef{ID: m.ID, CreatedAt: m.CreatedAt})
	}
	return refs, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func storyToModel(story domain.StoryArtifact) (StoryModel, error) {
	slides := story.Slides
	if slides == nil {
		slides = []domain.Slide{}
	}
	raw, err := json.Marshal(slides)
	if err != nil {
		return StoryModel{}, fmt.Errorf("encode slides: %w", err)
	}
	return StoryModel{
		ID:        story.ID,
		Story:     story.Story,
		Slides:    raw,
		CreatedAt: story.CreatedAt,
	}, nil
}

func storyFromModel(m StoryModel) (domain.StoryArtifact, error) {
	var slides []domain.Slide
	if len(m.Slides) > 0 {
		if err := json.Unmarshal(m.Slides, &slides); err != nil {
			return domain.StoryArtifact{}, fmt.Errorf("decode slides: %w", err)
		}
	}
	return domain.StoryArtifact{
		ID:        m.ID,
		CreatedAt: m.CreatedAt.UTC(),
		Slides:    slides,
		Story:     m.Story,
	}, nil
}
