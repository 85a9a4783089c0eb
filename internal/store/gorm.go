package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/promptgate/promptgate/internal/chat"
	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// sessionRecord is the durable row for a session.
type sessionRecord struct {
	SessionKey  string `gorm:"primaryKey;column:session_key"`
	Title       string
	LastUpdated time.Time
	CreatedAt   time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

// turnRecord is the durable row for a single turn. Content holds the
// JSON-encoded tagged union so block structure survives a round trip.
type turnRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionKey string `gorm:"index"`
	Role       string
	Content    []byte
	ProviderID string
	CreatedAt  time.Time
}

func (turnRecord) TableName() string { return "turns" }

// Open connects to the durable engine and migrates the schema.
// Supported drivers: "sqlite" and "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, apperrors.New(apperrors.ErrCodeConfig, fmt.Sprintf("unsupported database driver %q", driver), nil)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to open database", err)
	}

	if err := db.AutoMigrate(&sessionRecord{}, &turnRecord{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to migrate schema", err)
	}
	return db, nil
}

// Gorm is the durable session store.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open database handle.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

var _ Store = (*Gorm)(nil)

func (g *Gorm) GetOrCreate(ctx context.Context, sessionKey string) (*Session, error) {
	if sessionKey == "" {
		sessionKey = NewSessionKey()
	}

	var sess *Session
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := g.getOrCreateTx(tx, sessionKey)
		if err != nil {
			return err
		}
		sess, err = g.loadTx(tx, rec)
		return err
	})
	if err != nil {
		return nil, storageErr("failed to resolve session", err)
	}
	return sess, nil
}

func (g *Gorm) AppendTurn(ctx context.Context, sessionKey string, turn chat.Turn) (*Session, error) {
	content, err := json.Marshal(turn.Content)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "failed to encode turn content", err)
	}

	var sess *Session
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := g.getOrCreateTx(tx, sessionKey)
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&turnRecord{}).Where("session_key = ?", sessionKey).Count(&existing).Error; err != nil {
			return err
		}

		if shouldDeriveTitle(rec.Title, int(existing), turn) {
			rec.Title = deriveTitle(turn.Content.PlainText())
		}
		rec.LastUpdated = time.Now()
		if err := tx.Save(rec).Error; err != nil {
			return err
		}

		row := turnRecord{
			SessionKey: sessionKey,
			Role:       string(turn.Role),
			Content:    content,
			ProviderID: turn.ProviderID,
			CreatedAt:  turn.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		sess, err = g.loadTx(tx, rec)
		return err
	})
	if err != nil {
		return nil, storageErr("failed to append turn", err)
	}
	return sess, nil
}

func (g *Gorm) SetTitle(ctx context.Context, sessionKey, title string) (*Session, error) {
	if title == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "title cannot be empty", nil)
	}

	var sess *Session
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := g.findTx(tx, sessionKey)
		if err != nil {
			return err
		}
		rec.Title = title
		rec.LastUpdated = time.Now()
		if err := tx.Save(rec).Error; err != nil {
			return err
		}
		sess, err = g.loadTx(tx, rec)
		return err
	})
	if err != nil {
		return nil, storageErr("failed to update title", err)
	}
	return sess, nil
}

func (g *Gorm) ClearTurns(ctx context.Context, sessionKey string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := g.findTx(tx, sessionKey)
		if err != nil {
			return err
		}
		if err := tx.Where("session_key = ?", sessionKey).Delete(&turnRecord{}).Error; err != nil {
			return err
		}
		rec.LastUpdated = time.Now()
		return tx.Save(rec).Error
	})
	return storageErr("failed to clear turns", err)
}

func (g *Gorm) Delete(ctx context.Context, sessionKey string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := g.findTx(tx, sessionKey); err != nil {
			return err
		}
		if err := tx.Where("session_key = ?", sessionKey).Delete(&turnRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("session_key = ?", sessionKey).Delete(&sessionRecord{}).Error
	})
	return storageErr("failed to delete session", err)
}

func (g *Gorm) ListSummaries(ctx context.Context) ([]Summary, error) {
	var recs []sessionRecord
	if err := g.db.WithContext(ctx).Order("last_updated desc").Find(&recs).Error; err != nil {
		return nil, storageErr("failed to list sessions", err)
	}

	summaries := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		var count int64
		if err := g.db.WithContext(ctx).Model(&turnRecord{}).Where("session_key = ?", rec.SessionKey).Count(&count).Error; err != nil {
			return nil, storageErr("failed to count turns", err)
		}
		summaries = append(summaries, Summary{
			SessionKey:  rec.SessionKey,
			Title:       rec.Title,
			LastUpdated: rec.LastUpdated,
			TurnCount:   int(count),
		})
	}
	return summaries, nil
}

func (g *Gorm) getOrCreateTx(tx *gorm.DB, sessionKey string) (*sessionRecord, error) {
	var rec sessionRecord
	err := tx.First(&rec, "session_key = ?", sessionKey).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	rec = sessionRecord{
		SessionKey:  sessionKey,
		Title:       PlaceholderTitle(),
		LastUpdated: time.Now(),
	}
	if err := tx.Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (g *Gorm) findTx(tx *gorm.DB, sessionKey string) (*sessionRecord, error) {
	var rec sessionRecord
	err := tx.First(&rec, "session_key = ?", sessionKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (g *Gorm) loadTx(tx *gorm.DB, rec *sessionRecord) (*Session, error) {
	var rows []turnRecord
	if err := tx.Where("session_key = ?", rec.SessionKey).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	turns := make([]chat.Turn, 0, len(rows))
	for _, row := range rows {
		var content chat.Content
		if err := json.Unmarshal(row.Content, &content); err != nil {
			return nil, err
		}
		turns = append(turns, chat.Turn{
			Role:       chat.Role(row.Role),
			Content:    content,
			ProviderID: row.ProviderID,
			CreatedAt:  row.CreatedAt,
		})
	}
	return &Session{
		SessionKey:  rec.SessionKey,
		Title:       rec.Title,
		Turns:       turns,
		LastUpdated: rec.LastUpdated,
	}, nil
}

// storageErr tags infrastructure failures with the storage code so the
// Fallback wrapper can distinguish them from NotFound/Validation, which
// pass through unchanged.
func storageErr(message string, err error) error {
	if err == nil {
		return nil
	}
	code := apperrors.CodeOf(err)
	if code == apperrors.ErrCodeNotFound || code == apperrors.ErrCodeValidation {
		return err
	}
	return apperrors.New(apperrors.ErrCodeStorage, message, err)
}
