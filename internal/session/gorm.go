package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/otaviosnow/clipeiroai-sub000/internal/db/models"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists artifacts in the sessions table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Save upserts the row for key, replacing any earlier artifact.
func (s *GormStore) Save(ctx context.Context, key string, a Artifact) error {
	extras := ""
	if len(a.Extras) > 0 {
		b, err := json.Marshal(a.Extras)
		if err != nil {
			return fmt.Errorf("encode session extras: %w", err)
		}
		extras = string(b)
	}

	row := models.Session{
		AccountKey: key,
		Platform:   string(a.Platform),
		Username:   usernameFromKey(key),
		Extras:     extras,
	}
	if a.Token != nil {
		row.AccessToken = a.Token.AccessToken
		row.RefreshToken = a.Token.RefreshToken
		row.TokenType = a.Token.TokenType
		row.ExpiresAt = a.Token.Expiry
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_key"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	log.Printf("💾 Saved session for %s (expires: %s)", key, row.ExpiresAt.Format("2006-01-02 15:04"))
	return nil
}

func (s *GormStore) Load(ctx context.Context, key string) (Artifact, error) {
	var row models.Session
	err := s.db.WithContext(ctx).Where("account_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("load session %s: %w", key, err)
	}

	a := Artifact{
		AccountKey: row.AccountKey,
		Platform:   platform.Platform(row.Platform),
		CapturedAt: row.UpdatedAt,
	}
	if row.AccessToken != "" || row.RefreshToken != "" {
		a.Token = &oauth2.Token{
			AccessToken:  row.AccessToken,
			RefreshToken: row.RefreshToken,
			TokenType:    row.TokenType,
			Expiry:       row.ExpiresAt,
		}
	}
	if row.Extras != "" {
		if err := json.Unmarshal([]byte(row.Extras), &a.Extras); err != nil {
			return Artifact{}, fmt.Errorf("decode session extras for %s: %w", key, err)
		}
	}
	return a, nil
}

func usernameFromKey(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}
