package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"animstream/internal/adapter/repo/gorm/model"
	"animstream/internal/app/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StateRepo struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewStateRepo(db *gorm.DB) StateRepo {
	return StateRepo{db: db, Now: time.Now}
}

func (r StateRepo) Load(ctx context.Context, sessionID, key string) ([]byte, error) {
	var row model.SessionState
	err := dbFromCtx(ctx, r.db).
		Where("session_id = ? AND state_key = ?", sessionID, key).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("load %s/%s: %w", sessionID, key, err)
	}
	return row.Value, nil
}

func (r StateRepo) Save(ctx context.Context, sessionID, key string, value []byte) error {
	row := model.SessionState{
		SessionID: sessionID,
		StateKey:  key,
		Value:     value,
		UpdatedAt: r.now(),
	}
	err := dbFromCtx(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", sessionID, key, err)
	}
	return nil
}

func (r StateRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}
