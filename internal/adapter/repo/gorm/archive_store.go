package gormrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"animstream/internal/adapter/repo/gorm/model"
	"animstream/internal/app/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveStore keeps one append-only key space per namespace in archive_entries.
type ArchiveStore struct {
	db        *gorm.DB
	namespace string
	Now       func() time.Time
}

func NewArchiveStore(db *gorm.DB, namespace string) ArchiveStore {
	return ArchiveStore{db: db, namespace: namespace, Now: time.Now}
}

func (a ArchiveStore) Append(ctx context.Context, key string, value []byte) error {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	row := model.ArchiveEntry{
		Namespace: a.namespace,
		EntryKey:  key,
		Value:     value,
		CreatedAt: now().UTC(),
	}
	res := dbFromCtx(ctx, a.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("append %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ports.ErrConflict
	}
	return nil
}

func (a ArchiveStore) Scan(ctx context.Context, prefix string, limit int) ([]ports.ArchiveRecord, error) {
	q := dbFromCtx(ctx, a.db).
		Where("namespace = ? AND entry_key LIKE ? ESCAPE ?", a.namespace, escapeLike(prefix)+"%", `\`).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "entry_key"}, Desc: true})
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.ArchiveEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	out := make([]ports.ArchiveRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, ports.ArchiveRecord{Key: row.EntryKey, Value: row.Value})
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
