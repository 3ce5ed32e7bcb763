package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type roomState struct {
	RoomID    string `gorm:"primaryKey;size:36"`
	Doc       []byte `gorm:"not null"`
	Version   int64  `gorm:"not null"`
	UpdatedAt time.Time
}

func (roomState) TableName() string { return "room_states" }

// Gorm stores documents in the room_states table.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (g *Gorm) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&roomState{})
}

func (g *Gorm) LoadState(ctx context.Context, roomID string) (*Record, error) {
	var row roomState
	err := g.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Record{Doc: row.Doc, Version: row.Version, UpdatedAt: row.UpdatedAt}, nil
}

// SaveState upserts the row, but the update branch only fires while the
// stored version is smaller. Zero affected rows means someone got there first.
func (g *Gorm) SaveState(ctx context.Context, roomID string, doc []byte, version int64) error {
	row := roomState{RoomID: roomID, Doc: doc, Version: version, UpdatedAt: time.Now()}
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc", "version", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "room_states.version < excluded.version"},
		}},
	}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (g *Gorm) DeleteState(ctx context.Context, roomID string) error {
	return g.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&roomState{}).Error
}
