package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/database"
)

// GormDirectory keeps rooms and participants in a SQL database.
type GormDirectory struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGorm(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db, now: time.Now}
}

func (d *GormDirectory) Migrate(ctx context.Context) error {
	return d.db.WithContext(ctx).AutoMigrate(&Room{}, &Participant{})
}

func (d *GormDirectory) ResolveRoom(ctx context.Context, code string) (Room, error) {
	var room Room
	err := d.db.WithContext(ctx).Where("code = ?", NormalizeCode(code)).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}
	if room.Expired(d.now()) {
		return room, ErrRoomExpired
	}
	return room, nil
}

func (d *GormDirectory) ListActiveParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	var out []Participant
	err := d.db.WithContext(ctx).
		Where("room_id = ? AND (status = ? OR is_host = ?)", roomID, StatusActive, true).
		Order("display_name, id").
		Find(&out).Error
	return out, err
}

func (d *GormDirectory) GetParticipant(ctx context.Context, roomID, participantID string) (Participant, error) {
	var p Participant
	err := d.db.WithContext(ctx).Where("room_id = ? AND id = ?", roomID, participantID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Participant{}, ErrParticipantNotFound
	}
	return p, err
}

func (d *GormDirectory) Touch(ctx context.Context, roomID, participantID string) error {
	res := d.db.WithContext(ctx).Model(&Participant{}).
		Where("room_id = ? AND id = ?", roomID, participantID).
		Update("last_seen", d.now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (d *GormDirectory) CreateRoom(ctx context.Context, code string, ttl time.Duration) (Room, error) {
	room := Room{
		ID:        uuid.NewString(),
		Code:      NormalizeCode(code),
		CreatedAt: d.now(),
		TTL:       ttl,
	}
	if err := d.db.WithContext(ctx).Create(&room).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return Room{}, ErrDuplicateCode
		}
		return Room{}, err
	}
	return room, nil
}

func (d *GormDirectory) AddParticipant(ctx context.Context, roomID, name string, host bool) (Participant, error) {
	p, err := newParticipant(uuid.NewString(), roomID, name, host, d.now())
	if err != nil {
		return Participant{}, err
	}
	if err := d.db.WithContext(ctx).Create(&p).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return Participant{}, ErrDuplicateName
		}
		return Participant{}, err
	}
	return p, nil
}

func (d *GormDirectory) SetStatus(ctx context.Context, roomID, participantID string, status Status) (Participant, error) {
	if !status.Valid() {
		return Participant{}, ErrInvalidStatus
	}
	res := d.db.WithContext(ctx).Model(&Participant{}).
		Where("room_id = ? AND id = ?", roomID, participantID).
		Update("status", status)
	if res.Error != nil {
		return Participant{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Participant{}, ErrParticipantNotFound
	}
	return d.GetParticipant(ctx, roomID, participantID)
}

func (d *GormDirectory) ListExpired(ctx context.Context, now time.Time) ([]Room, error) {
	var rooms []Room
	if err := d.db.WithContext(ctx).Where("ttl > 0").Find(&rooms).Error; err != nil {
		return nil, err
	}
	expired := rooms[:0]
	for _, r := range rooms {
		if r.Expired(now) {
			expired = append(expired, r)
		}
	}
	return expired, nil
}

func (d *GormDirectory) DeleteRoom(ctx context.Context, roomID string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&Participant{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", roomID).Delete(&Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
}
