package store

import (
	"context"
	"encoding/json"
	"errors"

	"koi-service/internal/model"
	appErr "koi-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Archiver is the durable storage port. Persistence is best-effort: the
// in-memory store stays authoritative for live play, records back
// reconnection-after-restart and audit.
type Archiver interface {
	Save(ctx context.Context, sess *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindWaiting(ctx context.Context, roomType string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	LogRound(ctx context.Context, entry *model.SessionRoundLog) error
}

type GormArchiver struct {
	db *gorm.DB
}

var _ Archiver = (*GormArchiver)(nil)

func NewGormArchiver(db *gorm.DB) *GormArchiver {
	return &GormArchiver{db: db}
}

func (a *GormArchiver) Save(ctx context.Context, sess *model.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	playerIDs := make([]string, 0, len(sess.Participants))
	for _, p := range sess.Participants {
		playerIDs = append(playerIDs, p.ID)
	}
	players, _ := json.Marshal(playerIDs)
	scores, _ := json.Marshal(sess.Scores)

	record := model.GameSessionRecord{
		ID:           sess.ID,
		Status:       string(sess.Status),
		RoomType:     sess.RoomType,
		PlayersJSON:  datatypes.JSON(players),
		ScoresJSON:   datatypes.JSON(scores),
		StateJSON:    datatypes.JSON(state),
		TotalRounds:  sess.TotalRounds,
		RoundsPlayed: sess.RoundsPlayed,
		CreatedAt:    sess.CreatedAt,
	}
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
}

func (a *GormArchiver) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var record model.GameSessionRecord
	if err := a.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrSessionNotFound
		}
		return nil, err
	}
	return decodeState(record)
}

func (a *GormArchiver) FindWaiting(ctx context.Context, roomType string) (*model.Session, error) {
	var record model.GameSessionRecord
	err := a.db.WithContext(ctx).
		Where("status = ? AND room_type = ?", string(model.StatusWaiting), roomType).
		Order("created_at asc").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrSessionNotFound
		}
		return nil, err
	}
	return decodeState(record)
}

func (a *GormArchiver) Delete(ctx context.Context, id string) error {
	return a.db.WithContext(ctx).Delete(&model.GameSessionRecord{}, "id = ?", id).Error
}

func (a *GormArchiver) LogRound(ctx context.Context, entry *model.SessionRoundLog) error {
	return a.db.WithContext(ctx).Create(entry).Error
}

func decodeState(record model.GameSessionRecord) (*model.Session, error) {
	var sess model.Session
	if err := json.Unmarshal(record.StateJSON, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
