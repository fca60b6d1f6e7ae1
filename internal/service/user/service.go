package user

import (
	"context"
	"errors"

	"koi-service/internal/model"
	"koi-service/pkg/auth"
	appErr "koi-service/pkg/errors"
	"koi-service/pkg/utils/random"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service issues guest identities. There are no credentialed accounts: a
// guest gets a uuid, a nickname and a signed token, and plays until the
// token expires.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

type GuestSession struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Token    string `json:"token"`
}

func (s *Service) CreateGuest(ctx context.Context, nickname string) (*GuestSession, error) {
	if nickname == "" {
		nickname = "guest-" + random.Code(6)
	}
	u := model.User{
		ID:       uuid.NewString(),
		Nickname: nickname,
		Status:   "normal",
	}
	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
			return nil, err
		}
	}
	token, err := auth.GenerateToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &GuestSession{UserID: u.ID, Nickname: u.Nickname, Token: token}, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	if s.db == nil {
		return nil, appErr.ErrUserNotFound
	}
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
