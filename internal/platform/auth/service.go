package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAuthFailed      = errors.New("authentication failed")
	ErrAccountDisabled = errors.New("account disabled")
)

const tokenTTL = 24 * time.Hour

// Service は端末アカウントのログインを担当する。
// アカウントの無効化や棚卸しは運用側（手動SQL）で行うため API は持たない。
type Service struct {
	store  AccountStore
	secret []byte
	clock  func() time.Time
}

func NewService(db *sql.DB, secret []byte) *Service {
	return &Service{
		store:  NewStore(db),
		secret: secret,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

type AuthService interface {
	Login(ctx context.Context, id, password string) (string, error)
}

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", ErrAuthFailed
	}
	if acct.IsDisabled {
		return "", ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}

	now := s.clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  acct.ID,
		"role": acct.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
	})

	return token.SignedString(s.secret)
}

// EnsureAccount は初回起動時の管理者ブートストラップ用。
// 同じIDのアカウントが既にあれば何もしない。
func EnsureAccount(ctx context.Context, db *sql.DB, id, password, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	const q = `
INSERT IGNORE INTO auth_accounts (id, password_hash, role, is_disabled)
VALUES (?, ?, ?, 0)`
	_, err = db.ExecContext(ctx, q, id, hash, role)
	return err
}
