package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Session — сохранённая на диске личность пользователя,
// аналог local storage браузера.
type Session struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
}

// New создаёт сессию по токену. Почта и роль заполняются из открытых
// полей токена, идентификатор сессии генерируется заново.
func New(token string) *Session {
	s := &Session{
		Token:     token,
		SessionID: uuid.NewString(),
	}

	if claims, ok := DecodeClaims(token); ok {
		s.Email = claims.Email
		s.UserID = claims.Subject
		s.Role = claims.Role
	}

	return s
}

// Claims — открытые поля токена для подстановки в интерфейс.
type Claims struct {
	Subject string
	Email   string
	Role    string
}

// DecodeClaims разбирает токен без проверки подписи.
// Подпись здесь не проверяется намеренно: поля используются только как
// подсказки интерфейсу (подстановка почты, текст по роли), авторитетная
// проверка остаётся на сервере. Нечитаемый токен даёт (nil, false).
func DecodeClaims(token string) (*Claims, bool) {
	mapClaims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, mapClaims); err != nil {
		return nil, false
	}

	claims := &Claims{}

	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}

	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = role
	}

	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	} else {
		claims.Subject = claims.Email
	}

	if claims.Email == "" {
		return nil, false
	}

	return claims, true
}

// Store — файловое хранилище сессии.
type Store struct {
	path string
}

// NewStore создаёт хранилище сессии по пути path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load читает сессию с диска.
// Возвращает nil без ошибки, если файла ещё нет.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read session file %s: %w", s.path, err)
	}

	sess := &Session{}
	if err = json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", s.path, err)
	}

	return sess, nil
}

// Save записывает сессию на диск. Файл доступен только владельцу.
func (s *Store) Save(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	if err = os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", s.path, err)
	}

	return nil
}
