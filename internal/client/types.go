package client

import "time"

// verifyRequest — тело запроса проверки допуска.
type verifyRequest struct {
	Email string `json:"email"`
}

// verifyResponse — ответ эндпоинта проверки допуска.
type verifyResponse struct {
	Allowed bool   `json:"allowed"`
	Error   string `json:"error"`
}

// hintRequest — тело запроса подсказки.
type hintRequest struct {
	QID      string `json:"qid"`
	Question string `json:"question"`
	Context  string `json:"context"`
}

// hintResponse — ответ эндпоинта подсказок.
type hintResponse struct {
	Hint string `json:"hint"`
}

// saveResponse — ответ эндпоинта сохранения попытки.
// Балл приходит только при завершении попытки.
type saveResponse struct {
	Score *float64 `json:"score"`
}

// credentialsRequest — тело запросов входа и регистрации.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// AuthUser представляет пользователя платформы из ответа входа.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// authResponse — ответ эндпоинтов входа и регистрации.
type authResponse struct {
	Token string   `json:"token"`
	User  AuthUser `json:"user"`
	Error string   `json:"error"`
}

// Таймауты
const (
	timeoutFetch = 10 * time.Second
	timeoutSend  = 3 * time.Second
)
