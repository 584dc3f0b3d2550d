package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/letsssgooo/quizTaker/internal/attempt"
)

// HTTPClient реализует attempt.Backend через REST API платформы.
type HTTPClient struct {
	baseURL    string
	token      string
	sessionID  string
	httpClient *http.Client
}

// NewHTTPClient создаёт клиента API платформы по базовому URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// SetSession прикрепляет к запросам токен и идентификатор сессии клиента.
// Токен уходит в Authorization, идентификатор — в X-Session-ID, чтобы
// сервер мог атрибутировать параллельные автосохранения одной сессии.
func (c *HTTPClient) SetSession(token, sessionID string) {
	c.token = token
	c.sessionID = sessionID
}

// GetQuiz возвращает содержимое квиза.
// Почта передаётся параметром запроса, если она известна.
func (c *HTTPClient) GetQuiz(ctx context.Context, quizID, email string) (*attempt.Quiz, error) {
	query := url.Values{}
	if email != "" {
		query.Set("email", email)
	}

	ctx, cancelFunc := context.WithTimeout(ctx, timeoutFetch)
	defer cancelFunc()

	rawResp, err := c.doGet(ctx, "/api/quizzes/"+url.PathEscape(quizID), query)
	if err != nil {
		return nil, err
	}

	return decodeQuiz(rawResp)
}

// VerifyEmail проверяет, допущена ли почта email к квизу quizID.
// Отказ сервера возвращается как attempt.ErrNotAllowed,
// при необходимости с сообщением сервера.
func (c *HTTPClient) VerifyEmail(ctx context.Context, quizID, email string) (bool, error) {
	ctx, cancelFunc := context.WithTimeout(ctx, timeoutSend)
	defer cancelFunc()

	rawResp, err := c.doPost(ctx, "/api/quizzes/"+url.PathEscape(quizID)+"/verify", verifyRequest{Email: email})
	if err != nil {
		return false, err
	}

	var resp verifyResponse
	if err = json.Unmarshal(rawResp, &resp); err != nil {
		return false, err
	}

	if !resp.Allowed {
		if resp.Error != "" {
			return false, fmt.Errorf("%w: %s", attempt.ErrNotAllowed, resp.Error)
		}

		return false, attempt.ErrNotAllowed
	}

	return true, nil
}

// RequestHint запрашивает сгенерированную подсказку к вопросу qid.
func (c *HTTPClient) RequestHint(ctx context.Context, quizID, qid, question, quizContext string) (string, error) {
	ctx, cancelFunc := context.WithTimeout(ctx, timeoutFetch)
	defer cancelFunc()

	rawResp, err := c.doPost(ctx, "/api/quizzes/"+url.PathEscape(quizID)+"/hint", hintRequest{
		QID:      qid,
		Question: question,
		Context:  quizContext,
	})
	if err != nil {
		return "", err
	}

	var resp hintResponse
	if err = json.Unmarshal(rawResp, &resp); err != nil {
		return "", err
	}

	return resp.Hint, nil
}

// GetAttempt возвращает сохранённую попытку для пары (quizID, email).
// Возвращает nil без ошибки, если попытки ещё нет.
func (c *HTTPClient) GetAttempt(ctx context.Context, quizID, email string) (*attempt.Record, error) {
	query := url.Values{}
	query.Set("quizId", quizID)
	query.Set("email", email)

	ctx, cancelFunc := context.WithTimeout(ctx, timeoutFetch)
	defer cancelFunc()

	rawResp, err := c.doGet(ctx, "/api/attempts", query)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Attempt *attempt.Record `json:"attempt"`
	}
	if err = json.Unmarshal(rawResp, &resp); err != nil {
		return nil, err
	}

	return resp.Attempt, nil
}

// SaveAttempt отправляет частичное обновление попытки.
// Возвращает балл сервера, если он пришёл в ответе.
func (c *HTTPClient) SaveAttempt(ctx context.Context, upd attempt.Update) (*float64, error) {
	ctx, cancelFunc := context.WithTimeout(ctx, timeoutSend)
	defer cancelFunc()

	rawResp, err := c.doPost(ctx, "/api/attempts", upd)
	if err != nil {
		return nil, err
	}

	var resp saveResponse
	if err = json.Unmarshal(rawResp, &resp); err != nil {
		return nil, err
	}

	return resp.Score, nil
}

// Login выполняет вход и возвращает токен и пользователя.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (string, AuthUser, error) {
	return c.doAuth(ctx, "/api/login", credentialsRequest{Email: email, Password: password})
}

// Signup регистрирует пользователя и возвращает токен и пользователя.
func (c *HTTPClient) Signup(ctx context.Context, email, password, name string) (string, AuthUser, error) {
	return c.doAuth(ctx, "/api/signup", credentialsRequest{Email: email, Password: password, Name: name})
}

// doAuth выполняет запрос входа или регистрации.
func (c *HTTPClient) doAuth(ctx context.Context, path string, creds credentialsRequest) (string, AuthUser, error) {
	ctx, cancelFunc := context.WithTimeout(ctx, timeoutSend)
	defer cancelFunc()

	rawResp, err := c.doPost(ctx, path, creds)
	if err != nil {
		return "", AuthUser{}, err
	}

	var resp authResponse
	if err = json.Unmarshal(rawResp, &resp); err != nil {
		return "", AuthUser{}, err
	}

	if resp.Token == "" {
		if resp.Error != "" {
			return "", AuthUser{}, fmt.Errorf("platform api error: %s", resp.Error)
		}

		return "", AuthUser{}, errors.New("platform api returned no token")
	}

	return resp.Token, resp.User, nil
}

// decodeQuiz разбирает ответ эндпоинта квизов.
// Сервер отдаёт либо конверт {quiz: ...}, либо сам объект квиза;
// содержимое вопросов может быть вложено в finalizedJson, при этом
// список допущенных может остаться на внешнем уровне.
func decodeQuiz(rawResp json.RawMessage) (*attempt.Quiz, error) {
	var envelope struct {
		Quiz  json.RawMessage `json:"quiz"`
		Error string          `json:"error"`
	}

	if err := json.Unmarshal(rawResp, &envelope); err != nil {
		return nil, err
	}

	if envelope.Error != "" {
		return nil, fmt.Errorf("platform api error: %s", envelope.Error)
	}

	raw := rawResp
	if len(envelope.Quiz) > 0 && string(envelope.Quiz) != "null" {
		raw = envelope.Quiz
	}

	var outer struct {
		Finalized       json.RawMessage `json:"finalizedJson"`
		AllowedStudents []string        `json:"allowedStudents"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, err
	}

	quizRaw := raw
	if len(outer.Finalized) > 0 && string(outer.Finalized) != "null" {
		quizRaw = outer.Finalized
	}

	quiz := &attempt.Quiz{}
	if err := json.Unmarshal(quizRaw, quiz); err != nil {
		return nil, err
	}

	if len(quiz.AllowedStudents) == 0 {
		quiz.AllowedStudents = outer.AllowedStudents
	}

	return quiz, nil
}

// doGet выполняет GET запрос к API платформы.
// Возвращает сырое тело ответа в случае успеха.
func (c *HTTPClient) doGet(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	return c.do(request)
}

// doPost выполняет POST запрос с JSON телом к API платформы.
// Возвращает сырое тело ответа в случае успеха.
func (c *HTTPClient) doPost(ctx context.Context, path string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "application/json")

	return c.do(request)
}

func (c *HTTPClient) do(request *http.Request) (json.RawMessage, error) {
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.sessionID != "" {
		request.Header.Set("X-Session-ID", c.sessionID)
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to do %s request for url %s: %w", request.Method, request.URL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body for url %s: %w", request.URL, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected response status code %d for url %s", resp.StatusCode, request.URL)
	}

	return data, nil
}
