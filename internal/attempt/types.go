package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Quiz представляет загруженный квиз. После загрузки в контроллер
// не изменяется до конца сессии.
type Quiz struct {
	ID              Value      `json:"id"`
	Title           string     `json:"title"`
	Context         string     `json:"context"`
	AllowedStudents []string   `json:"allowedStudents"`
	Questions       []Question `json:"questions"`
}

// QuestionID возвращает идентификатор вопроса с индексом i.
// Если у вопроса нет собственного ID, используется позиционный индекс.
func (q *Quiz) QuestionID(i int) string {
	if i < 0 || i >= len(q.Questions) {
		return ""
	}

	if id := q.Questions[i].ID; id != "" {
		return string(id)
	}

	return strconv.Itoa(i)
}

// Question представляет вопрос квиза.
// Наличие вариантов ответа означает вопрос с выбором,
// отсутствие — вопрос со свободным ответом.
type Question struct {
	ID            Value    `json:"id"`
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *Value   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	Hint          string   `json:"hint"`
}

// IsMCQ сообщает, является ли вопрос вопросом с выбором варианта.
func (q *Question) IsMCQ() bool {
	return q.Options != nil
}

// Value — скалярное значение ответа: строка или числовой индекс варианта.
// Пустое значение означает "нет ответа". В JSON принимает и строку, и число.
type Value string

// UnmarshalJSON принимает строку или число.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}

	*v = Value(n.String())

	return nil
}

// Empty сообщает, что ответа нет.
func (v Value) Empty() bool {
	return v == ""
}

// Number возвращает числовое значение ответа.
// Второй результат false, если значение не является числом.
func (v Value) Number() (float64, bool) {
	n, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// Progress — состояние вопроса в рамках попытки.
type Progress string

const (
	ProgressIncomplete Progress = "incomplete"
	ProgressCorrect    Progress = "correct"
	ProgressIncorrect  Progress = "incorrect"
)

// Locked сообщает, что вопрос уже проверен и его ответ изменить нельзя.
func (p Progress) Locked() bool {
	return p == ProgressCorrect || p == ProgressIncorrect
}

// State — состояние контроллера попытки.
type State string

const (
	StateUnverified State = "unverified"
	StateVerifying  State = "verifying"
	StateLoading    State = "loading"
	StateInProgress State = "in_progress"
	StateSubmitted  State = "submitted"
	StateFailed     State = "failed"
)

// Record представляет сохранённую на сервере попытку.
type Record struct {
	QuizID    string              `json:"quizId"`
	Email     string              `json:"email"`
	Answers   map[string]Value    `json:"answers"`
	Progress  map[string]Progress `json:"progress"`
	Submitted bool                `json:"submitted"`
	Score     *float64            `json:"score"`
}

// Update — частичное обновление попытки для отправки на сервер.
// Пустые карты не отправляются.
type Update struct {
	QuizID    string              `json:"quizId"`
	Email     string              `json:"email"`
	Answers   map[string]Value    `json:"answers,omitempty"`
	Progress  map[string]Progress `json:"progress,omitempty"`
	Submitted bool                `json:"submitted,omitempty"`
}

// Backend определяет интерфейс клиента API платформы,
// необходимый контроллеру попытки.
type Backend interface {
	// GetQuiz возвращает содержимое квиза.
	GetQuiz(ctx context.Context, quizID, email string) (*Quiz, error)

	// VerifyEmail проверяет, допущена ли почта к квизу.
	// Отказ сервера возвращается как ErrNotAllowed.
	VerifyEmail(ctx context.Context, quizID, email string) (bool, error)

	// RequestHint запрашивает сгенерированную подсказку к вопросу.
	RequestHint(ctx context.Context, quizID, qid, question, quizContext string) (string, error)

	// GetAttempt возвращает сохранённую попытку или nil, если её нет.
	GetAttempt(ctx context.Context, quizID, email string) (*Record, error)

	// SaveAttempt отправляет частичное обновление попытки.
	// Возвращает балл сервера, если он пришёл в ответе.
	SaveAttempt(ctx context.Context, upd Update) (*float64, error)
}

// Controller определяет интерфейс контроллера попытки для слоя отображения.
// Слой отображения получает именно этот контракт, а не глобальное состояние.
type Controller interface {
	// Verify проверяет допуск почты к квизу.
	Verify(ctx context.Context, email string) error

	// LoadQuiz загружает содержимое квиза и историю попытки.
	LoadQuiz(ctx context.Context) error

	// Answer записывает ответ на вопрос и ставит автосохранение в очередь.
	Answer(qid string, value Value)

	// Check проверяет ответ на вопрос с выбором и блокирует вопрос.
	Check(qid string)

	// Hint возвращает подсказку к вопросу.
	Hint(ctx context.Context, qid string) (string, error)

	// Submit завершает попытку и фиксирует итоговый балл.
	Submit(ctx context.Context) error

	// Retry возвращает контроллер из failed в начальное состояние.
	Retry()

	// State возвращает текущее состояние контроллера.
	State() State

	// Quiz возвращает загруженный квиз (nil до загрузки).
	Quiz() *Quiz

	// Email возвращает почту, с которой пройдена проверка допуска.
	Email() string

	// CurrentIndex возвращает номер текущего вопроса.
	CurrentIndex() int

	// Next переходит к следующему вопросу, не выходя за границы.
	Next()

	// Previous переходит к предыдущему вопросу, не выходя за границы.
	Previous()

	// Snapshot возвращает копии карт ответов и прогресса.
	Snapshot() (map[string]Value, map[string]Progress)

	// Score возвращает итоговый балл.
	Score() float64

	// Percentage возвращает итоговый балл в процентах (с округлением).
	Percentage() int
}

// Ошибки контроллера попытки
var (
	ErrValidation = errors.New("validation error")
	ErrNotAllowed = errors.New("email is not allowed for this quiz")
)

// Таймаут автосохранения
const timeoutSave = 5 * time.Second
