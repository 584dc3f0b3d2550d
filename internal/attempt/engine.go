package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Engine реализует Controller.
type Engine struct {
	backend Backend
	quizID  string

	state    State
	email    string
	quiz     *Quiz
	answers  map[string]Value
	progress map[string]Progress
	score    *float64
	current  int

	saver *saver
	mu    sync.Mutex
}

// NewEngine создаёт контроллер попытки для квиза quizID.
func NewEngine(backend Backend, quizID string) *Engine {
	return &Engine{
		backend:  backend,
		quizID:   quizID,
		state:    StateUnverified,
		answers:  make(map[string]Value),
		progress: make(map[string]Progress),
		saver:    newSaver(backend),
	}
}

// Verify проверяет допуск почты к квизу.
//
// Уже отправленная попытка сразу переводит контроллер в submitted
// вместе с сохранёнными ответами и баллом. Пустой или отсутствующий
// список допущенных означает, что допущен любой — без обращения
// к эндпоинту проверки. Отказ оставляет состояние unverified,
// повторный вызов с той же почтой даёт тот же результат.
func (e *Engine) Verify(ctx context.Context, email string) error {
	e.mu.Lock()

	switch e.state {
	case StateVerifying:
		// проверка уже идёт, вторую не запускаем
		e.mu.Unlock()
		return nil
	case StateLoading, StateInProgress, StateSubmitted:
		// уже проверено
		e.mu.Unlock()
		return nil
	case StateFailed:
		e.mu.Unlock()
		return fmt.Errorf("quiz %s failed to load, retry first", e.quizID)
	}

	if err := validateEmail(email); err != nil {
		e.mu.Unlock()
		return err
	}

	e.email = email
	e.state = StateVerifying
	e.mu.Unlock()

	rec, err := e.backend.GetAttempt(ctx, e.quizID, email)
	if err != nil {
		e.setState(StateUnverified)
		return fmt.Errorf("cannot verify email, %w", err)
	}

	if rec != nil && rec.Submitted {
		return e.loadSubmitted(ctx, rec)
	}

	quiz, err := e.backend.GetQuiz(ctx, e.quizID, email)
	if err != nil {
		// квиз недоступен для предварительного просмотра — допуск
		// решится при загрузке содержимого
		slog.Debug("allow-list peek failed", "quiz", e.quizID, "err", err)
		e.setState(StateLoading)
		return nil
	}

	if len(quiz.AllowedStudents) == 0 {
		e.setState(StateLoading)
		return nil
	}

	allowed, err := e.backend.VerifyEmail(ctx, e.quizID, email)
	if err != nil {
		e.setState(StateUnverified)
		return err
	}

	if !allowed {
		e.setState(StateUnverified)
		return ErrNotAllowed
	}

	e.setState(StateLoading)

	return nil
}

// loadSubmitted загружает квиз и сохранённую попытку для просмотра результата.
func (e *Engine) loadSubmitted(ctx context.Context, rec *Record) error {
	quiz, err := e.backend.GetQuiz(ctx, e.quizID, e.email)
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("cannot load quiz %s, %w", e.quizID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.quiz = quiz
	e.rehydrate(rec)
	e.score = rec.Score
	e.state = StateSubmitted

	return nil
}

// LoadQuiz загружает содержимое квиза и историю попытки.
//
// Ошибка загрузки содержимого фатальна для сессии (состояние failed).
// Ошибка загрузки истории не фатальна: попытка продолжается
// с пустыми ответами.
func (e *Engine) LoadQuiz(ctx context.Context) error {
	e.mu.Lock()

	if e.state != StateLoading && e.state != StateInProgress {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot load quiz in state %q", state)
	}
	e.mu.Unlock()

	quiz, err := e.backend.GetQuiz(ctx, e.quizID, e.email)
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("cannot load quiz %s, %w", e.quizID, err)
	}

	if err = isCorrectQuiz(quiz); err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("cannot load quiz %s, %w", e.quizID, err)
	}

	rec, err := e.backend.GetAttempt(ctx, e.quizID, e.email)
	if err != nil {
		slog.Debug("attempt history fetch failed", "quiz", e.quizID, "err", err)
		rec = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.quiz = quiz

	if rec != nil {
		e.rehydrate(rec)

		if rec.Submitted {
			e.score = rec.Score
			e.state = StateSubmitted
			return nil
		}
	}

	e.state = StateInProgress

	return nil
}

// rehydrate переносит сохранённые ответы и прогресс в локальное состояние.
// Локальные записи имеют приоритет: повторная загрузка без изменений
// даёт тот же снимок, а более свежие локальные правки не затираются.
func (e *Engine) rehydrate(rec *Record) {
	for qid, v := range rec.Answers {
		if _, ok := e.answers[qid]; !ok {
			e.answers[qid] = v
		}
	}

	for qid, p := range rec.Progress {
		if _, ok := e.progress[qid]; !ok {
			e.progress[qid] = p
		}
	}
}

// Answer записывает ответ на вопрос qid.
//
// Заблокированные вопросы и состояния кроме in_progress молча
// игнорируются. Запись ставит автосохранение в очередь: на вопрос
// не бывает больше одного запроса в полёте, более новый ответ
// вытесняет накопленный.
func (e *Engine) Answer(qid string, value Value) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return
	}

	if e.progress[qid].Locked() {
		return
	}

	e.answers[qid] = value
	e.progress[qid] = ProgressIncomplete

	e.saver.enqueue(qid, Update{
		QuizID:   e.quizID,
		Email:    e.email,
		Answers:  map[string]Value{qid: value},
		Progress: map[string]Progress{qid: ProgressIncomplete},
	})
}

// Check проверяет ответ на вопрос qid и блокирует вопрос.
//
// Работает только для вопроса с выбором, у которого задан правильный
// ответ, при непустом ответе и незаблокированном вопросе. Сравнение
// числовое: нечисловые значения дают incorrect. Результат проверки
// необратим для вопроса до конца сессии.
func (e *Engine) Check(qid string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return
	}

	question := e.questionByID(qid)
	if question == nil || !question.IsMCQ() || question.CorrectAnswer == nil {
		return
	}

	if e.progress[qid].Locked() {
		return
	}

	value := e.answers[qid]
	if value.Empty() {
		return
	}

	next := ProgressIncorrect

	given, okGiven := value.Number()
	correct, okCorrect := question.CorrectAnswer.Number()
	if okGiven && okCorrect && given == correct {
		next = ProgressCorrect
	}

	e.progress[qid] = next

	e.saver.enqueue(qid, Update{
		QuizID:   e.quizID,
		Email:    e.email,
		Progress: map[string]Progress{qid: next},
	})
}

// Hint возвращает подсказку к вопросу qid.
//
// Статичная подсказка вопроса возвращается без обращения к серверу,
// иначе подсказка запрашивается у сервера по тексту вопроса и контексту
// квиза. Результат не кешируется, состояние попытки не меняется.
func (e *Engine) Hint(ctx context.Context, qid string) (string, error) {
	e.mu.Lock()

	if e.quiz == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("quiz %s is not loaded", e.quizID)
	}

	question := e.questionByID(qid)
	if question == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("question %s is not found", qid)
	}

	if question.Hint != "" {
		e.mu.Unlock()
		return question.Hint, nil
	}

	text := question.Text
	quizContext := e.quiz.Context
	e.mu.Unlock()

	return e.backend.RequestHint(ctx, e.quizID, qid, text, quizContext)
}

// Submit завершает попытку.
//
// Отправляет полные карты ответов и прогресса с submitted = true.
// Итоговый балл — числовой балл сервера, если он пришёл, иначе
// количество вопросов со статусом correct. Контроллер переходит
// в submitted даже при ошибке сети (ошибка возвращается вызывающему,
// но локальный результат остаётся видимым). После submitted все
// изменяющие операции становятся пустыми.
func (e *Engine) Submit(ctx context.Context) error {
	e.mu.Lock()

	if e.state != StateInProgress {
		e.mu.Unlock()
		return nil
	}

	upd := Update{
		QuizID:    e.quizID,
		Email:     e.email,
		Answers:   copyAnswers(e.answers),
		Progress:  copyProgress(e.progress),
		Submitted: true,
	}
	e.mu.Unlock()

	serverScore, err := e.backend.SaveAttempt(ctx, upd)
	if err != nil {
		slog.Error("submit failed, keeping locally computed score", "quiz", e.quizID, "err", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil && serverScore != nil {
		e.score = serverScore
	}

	e.state = StateSubmitted

	return err
}

// Retry возвращает контроллер из failed в начальное состояние
// для повторной попытки.
func (e *Engine) Retry() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateFailed {
		return
	}

	e.quiz = nil
	e.answers = make(map[string]Value)
	e.progress = make(map[string]Progress)
	e.score = nil
	e.current = 0
	e.state = StateUnverified
}

// State возвращает текущее состояние контроллера.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Quiz возвращает загруженный квиз.
func (e *Engine) Quiz() *Quiz {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.quiz
}

// Email возвращает почту, с которой пройдена проверка допуска.
func (e *Engine) Email() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.email
}

// CurrentIndex возвращает номер текущего вопроса.
// Не сохраняется между сессиями, после перезагрузки снова ноль.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.current
}

// Next переходит к следующему вопросу, упираясь в последний.
func (e *Engine) Next() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.quiz == nil {
		return
	}

	if e.current < len(e.quiz.Questions)-1 {
		e.current++
	}
}

// Previous переходит к предыдущему вопросу, упираясь в первый.
func (e *Engine) Previous() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current > 0 {
		e.current--
	}
}

// Snapshot возвращает копии карт ответов и прогресса.
func (e *Engine) Snapshot() (map[string]Value, map[string]Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return copyAnswers(e.answers), copyProgress(e.progress)
}

// Score возвращает итоговый балл: балл сервера, если он есть,
// иначе количество вопросов со статусом correct.
func (e *Engine) Score() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.score != nil {
		return *e.score
	}

	return float64(e.correctCount())
}

// Percentage возвращает итоговый балл в процентах, с округлением.
func (e *Engine) Percentage() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.quiz == nil || len(e.quiz.Questions) == 0 {
		return 0
	}

	score := float64(e.correctCount())
	if e.score != nil {
		score = *e.score
	}

	return int(math.Round(score / float64(len(e.quiz.Questions)) * 100))
}

// Flush дожидается завершения всех автосохранений в полёте.
func (e *Engine) Flush() {
	e.saver.flush()
}

func (e *Engine) correctCount() int {
	count := 0

	for _, p := range e.progress {
		if p == ProgressCorrect {
			count++
		}
	}

	return count
}

// questionByID ищет вопрос по идентификатору с учётом позиционных ID.
// Вызывается под мьютексом.
func (e *Engine) questionByID(qid string) *Question {
	if e.quiz == nil {
		return nil
	}

	for i := range e.quiz.Questions {
		if e.quiz.QuestionID(i) == qid {
			return &e.quiz.Questions[i]
		}
	}

	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = s
}

func copyAnswers(src map[string]Value) map[string]Value {
	dst := make(map[string]Value, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

func copyProgress(src map[string]Progress) map[string]Progress {
	dst := make(map[string]Progress, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}
