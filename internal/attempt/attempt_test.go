package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend реализует Backend в памяти и считает обращения.
type fakeBackend struct {
	mu sync.Mutex

	quiz      *Quiz
	quizErr   error
	record    *Record
	recordErr error
	allowed   bool
	hint      string
	hintErr   error
	saveScore *float64
	saveErr   error

	// saveGate, если задан, блокирует SaveAttempt до сигнала.
	saveGate chan struct{}

	quizCalls    int
	verifyCalls  int
	attemptCalls int
	hintCalls    int
	saves        []Update
}

func (f *fakeBackend) GetQuiz(ctx context.Context, quizID, email string) (*Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.quizCalls++

	if f.quizErr != nil {
		return nil, f.quizErr
	}

	quiz := *f.quiz

	return &quiz, nil
}

func (f *fakeBackend) VerifyEmail(ctx context.Context, quizID, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.verifyCalls++

	if !f.allowed {
		return false, ErrNotAllowed
	}

	return true, nil
}

func (f *fakeBackend) RequestHint(ctx context.Context, quizID, qid, question, quizContext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.hintCalls++

	return f.hint, f.hintErr
}

func (f *fakeBackend) GetAttempt(ctx context.Context, quizID, email string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attemptCalls++

	if f.recordErr != nil {
		return nil, f.recordErr
	}

	return f.record, nil
}

func (f *fakeBackend) SaveAttempt(ctx context.Context, upd Update) (*float64, error) {
	if f.saveGate != nil {
		<-f.saveGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves = append(f.saves, upd)

	return f.saveScore, f.saveErr
}

func (f *fakeBackend) savedUpdates() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Update{}, f.saves...)
}

// twoQuestionQuiz возвращает квиз из двух вопросов с выбором,
// правильные индексы — 1 и 0.
func twoQuestionQuiz() *Quiz {
	one := Value("1")
	zero := Value("0")

	return &Quiz{
		ID:    "quiz-1",
		Title: "Test Quiz",
		Questions: []Question{
			{
				ID:            "q1",
				Text:          "What is 2+2?",
				Options:       []string{"3", "4"},
				CorrectAnswer: &one,
				Explanation:   "2+2 = 4",
			},
			{
				ID:            "q2",
				Text:          "What is the capital of France?",
				Options:       []string{"Paris", "London"},
				CorrectAnswer: &zero,
			},
		},
	}
}

// startedEngine возвращает контроллер в состоянии in_progress.
func startedEngine(t *testing.T, backend *fakeBackend) *Engine {
	t.Helper()

	engine := NewEngine(backend, "quiz-1")

	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))
	require.NoError(t, engine.LoadQuiz(context.Background()))
	require.Equal(t, StateInProgress, engine.State())

	return engine
}

func TestVerify_EmptyAllowList(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := NewEngine(backend, "quiz-1")

	err := engine.Verify(context.Background(), "a@b.com")
	require.NoError(t, err)

	assert.Equal(t, StateLoading, engine.State())
	// пустой список допущенных решается без эндпоинта проверки
	assert.Equal(t, 0, backend.verifyCalls)
}

func TestVerify_AllowList(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.AllowedStudents = []string{"a@b.com"}

	t.Run("email allowed", func(t *testing.T) {
		backend := &fakeBackend{quiz: quiz, allowed: true}
		engine := NewEngine(backend, "quiz-1")

		require.NoError(t, engine.Verify(context.Background(), "a@b.com"))
		assert.Equal(t, StateLoading, engine.State())
		assert.Equal(t, 1, backend.verifyCalls)
	})

	t.Run("email rejected", func(t *testing.T) {
		backend := &fakeBackend{quiz: quiz, allowed: false}
		engine := NewEngine(backend, "quiz-1")

		err := engine.Verify(context.Background(), "other@b.com")
		require.ErrorIs(t, err, ErrNotAllowed)
		assert.Equal(t, StateUnverified, engine.State())

		// отказ можно повторить, результат тот же
		err = engine.Verify(context.Background(), "other@b.com")
		require.ErrorIs(t, err, ErrNotAllowed)
		assert.Equal(t, StateUnverified, engine.State())
	})
}

func TestVerify_InvalidEmail(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := NewEngine(backend, "quiz-1")

	err := engine.Verify(context.Background(), "not an email")
	require.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, StateUnverified, engine.State())
	// до сети дело не доходит
	assert.Equal(t, 0, backend.attemptCalls)
	assert.Equal(t, 0, backend.quizCalls)
}

func TestVerify_NetworkError(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz(), recordErr: errors.New("connection refused")}
	engine := NewEngine(backend, "quiz-1")

	err := engine.Verify(context.Background(), "a@b.com")
	require.Error(t, err)

	assert.Equal(t, StateUnverified, engine.State())
}

func TestVerify_AlreadySubmitted(t *testing.T) {
	score := 2.0
	backend := &fakeBackend{
		quiz: twoQuestionQuiz(),
		record: &Record{
			QuizID:    "quiz-1",
			Email:     "a@b.com",
			Answers:   map[string]Value{"q1": "1", "q2": "0"},
			Progress:  map[string]Progress{"q1": ProgressCorrect, "q2": ProgressCorrect},
			Submitted: true,
			Score:     &score,
		},
	}
	engine := NewEngine(backend, "quiz-1")

	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))

	// состояние in_progress пропускается полностью
	assert.Equal(t, StateSubmitted, engine.State())
	assert.Equal(t, 2.0, engine.Score())

	answers, progress := engine.Snapshot()
	assert.Equal(t, Value("1"), answers["q1"])
	assert.Equal(t, ProgressCorrect, progress["q2"])

	// после submitted все изменяющие операции пустые
	engine.Answer("q1", "0")
	answers, _ = engine.Snapshot()
	assert.Equal(t, Value("1"), answers["q1"])
}

func TestVerify_Idempotent(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := NewEngine(backend, "quiz-1")

	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))
	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))

	assert.Equal(t, StateLoading, engine.State())
	// повторный вызов после успеха не ходит в сеть заново
	assert.Equal(t, 1, backend.attemptCalls)
}

func TestLoadQuiz_FatalOnQuizError(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz(), quizErr: errors.New("boom")}
	engine := NewEngine(backend, "quiz-1")

	// недоступный предпросмотр квиза не мешает допуску
	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))
	require.Equal(t, StateLoading, engine.State())

	err := engine.LoadQuiz(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, engine.State())

	// из failed есть путь на повторную попытку
	engine.Retry()
	assert.Equal(t, StateUnverified, engine.State())
}

func TestLoadQuiz_AttemptHistoryNonFatal(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := NewEngine(backend, "quiz-1")

	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))

	backend.mu.Lock()
	backend.recordErr = errors.New("history unavailable")
	backend.mu.Unlock()

	require.NoError(t, engine.LoadQuiz(context.Background()))

	assert.Equal(t, StateInProgress, engine.State())

	answers, progress := engine.Snapshot()
	assert.Empty(t, answers)
	assert.Empty(t, progress)
}

func TestLoadQuiz_Rehydrate(t *testing.T) {
	backend := &fakeBackend{
		quiz: twoQuestionQuiz(),
		record: &Record{
			QuizID:   "quiz-1",
			Email:    "a@b.com",
			Answers:  map[string]Value{"q1": "1"},
			Progress: map[string]Progress{"q1": ProgressIncomplete},
		},
	}
	engine := NewEngine(backend, "quiz-1")

	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))
	require.NoError(t, engine.LoadQuiz(context.Background()))

	assert.Equal(t, StateInProgress, engine.State())

	answers, progress := engine.Snapshot()
	assert.Equal(t, Value("1"), answers["q1"])
	assert.Equal(t, ProgressIncomplete, progress["q1"])
}

func TestLoadQuiz_Idempotent(t *testing.T) {
	backend := &fakeBackend{
		quiz: twoQuestionQuiz(),
		record: &Record{
			Answers:  map[string]Value{"q1": "1"},
			Progress: map[string]Progress{"q1": ProgressIncomplete},
		},
	}
	engine := NewEngine(backend, "quiz-1")

	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))
	require.NoError(t, engine.LoadQuiz(context.Background()))

	answersFirst, progressFirst := engine.Snapshot()

	require.NoError(t, engine.LoadQuiz(context.Background()))

	answersSecond, progressSecond := engine.Snapshot()
	assert.Equal(t, answersFirst, answersSecond)
	assert.Equal(t, progressFirst, progressSecond)
}

func TestAnswer_SetsIncompleteAndAutosaves(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Flush()

	answers, progress := engine.Snapshot()
	assert.Equal(t, Value("1"), answers["q1"])
	assert.Equal(t, ProgressIncomplete, progress["q1"])

	saves := backend.savedUpdates()
	require.Len(t, saves, 1)
	assert.Equal(t, "quiz-1", saves[0].QuizID)
	assert.Equal(t, "a@b.com", saves[0].Email)
	assert.Equal(t, Value("1"), saves[0].Answers["q1"])
	assert.Equal(t, ProgressIncomplete, saves[0].Progress["q1"])
	assert.False(t, saves[0].Submitted)
}

func TestAnswer_AutosaveFailureIsSilent(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz(), saveErr: errors.New("boom")}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Flush()

	// локальное состояние остаётся источником истины
	answers, _ := engine.Snapshot()
	assert.Equal(t, Value("1"), answers["q1"])
	assert.Equal(t, StateInProgress, engine.State())
}

func TestCheck_LocksQuestion(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Check("q1")

	_, progress := engine.Snapshot()
	require.Equal(t, ProgressCorrect, progress["q1"])

	// заблокированный вопрос игнорирует и ответ, и повторную проверку
	engine.Answer("q1", "0")
	engine.Check("q1")

	answers, progress := engine.Snapshot()
	assert.Equal(t, Value("1"), answers["q1"])
	assert.Equal(t, ProgressCorrect, progress["q1"])
}

func TestCheck_NumericComparison(t *testing.T) {
	testCases := []struct {
		name     string
		answer   Value
		expected Progress
	}{
		{name: "matching index", answer: "1", expected: ProgressCorrect},
		{name: "wrong index", answer: "0", expected: ProgressIncorrect},
		{name: "non numeric value", answer: "four", expected: ProgressIncorrect},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{quiz: twoQuestionQuiz()}
			engine := startedEngine(t, backend)

			engine.Answer("q1", tc.answer)
			engine.Check("q1")

			_, progress := engine.Snapshot()
			assert.Equal(t, tc.expected, progress["q1"])
		})
	}
}

func TestCheck_Preconditions(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.Questions = append(quiz.Questions, Question{ID: "q3", Text: "Describe gravity."})
	quiz.Questions = append(quiz.Questions, Question{ID: "q4", Text: "Pick one", Options: []string{"a", "b"}})

	backend := &fakeBackend{quiz: quiz}
	engine := startedEngine(t, backend)

	// без ответа проверка не выполняется
	engine.Check("q1")

	// свободный вопрос не проверяется
	engine.Answer("q3", "anything")
	engine.Check("q3")

	// вопрос с выбором без правильного ответа не проверяется
	engine.Answer("q4", "0")
	engine.Check("q4")

	_, progress := engine.Snapshot()
	assert.NotContains(t, progress, "q1")
	assert.Equal(t, ProgressIncomplete, progress["q3"])
	assert.Equal(t, ProgressIncomplete, progress["q4"])
}

func TestHint_StaticAndGenerated(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.Context = "math basics"
	quiz.Questions[0].Hint = "try counting on your fingers"

	backend := &fakeBackend{quiz: quiz, hint: "think about european capitals"}
	engine := startedEngine(t, backend)

	// статичная подсказка не ходит в сеть
	hint, err := engine.Hint(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "try counting on your fingers", hint)
	assert.Equal(t, 0, backend.hintCalls)

	// сгенерированная подсказка не кешируется
	hint, err = engine.Hint(context.Background(), "q2")
	require.NoError(t, err)
	assert.Equal(t, "think about european capitals", hint)

	_, err = engine.Hint(context.Background(), "q2")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.hintCalls)

	// подсказка не меняет состояние попытки
	_, progress := engine.Snapshot()
	assert.Empty(t, progress)
}

func TestSubmit_ServerScoreWins(t *testing.T) {
	serverScore := 1.5
	backend := &fakeBackend{quiz: twoQuestionQuiz(), saveScore: &serverScore}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Check("q1")

	require.NoError(t, engine.Submit(context.Background()))

	assert.Equal(t, StateSubmitted, engine.State())
	assert.Equal(t, 1.5, engine.Score())
}

func TestSubmit_LocalScoreFallback(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Check("q1")
	engine.Answer("q2", "1")
	engine.Check("q2")

	require.NoError(t, engine.Submit(context.Background()))

	assert.Equal(t, 1.0, engine.Score())
	assert.Equal(t, 50, engine.Percentage())
}

func TestSubmit_SendsFullMaps(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Check("q1")
	engine.Flush()

	require.NoError(t, engine.Submit(context.Background()))

	saves := backend.savedUpdates()
	final := saves[len(saves)-1]

	assert.True(t, final.Submitted)
	assert.Equal(t, Value("1"), final.Answers["q1"])
	assert.Equal(t, ProgressCorrect, final.Progress["q1"])
}

func TestSubmit_NetworkFailureStillSubmits(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz(), saveErr: errors.New("boom")}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Check("q1")

	err := engine.Submit(context.Background())
	require.Error(t, err)

	// результат показывается по локальному баллу
	assert.Equal(t, StateSubmitted, engine.State())
	assert.Equal(t, 1.0, engine.Score())

	// повторная отправка — пустая операция
	require.NoError(t, engine.Submit(context.Background()))
}

func TestScenario_TwoMCQ(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := startedEngine(t, backend)

	engine.Answer("q1", "1")
	engine.Check("q1")
	engine.Answer("q2", "1")
	engine.Check("q2")

	_, progress := engine.Snapshot()
	assert.Equal(t, ProgressCorrect, progress["q1"])
	assert.Equal(t, ProgressIncorrect, progress["q2"])

	require.NoError(t, engine.Submit(context.Background()))

	assert.Equal(t, 1.0, engine.Score())
	assert.Equal(t, 50, engine.Percentage())
}

func TestNavigation_Clamps(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := startedEngine(t, backend)

	assert.Equal(t, 0, engine.CurrentIndex())

	engine.Previous()
	assert.Equal(t, 0, engine.CurrentIndex())

	engine.Next()
	assert.Equal(t, 1, engine.CurrentIndex())

	engine.Next()
	assert.Equal(t, 1, engine.CurrentIndex())
}

func TestAnswer_InFlightSaveKeepsLatestAnswerOnCheck(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{quiz: twoQuestionQuiz(), saveGate: gate}
	engine := startedEngine(t, backend)

	// первое автосохранение висит в полёте, пока студент меняет
	// ответ и проверяет его
	engine.Answer("q1", "0")
	engine.Answer("q1", "1")
	engine.Check("q1")

	gate <- struct{}{}
	gate <- struct{}{}
	engine.Flush()

	_, progress := engine.Snapshot()
	require.Equal(t, ProgressCorrect, progress["q1"])

	// дельта прогресса не затирает накопленную дельту ответа:
	// сервер должен получить и вердикт, и ответ, по которому он вычислен
	saves := backend.savedUpdates()
	require.Len(t, saves, 2)

	final := saves[len(saves)-1]
	assert.Equal(t, Value("1"), final.Answers["q1"])
	assert.Equal(t, ProgressCorrect, final.Progress["q1"])
}

func TestVerify_ReentrantDuringVerification(t *testing.T) {
	backend := &fakeBackend{quiz: twoQuestionQuiz()}
	engine := NewEngine(backend, "quiz-1")

	engine.mu.Lock()
	engine.state = StateVerifying
	engine.mu.Unlock()

	// повторный вызов во время идущей проверки не запускает вторую
	require.NoError(t, engine.Verify(context.Background(), "a@b.com"))

	assert.Equal(t, 0, backend.attemptCalls)
	assert.Equal(t, StateVerifying, engine.State())
}

func TestSaver_CoalescesPerQuestion(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{quiz: twoQuestionQuiz(), saveGate: gate}
	s := newSaver(backend)

	upd := func(v Value) Update {
		return Update{QuizID: "quiz-1", Answers: map[string]Value{"q1": v}}
	}

	// первый запрос висит в полёте, следующие два сливаются в один
	s.enqueue("q1", upd("a"))
	s.enqueue("q1", upd("b"))
	s.enqueue("q1", upd("c"))

	gate <- struct{}{}
	gate <- struct{}{}
	s.flush()

	saves := backend.savedUpdates()
	require.Len(t, saves, 2)
	assert.Equal(t, Value("a"), saves[0].Answers["q1"])
	assert.Equal(t, Value("c"), saves[1].Answers["q1"])
}

func TestIsCorrectQuiz(t *testing.T) {
	one := Value("1")

	testCases := []struct {
		name    string
		quiz    *Quiz
		wantErr bool
	}{
		{
			name:    "no questions",
			quiz:    &Quiz{Title: "t", Questions: []Question{}},
			wantErr: true,
		},
		{
			name:    "missing question text",
			quiz:    &Quiz{Questions: []Question{{Options: []string{"a", "b"}}}},
			wantErr: true,
		},
		{
			name:    "single option mcq",
			quiz:    &Quiz{Questions: []Question{{Text: "q", Options: []string{"a"}}}},
			wantErr: true,
		},
		{
			name:    "free text question",
			quiz:    &Quiz{Questions: []Question{{Text: "describe gravity"}}},
			wantErr: false,
		},
		{
			name:    "valid mcq",
			quiz:    &Quiz{Questions: []Question{{Text: "q", Options: []string{"a", "b"}, CorrectAnswer: &one}}},
			wantErr: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := isCorrectQuiz(tc.quiz)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuestionID_PositionalFallback(t *testing.T) {
	quiz := &Quiz{
		Questions: []Question{
			{ID: "abc", Text: "first"},
			{Text: "second"},
		},
	}

	assert.Equal(t, "abc", quiz.QuestionID(0))
	assert.Equal(t, "1", quiz.QuestionID(1))
	assert.Equal(t, "", quiz.QuestionID(5))
}

func TestValue_Unmarshal(t *testing.T) {
	var quiz Quiz

	data := []byte(`{
		"title": "Mixed",
		"questions": [
			{"id": 1, "question": "q", "options": ["a", "b"], "correctAnswer": 1},
			{"id": "q2", "question": "q", "correctAnswer": "7"}
		]
	}`)

	require.NoError(t, json.Unmarshal(data, &quiz))

	assert.Equal(t, Value("1"), quiz.Questions[0].ID)
	assert.Equal(t, Value("1"), *quiz.Questions[0].CorrectAnswer)
	assert.Equal(t, Value("7"), *quiz.Questions[1].CorrectAnswer)

	n, ok := quiz.Questions[0].CorrectAnswer.Number()
	require.True(t, ok)
	assert.Equal(t, 1.0, n)

	_, ok = Value("four").Number()
	assert.False(t, ok)
}
