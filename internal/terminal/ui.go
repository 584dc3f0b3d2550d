package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/letsssgooo/quizTaker/internal/attempt"
)

// UI ведёт интерактивную сессию прохождения квиза в терминале.
// Получает контроллер попытки как типизированный контракт и не держит
// никакого собственного состояния попытки.
type UI struct {
	ctrl attempt.Controller
	in   *bufio.Scanner
	out  io.Writer
}

// New создаёт терминальный интерфейс поверх контроллера попытки.
func New(ctrl attempt.Controller, in io.Reader, out io.Writer) *UI {
	return &UI{
		ctrl: ctrl,
		in:   bufio.NewScanner(in),
		out:  out,
	}
}

// Run проводит пользователя по всему жизненному циклу попытки:
// проверка допуска, загрузка, ответы, завершение, результат.
func (u *UI) Run(ctx context.Context, email string) error {
	for {
		switch u.ctrl.State() {
		case attempt.StateUnverified:
			if err := u.verify(ctx, &email); err != nil {
				return err
			}
		case attempt.StateLoading:
			if err := u.ctrl.LoadQuiz(ctx); err != nil {
				fmt.Fprintln(u.out, color.RedString(msgLoadFailed), err)
			}
		case attempt.StateFailed:
			if !u.confirmRetry() {
				return fmt.Errorf("quiz session failed")
			}

			u.ctrl.Retry()
		case attempt.StateInProgress:
			if err := u.questionLoop(ctx); err != nil {
				return err
			}

			if u.ctrl.State() == attempt.StateInProgress {
				// пользователь вышел, не завершив попытку
				return nil
			}
		case attempt.StateSubmitted:
			u.renderResults()
			return nil
		default:
			return fmt.Errorf("unexpected controller state %q", u.ctrl.State())
		}
	}
}

// verify запрашивает почту и проверяет допуск.
// Отказ выводится и оставляет возможность повторить ввод.
func (u *UI) verify(ctx context.Context, email *string) error {
	if *email == "" {
		fmt.Fprintln(u.out, msgEmailPrompt)

		line, ok := u.readLine()
		if !ok {
			return fmt.Errorf("input closed before verification")
		}

		*email = line
	}

	fmt.Fprintln(u.out, msgVerifying)

	if err := u.ctrl.Verify(ctx, *email); err != nil {
		fmt.Fprintln(u.out, color.RedString(err.Error()))
		*email = ""
		return nil
	}

	if u.ctrl.State() == attempt.StateSubmitted {
		fmt.Fprintln(u.out, msgAlreadySubmitted)
	}

	return nil
}

// questionLoop обрабатывает команды пользователя, пока попытка
// не завершена или пользователь не вышел.
func (u *UI) questionLoop(ctx context.Context) error {
	fmt.Fprintln(u.out, msgHelp)

	for u.ctrl.State() == attempt.StateInProgress {
		u.renderQuestion()

		line, ok := u.readLine()
		if !ok {
			return nil
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
		case "next", "n":
			u.ctrl.Next()
		case "prev", "p":
			u.ctrl.Previous()
		case "check", "c":
			u.check()
		case "hint", "h":
			u.hint(ctx)
		case "submit", "s":
			if err := u.ctrl.Submit(ctx); err != nil {
				// результат уже зафиксирован локально, ошибка только для сведения
				fmt.Fprintln(u.out, color.YellowString("submission may not have reached the server: %v", err))
			}
		case "help", "?":
			fmt.Fprintln(u.out, msgHelp)
		case "quit", "q":
			return nil
		default:
			u.answer(strings.TrimSpace(line))
		}
	}

	return nil
}

// answer переводит ввод пользователя в значение ответа.
// Для вопроса с выбором принимается буква или номер варианта,
// для свободного вопроса — сам текст.
func (u *UI) answer(input string) {
	quiz := u.ctrl.Quiz()
	idx := u.ctrl.CurrentIndex()

	if quiz == nil || idx >= len(quiz.Questions) {
		return
	}

	question := quiz.Questions[idx]
	qid := quiz.QuestionID(idx)

	_, progress := u.ctrl.Snapshot()
	if progress[qid].Locked() {
		fmt.Fprintln(u.out, msgLocked)
		return
	}

	value := attempt.Value(input)

	if question.IsMCQ() {
		optionIdx, ok := parseOption(input, len(question.Options))
		if !ok {
			fmt.Fprintln(u.out, color.YellowString("pick an option between 1 and %d", len(question.Options)))
			return
		}

		value = attempt.Value(strconv.Itoa(optionIdx))
	}

	u.ctrl.Answer(qid, value)
}

func (u *UI) check() {
	quiz := u.ctrl.Quiz()
	idx := u.ctrl.CurrentIndex()

	if quiz == nil || idx >= len(quiz.Questions) {
		return
	}

	qid := quiz.QuestionID(idx)

	_, before := u.ctrl.Snapshot()
	if before[qid].Locked() {
		fmt.Fprintln(u.out, msgLocked)
		return
	}

	u.ctrl.Check(qid)

	_, after := u.ctrl.Snapshot()

	switch after[qid] {
	case attempt.ProgressCorrect:
		fmt.Fprintln(u.out, color.GreenString(msgCorrect))
	case attempt.ProgressIncorrect:
		fmt.Fprintln(u.out, color.RedString(msgIncorrect))
	default:
		fmt.Fprintln(u.out, msgCheckUnavailable)
	}
}

func (u *UI) hint(ctx context.Context) {
	quiz := u.ctrl.Quiz()
	idx := u.ctrl.CurrentIndex()

	if quiz == nil || idx >= len(quiz.Questions) {
		return
	}

	hint, err := u.ctrl.Hint(ctx, quiz.QuestionID(idx))
	if err != nil {
		fmt.Fprintln(u.out, color.YellowString("hint is unavailable: %v", err))
		return
	}

	fmt.Fprintln(u.out, "Hint:", hint)
}

// renderQuestion выводит текущий вопрос, варианты и статус.
func (u *UI) renderQuestion() {
	quiz := u.ctrl.Quiz()
	idx := u.ctrl.CurrentIndex()

	if quiz == nil || idx >= len(quiz.Questions) {
		return
	}

	question := quiz.Questions[idx]
	qid := quiz.QuestionID(idx)
	answers, progress := u.ctrl.Snapshot()

	fmt.Fprintf(u.out, "\nQ%d/%d: %s\n", idx+1, len(quiz.Questions), question.Text)

	for i, option := range question.Options {
		marker := " "
		if string(answers[qid]) == strconv.Itoa(i) {
			marker = ">"
		}

		fmt.Fprintf(u.out, " %s %s) %s\n", marker, indexToLetter(i), option)
	}

	switch progress[qid] {
	case attempt.ProgressCorrect:
		fmt.Fprintln(u.out, color.GreenString(msgCorrect))
	case attempt.ProgressIncorrect:
		fmt.Fprintln(u.out, color.RedString(msgIncorrect))
	}
}

// renderResults выводит итоговый балл и разбор вопросов.
func (u *UI) renderResults() {
	quiz := u.ctrl.Quiz()
	if quiz == nil {
		return
	}

	answers, progress := u.ctrl.Snapshot()
	total := len(quiz.Questions)
	percentage := u.ctrl.Percentage()

	title := quiz.Title
	if title == "" {
		title = "Quiz Results"
	}

	fmt.Fprintf(u.out, "\n%s\n%s\n", msgQuizComplete, title)
	fmt.Fprintf(u.out, "Score: %s  (%d%%)\n", color.GreenString("%v/%d", u.ctrl.Score(), total), percentage)
	fmt.Fprintln(u.out, bandMessage(percentage))

	fmt.Fprintln(u.out, "\nQuestion Review:")

	for i := range quiz.Questions {
		question := quiz.Questions[i]
		qid := quiz.QuestionID(i)

		verdict := color.RedString("✗")
		if progress[qid] == attempt.ProgressCorrect {
			verdict = color.GreenString("✓")
		}

		fmt.Fprintf(u.out, "%s Q%d: %s\n", verdict, i+1, question.Text)
		fmt.Fprintf(u.out, "   Your answer: %s\n", displayAnswer(&question, answers[qid]))

		if question.IsMCQ() && question.CorrectAnswer != nil {
			fmt.Fprintf(u.out, "   Correct answer: %s\n", displayAnswer(&question, *question.CorrectAnswer))
		}

		if question.Explanation != "" {
			fmt.Fprintf(u.out, "   Explanation: %s\n", question.Explanation)
		}
	}
}

func (u *UI) confirmRetry() bool {
	fmt.Fprintln(u.out, msgRetryPrompt)

	line, ok := u.readLine()
	if !ok {
		return false
	}

	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

func (u *UI) readLine() (string, bool) {
	if !u.in.Scan() {
		return "", false
	}

	return u.in.Text(), true
}

func bandMessage(percentage int) string {
	switch {
	case percentage >= 80:
		return msgBandExcellent
	case percentage >= 60:
		return msgBandGood
	case percentage >= 40:
		return msgBandPractice
	default:
		return msgBandTryAgain
	}
}

// displayAnswer показывает ответ текстом варианта, если ответ —
// индекс варианта, иначе самим значением.
func displayAnswer(question *attempt.Question, value attempt.Value) string {
	if value.Empty() {
		return msgNoAnswer
	}

	if question.IsMCQ() {
		if n, ok := value.Number(); ok {
			idx := int(n)
			if idx >= 0 && idx < len(question.Options) {
				return question.Options[idx]
			}
		}
	}

	return string(value)
}

// Допустимые буквы вариантов
var answerLetters = []string{"A", "B", "C", "D", "E", "F"}

// parseOption преобразует ввод пользователя в индекс варианта:
// принимается буква (A=0, B=1, ...) или номер варианта, начиная с 1.
func parseOption(input string, optionCount int) (int, bool) {
	upper := strings.ToUpper(strings.TrimSpace(input))

	for i, letter := range answerLetters {
		if letter == upper && i < optionCount {
			return i, true
		}
	}

	n, err := strconv.Atoi(upper)
	if err != nil || n < 1 || n > optionCount {
		return -1, false
	}

	return n - 1, true
}

// indexToLetter преобразует индекс в букву (0=A, 1=B, ...).
func indexToLetter(idx int) string {
	if idx >= 0 && idx < len(answerLetters) {
		return answerLetters[idx]
	}

	return strconv.Itoa(idx + 1)
}
