package attempt

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateEmail проверяет формат почты до любого обращения к сети.
func validateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w, invalid email %q", ErrValidation, email)
	}

	return nil
}

// isCorrectQuiz проверяет загруженное содержимое квиза.
func isCorrectQuiz(quiz *Quiz) error {
	if quiz.Questions == nil {
		return fmt.Errorf("%w, missing field questions", ErrValidation)
	}

	if len(quiz.Questions) == 0 {
		return fmt.Errorf("%w, need at least one question", ErrValidation)
	}

	for i, question := range quiz.Questions {
		if question.Text == "" {
			return fmt.Errorf("%w, missing field question of %d question", ErrValidation, i)
		}

		if question.IsMCQ() && len(question.Options) < 2 {
			return fmt.Errorf("%w, amount of options must be at least two in %d question", ErrValidation, i)
		}
	}

	return nil
}
