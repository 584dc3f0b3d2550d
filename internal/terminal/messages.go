package terminal

const msgHelp = `Commands:
  <answer>   answer the current question (option letter, option number or free text)
  check, c   check the current answer (locks the question)
  hint, h    show a hint for the current question
  next, n    go to the next question
  prev, p    go to the previous question
  submit, s  submit the quiz and see the score
  help, ?    show this help
  quit, q    leave without submitting`

const msgEmailPrompt = `Enter your email to start the quiz`

const msgVerifying = `Verifying...`

const msgAlreadySubmitted = `Your quiz has been submitted and scored.`

const msgLoadFailed = `Failed to load quiz.`

const msgRetryPrompt = `Retry? [y/n]`

const msgLocked = `This question is already checked, the answer cannot change.`

const msgNoAnswer = `No answer`

const msgCheckUnavailable = `Check is only available for answered multiple-choice questions.`

const msgCorrect = `Correct!`

const msgIncorrect = `Incorrect.`

const msgQuizComplete = `Quiz Complete!`

// Сообщения по порогам процента результата
const (
	msgBandExcellent = `Excellent work!`
	msgBandGood      = `Good job!`
	msgBandPractice  = `Keep practicing!`
	msgBandTryAgain  = `Try again!`
)
