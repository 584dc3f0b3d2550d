package attempt

import (
	"context"
	"log/slog"
	"sync"
)

// saver выполняет фоновые автосохранения попытки.
//
// Сохранения упорядочены по ключу вопроса: на ключ не бывает больше
// одного запроса в полёте, обновления, пришедшие во время запроса,
// сливаются в одно. Слияние пополевое: дельта прогресса не теряет
// накопленную дельту ответа, при совпадении полей побеждает более
// новая запись. Ошибки сохранения не критичны и только логируются.
type saver struct {
	backend Backend

	inflight map[string]bool
	pending  map[string]Update
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func newSaver(backend Backend) *saver {
	return &saver{
		backend:  backend,
		inflight: make(map[string]bool),
		pending:  make(map[string]Update),
	}
}

// enqueue ставит обновление по ключу вопроса в очередь.
// Никогда не блокируется на сети.
func (s *saver) enqueue(key string, upd Update) {
	s.mu.Lock()

	if s.inflight[key] {
		if acc, ok := s.pending[key]; ok {
			upd = mergeUpdates(acc, upd)
		}

		s.pending[key] = upd
		s.mu.Unlock()
		return
	}

	s.inflight[key] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(key, upd)
}

// drain отправляет обновления по ключу, пока очередь не опустеет.
func (s *saver) drain(key string, upd Update) {
	defer s.wg.Done()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), timeoutSave)

		if _, err := s.backend.SaveAttempt(ctx, upd); err != nil {
			slog.Debug("autosave failed", "question", key, "err", err)
		}

		cancel()

		s.mu.Lock()

		next, ok := s.pending[key]
		if !ok {
			delete(s.inflight, key)
			s.mu.Unlock()
			return
		}

		delete(s.pending, key)
		s.mu.Unlock()

		upd = next
	}
}

// flush дожидается завершения всех сохранений в полёте.
func (s *saver) flush() {
	s.wg.Wait()
}

// mergeUpdates накладывает более новое обновление upd поверх
// накопленного acc. Дельты с разными полями дополняют друг друга,
// совпадающие поля берутся из upd.
func mergeUpdates(acc, upd Update) Update {
	merged := Update{
		QuizID:    upd.QuizID,
		Email:     upd.Email,
		Submitted: acc.Submitted || upd.Submitted,
	}

	if len(acc.Answers)+len(upd.Answers) > 0 {
		merged.Answers = make(map[string]Value, len(acc.Answers)+len(upd.Answers))

		for k, v := range acc.Answers {
			merged.Answers[k] = v
		}

		for k, v := range upd.Answers {
			merged.Answers[k] = v
		}
	}

	if len(acc.Progress)+len(upd.Progress) > 0 {
		merged.Progress = make(map[string]Progress, len(acc.Progress)+len(upd.Progress))

		for k, v := range acc.Progress {
			merged.Progress[k] = v
		}

		for k, v := range upd.Progress {
			merged.Progress[k] = v
		}
	}

	return merged
}
