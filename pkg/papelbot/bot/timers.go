// timers.go define o serviço de timers de sessão: callbacks atrasados com
// handle cancelável, usados para a expiração do atendimento humano e para as
// notificações de acompanhamento pós-upload. Os handles pertencem à sessão
// e são cancelados quando superados.
package bot

import (
	"sync"
	"time"
)

// TimerHandle identifica um timer agendado.
type TimerHandle uint64

// TimerService agenda callbacks únicos com atraso e permite cancelá-los.
type TimerService interface {
	// ScheduleOnce executa fn após d. O callback roda em goroutine própria.
	ScheduleOnce(d time.Duration, fn func()) TimerHandle

	// Cancel impede a execução do timer, se ainda não disparou.
	// Cancelar um handle desconhecido é um no-op.
	Cancel(h TimerHandle)
}

// WallTimers implementa TimerService sobre time.AfterFunc.
type WallTimers struct {
	mu     sync.Mutex
	next   TimerHandle
	timers map[TimerHandle]*time.Timer
}

// NewWallTimers cria o serviço de timers de produção.
func NewWallTimers() *WallTimers {
	return &WallTimers{timers: make(map[TimerHandle]*time.Timer)}
}

// ScheduleOnce agenda fn para d no futuro.
func (w *WallTimers) ScheduleOnce(d time.Duration, fn func()) TimerHandle {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next++
	h := w.next
	w.timers[h] = time.AfterFunc(d, func() {
		w.mu.Lock()
		delete(w.timers, h)
		w.mu.Unlock()
		fn()
	})
	return h
}

// Cancel para o timer se ele ainda não disparou.
func (w *WallTimers) Cancel(h TimerHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[h]; ok {
		t.Stop()
		delete(w.timers, h)
	}
}

// Stop cancela todos os timers pendentes (shutdown).
func (w *WallTimers) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for h, t := range w.timers {
		t.Stop()
		delete(w.timers, h)
	}
}
