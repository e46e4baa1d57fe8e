// Package sched abstrae los timers del pipeline: expiración de agregaciones,
// checks periódicos de riesgo y delays de copia. Devuelve handles de
// cancelación que son seguros de llamar varias veces y después de que la
// tarea ya haya disparado.
package sched

import (
	"sync"
	"time"
)

// CancelFunc cancela una tarea programada. Idempotente.
type CancelFunc func()

// Scheduler programa tareas una vez o de forma repetida.
type Scheduler interface {
	// After ejecuta fn una vez pasada la duración dada.
	After(d time.Duration, fn func()) CancelFunc

	// Every ejecuta fn cada intervalo hasta que se cancele.
	Every(d time.Duration, fn func()) CancelFunc

	// Now devuelve la hora actual del scheduler (inyectable en tests).
	Now() time.Time
}

// Real implementa Scheduler sobre los timers del runtime.
type Real struct{}

// NewReal devuelve el scheduler de producción.
func NewReal() *Real { return &Real{} }

func (r *Real) Now() time.Time { return time.Now().UTC() }

func (r *Real) After(d time.Duration, fn func()) CancelFunc {
	timer := time.AfterFunc(d, fn)
	var once sync.Once
	return func() {
		once.Do(func() { timer.Stop() })
	}
}

func (r *Real) Every(d time.Duration, fn func()) CancelFunc {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Fake es un scheduler determinista para tests: el tiempo solo avanza con
// Advance y las tareas disparan en el goroutine del test.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	next  int
	tasks map[int]*fakeTask
}

type fakeTask struct {
	at       time.Time
	interval time.Duration // 0 = one-shot
	fn       func()
	done     bool
}

// NewFake crea un scheduler falso anclado en el instante dado.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, tasks: make(map[int]*fakeTask)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration, fn func()) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.tasks[id] = &fakeTask{at: f.now.Add(d), fn: fn}
	return f.cancelFor(id)
}

func (f *Fake) Every(d time.Duration, fn func()) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.tasks[id] = &fakeTask{at: f.now.Add(d), interval: d, fn: fn}
	return f.cancelFor(id)
}

func (f *Fake) cancelFor(id int) CancelFunc {
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.tasks, id)
	}
}

// Advance mueve el reloj y dispara, en orden temporal, todas las tareas
// vencidas. Las tareas repetidas se reprograman.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var dueID = -1
		var dueAt time.Time
		for id, t := range f.tasks {
			if t.done || t.at.After(target) {
				continue
			}
			if dueID == -1 || t.at.Before(dueAt) {
				dueID, dueAt = id, t.at
			}
		}
		if dueID == -1 {
			f.now = target
			f.mu.Unlock()
			return
		}
		task := f.tasks[dueID]
		f.now = task.at
		if task.interval > 0 {
			task.at = task.at.Add(task.interval)
		} else {
			delete(f.tasks, dueID)
		}
		fn := task.fn
		f.mu.Unlock()

		fn() // fuera del lock: la tarea puede reprogramar o cancelar
	}
}

// Pending devuelve cuántas tareas siguen programadas.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}
