package review

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/apperr"
	"stealthcompany.com/snsreview/internal/metrics"
)

// command is a unit of work executed on a review's worker goroutine
type command struct {
	name  string
	run   func(r *Record) ([]Effect, error)
	reply chan error
}

// worker is the single writer of one Record. Every mutation, and every
// decision to arm or disarm the rejection timer, happens on its goroutine.
type worker struct {
	svc       *Service
	id        string
	room      string
	messageID string

	rec     *Record
	retired bool
	view    atomic.Pointer[View]

	inbox  chan command
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Service) startWorker(rec *Record) *worker {
	ctx, cancel := context.WithCancel(s.ctx)
	w := &worker{
		svc:       s,
		id:        rec.ID,
		room:      rec.Room,
		messageID: rec.MessageID,
		rec:       rec,
		inbox:     make(chan command),
		ctx:       ctx,
		cancel:    cancel,
	}
	w.publishSnapshot()
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer func() {
		log.Debug().Str("review", w.id).Msg("Review worker stopped")
	}()

	for {
		select {
		case <-w.ctx.Done():
			w.stopTimer()
			return
		case cmd := <-w.inbox:
			cmd.reply <- w.handle(cmd)
		}
	}
}

// submit runs cmd on the worker and waits for its result
func (w *worker) submit(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case w.inbox <- cmd:
	case <-w.ctx.Done():
		return apperr.Stale("review %s is closed", w.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-cmd.reply
}

func (w *worker) handle(cmd command) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("review", w.id).
				Str("command", cmd.name).
				Interface("panic", p).
				Msg("Review worker panicked, dropping review")
			err = fmt.Errorf("review %s: %s panicked: %v", w.id, cmd.name, p)
			w.retired = true
			w.stopTimer()
			if w.svc.registry.remove(w) {
				metrics.SetLiveReviews(w.svc.registry.Len())
			}
			w.cancel()
		}
	}()

	if w.retired {
		return apperr.Stale("review %s is closed", w.id)
	}

	effects, err := cmd.run(w.rec)
	w.publishSnapshot()
	w.apply(effects)
	return err
}

func (w *worker) apply(effects []Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case Render:
			w.svc.render(w.snapshot())
		case Announce:
			w.svc.announce(w.room, e.Notice)
		case ScheduleFinalization:
			w.schedule(e)
		case CancelFinalization:
			w.stopTimer()
			metrics.RecordRejectionCancelled()
			log.Info().Str("review", w.id).Msg("Pending rejection cancelled")
		case DeleteStatus:
			w.svc.deleteStatus(w.room, w.messageID)
		case Retire:
			w.retire(e.Outcome)
		}
	}
}

func (w *worker) schedule(e ScheduleFinalization) {
	w.stopTimer()
	episode := e.Episode
	w.rec.timer = w.svc.clock.AfterFunc(e.Delay, func() {
		w.finalize(episode)
	})
	log.Info().
		Str("review", w.id).
		Uint64("episode", episode).
		Time("deadline", w.rec.Deadline).
		Msg("Rejection finalization scheduled")
}

// finalize is called from the timer goroutine
func (w *worker) finalize(episode uint64) {
	err := w.submit(context.Background(), command{
		name: "finalize",
		run: func(r *Record) ([]Effect, error) {
			return w.svc.machine.Finalize(r, episode), nil
		},
	})
	if err != nil && !errors.Is(err, apperr.ErrStaleEvent) {
		log.Error().Err(err).Str("review", w.id).Msg("Rejection finalization failed")
	}
}

func (w *worker) stopTimer() {
	if w.rec.timer != nil {
		w.rec.timer.Stop()
		w.rec.timer = nil
	}
}

func (w *worker) retire(o Outcome) {
	w.retired = true
	w.stopTimer()
	if w.svc.registry.remove(w) {
		metrics.SetLiveReviews(w.svc.registry.Len())
	}
	w.svc.archive(w.snapshot(), o)
	w.cancel()

	log.Info().
		Str("review", w.id).
		Str("outcome", string(o)).
		Msg("Review retired")
}

func (w *worker) publishSnapshot() {
	v := w.rec.view(w.svc.machine.RequiredApprovals)
	w.view.Store(&v)
}

func (w *worker) snapshot() View {
	return *w.view.Load()
}
