package main

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/anycall-protocol/go-anycall/engine"
	"github.com/anycall-protocol/go-anycall/journal"
)

// relayLoop is the trusted operator: it carries call intents from the source
// journal to the destination engine and turns observed execution failures
// into automatic fallback attempts on the source side.
type relayLoop struct {
	src, dst *node
	relayer  common.Address
	interval time.Duration

	cursor uint64
	quit   chan struct{}
	done   chan struct{}
}

func newRelayLoop(src, dst *node, relayer common.Address, interval time.Duration) (*relayLoop, error) {
	if interval <= 0 {
		interval = time.Second
	}
	// The cursor is durable: a restarted daemon resumes where it stopped
	// instead of replaying the whole source journal.
	cursor, err := dst.store.Cursor()
	if err != nil {
		return nil, err
	}
	return &relayLoop{
		src:      src,
		dst:      dst,
		relayer:  relayer,
		interval: interval,
		cursor:   cursor,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (r *relayLoop) run() {
	defer close(r.done)

	// Failures on the destination feed the fallback path on the source.
	failures := make(chan engine.ExecResultEvent, 64)
	sub := r.dst.engine.SubscribeExecResults(failures)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case ev := <-failures:
			if ev.Success {
				continue
			}
			if err := r.src.engine.AutoFallback(r.relayer, ev.Args, ev.Result); err != nil {
				log.Warn("Auto fallback rejected", "id", ev.ID, "err", err)
			}
		case <-ticker.C:
			r.drain()
		}
	}
}

// drain submits every call intent appended since the last poll.
func (r *relayLoop) drain() {
	last := r.src.journal.LastIndex()
	for r.cursor < last {
		rec, err := r.src.journal.Read(r.cursor + 1)
		if err != nil {
			log.Error("Journal read failed", "index", r.cursor+1, "err", err)
			return
		}
		r.cursor++
		if rec.Kind == journal.KindCallIntent {
			args := rec.Args
			if err := r.dst.engine.AnyExec(r.relayer, &args); err != nil {
				log.Warn("Execution rejected", "id", rec.ID, "err", err)
			}
		}
		if err := r.dst.store.PutCursor(r.cursor); err != nil {
			log.Error("Cursor write failed", "index", r.cursor, "err", err)
		}
	}
}

func (r *relayLoop) stop() {
	close(r.quit)
	<-r.done
}
