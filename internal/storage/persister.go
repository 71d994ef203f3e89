package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/noughts/internal/domain"
)

const writeTimeout = 5 * time.Second

type write struct {
	game   *domain.Game
	player *domain.PlayerRecord
}

// Persister queues mirror writes and applies them on one background
// goroutine, in the order they were queued. Save calls never block: when
// the queue is full the write is dropped and logged.
type Persister struct {
	backend Backend
	queue   chan write

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPersister starts the writer goroutine. Close must be called to drain
// the queue.
func NewPersister(backend Backend, queueSize int) *Persister {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Persister{
		backend: backend,
		queue:   make(chan write, queueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Persister) run() {
	defer p.wg.Done()
	for w := range p.queue {
		p.apply(w)
	}
}

func (p *Persister) apply(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch {
	case w.game != nil:
		if err := p.backend.UpsertGame(ctx, *w.game); err != nil {
			log.Error().Err(err).Str("game", w.game.ID).Msg("mirror game")
		}
	case w.player != nil:
		if err := p.backend.UpsertPlayer(ctx, *w.player); err != nil {
			log.Error().Err(err).Str("player", w.player.PlayerName).Msg("mirror player")
		}
	}
}

func (p *Persister) enqueue(w write) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- w:
	default:
		ev := log.Warn().Int("queue", cap(p.queue))
		if w.game != nil {
			ev = ev.Str("game", w.game.ID)
		} else {
			ev = ev.Str("player", w.player.PlayerName)
		}
		ev.Msg("mirror queue full, dropping write")
	}
}

// SaveGame queues a session snapshot
func (p *Persister) SaveGame(game domain.Game) {
	p.enqueue(write{game: &game})
}

// SavePlayer queues a player record
func (p *Persister) SavePlayer(rec domain.PlayerRecord) {
	p.enqueue(write{player: &rec})
}

// Close stops accepting writes, waits for queued ones to finish and closes
// the backend.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.backend.Close()
}
