package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/statefold/internal/cache"
	"github.com/roach88/statefold/internal/ir"
)

// pendingCheckpoint is an encoded checkpoint waiting for the quiet period.
type pendingCheckpoint struct {
	block uint64
	data  []byte
}

// persister owns debounced checkpoint writes for one projection.
//
// The fold goroutine calls schedule; a single writer goroutine owns the timer
// and performs every cache write, so writes never overlap. The pending cell
// holds one checkpoint: scheduling replaces it.
type persister struct {
	cache        cache.Cache
	key          string
	debounce     time.Duration
	maxWait      time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *boundMetrics

	mu          sync.Mutex
	pending     *pendingCheckpoint
	burstStart  time.Time
	lastWritten uint64
	wrote       bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newPersister(c cache.Cache, key string, o *options, metrics *boundMetrics) *persister {
	p := &persister{
		cache:        c,
		key:          key,
		debounce:     o.debounce,
		maxWait:      o.maxWait,
		writeTimeout: o.writeTimeout,
		logger:       o.logger,
		metrics:      metrics,
		kick:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go p.run()
	return p
}

// schedule replaces the pending checkpoint and restarts the quiet period.
func (p *persister) schedule(block uint64, state []byte) error {
	data, err := ir.EncodeCheckpoint(ir.Checkpoint{State: state, BlockNumber: block})
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.pending == nil {
		p.burstStart = time.Now()
	}
	p.pending = &pendingCheckpoint{block: block, data: data}
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
	return nil
}

func (p *persister) run() {
	defer close(p.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-p.stop:
			return

		case <-p.kick:
			delay := p.delay()
			if delay <= 0 {
				fire = nil
				p.flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			p.flush()
		}
	}
}

// delay is the time until the pending checkpoint should be written: the
// debounce interval, capped so a continuous burst never postpones a write
// beyond maxWait.
func (p *persister) delay() time.Duration {
	delay := p.debounce
	if p.maxWait <= 0 {
		return delay
	}

	p.mu.Lock()
	start := p.burstStart
	p.mu.Unlock()

	if remaining := time.Until(start.Add(p.maxWait)); remaining < delay {
		delay = remaining
	}
	return delay
}

// flush writes the pending checkpoint, if any. Only the writer goroutine and
// close (after the writer has exited) call flush.
func (p *persister) flush() {
	p.mu.Lock()
	pc := p.pending
	p.pending = nil
	p.mu.Unlock()

	if pc == nil {
		return
	}

	if p.wrote && pc.block < p.lastWritten {
		p.logger.Debug("checkpoint skipped: older than last write",
			"block", pc.block,
			"last_written", p.lastWritten,
		)
		p.metrics.recordWrite(writeSkipped)
		return
	}

	ctx := context.Background()
	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}

	p.wrote = true
	p.lastWritten = pc.block

	if err := p.cache.Set(ctx, p.key, pc.data); err != nil {
		p.logger.Warn("checkpoint write failed",
			"key", p.key,
			"block", pc.block,
			"error", err,
		)
		p.metrics.recordWrite(writeFailed)
		return
	}

	p.logger.Debug("checkpoint written", "key", p.key, "block", pc.block)
	p.metrics.recordWrite(writeOK)
	p.metrics.setCheckpointBlock(pc.block)
}

// close stops the writer goroutine. With flush the pending checkpoint is
// written first; otherwise it is discarded.
func (p *persister) close(flush bool) {
	p.once.Do(func() {
		close(p.stop)
		<-p.done

		if flush {
			p.flush()
			return
		}

		p.mu.Lock()
		dropped := p.pending != nil
		p.pending = nil
		p.mu.Unlock()
		if dropped {
			p.logger.Debug("pending checkpoint discarded", "key", p.key)
		}
	})
}
