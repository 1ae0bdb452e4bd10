package gedauth

import (
	"context"
	"errors"
	"sync"

	"github.com/ged-ministere/gedauth/crypto"
)

// ==================== PASSWORD HASH POOL ====================

var errHashPoolStopped = errors.New("gedauth: hash pool stopped")

// hashPool runs Argon2id on a fixed set of workers so a burst of logins
// cannot pin every CPU. A hash that has started always runs to completion;
// callers stop waiting when their context ends.
type hashPool struct {
	jobs    chan hashJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	params  crypto.PasswordParams
	metrics *Metrics
}

type hashJob struct {
	password string
	salt     []byte
	result   chan []byte
}

func newHashPool(workers, queueSize int, params crypto.PasswordParams, metrics *Metrics) *hashPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &hashPool{
		jobs:    make(chan hashJob, queueSize),
		stopCh:  make(chan struct{}),
		running: true,
		params:  params,
		metrics: metrics,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Hash computes the Argon2id hash of password with salt.
func (p *hashPool) Hash(ctx context.Context, password string, salt []byte) ([]byte, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil, errHashPoolStopped
	}
	p.mu.Unlock()

	job := hashJob{password: password, salt: salt, result: make(chan []byte, 1)}
	select {
	case p.jobs <- job:
	case <-p.stopCh:
		return nil, errHashPoolStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case hash := <-job.result:
		return hash, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Verify hashes password and compares it with hash in constant time.
func (p *hashPool) Verify(ctx context.Context, password string, hash, salt []byte) (bool, error) {
	candidate, err := p.Hash(ctx, password, salt)
	if err != nil {
		return false, err
	}
	return crypto.ConstantTimeEquals(candidate, hash), nil
}

// Stop lets queued hashes finish, then stops the workers.
func (p *hashPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *hashPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			// Drain remaining jobs before stopping
			for {
				select {
				case job := <-p.jobs:
					p.process(job)
				default:
					return
				}
			}
		case job := <-p.jobs:
			p.process(job)
		}
	}
}

func (p *hashPool) process(job hashJob) {
	job.result <- crypto.HashPassword(job.password, job.salt, p.params)
	p.metrics.passwordHashes.Add(1)
}
