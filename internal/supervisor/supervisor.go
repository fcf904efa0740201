// Package supervisor runs one indexer goroutine per configured chain,
// restarting a crashed chain task without affecting the others.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/chainrpc"
	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/indexer"
	"github.com/csic/platform/chainwatch-indexer/internal/pipeline"
	"github.com/csic/platform/chainwatch-indexer/internal/store"
)

// restartBackoff is how long the supervisor waits before restarting a
// chain task after it returns an error or panics.
const restartBackoff = 5 * time.Second

// ChainStatus reports the last-known state of one chain's indexer task,
// read by the health API.
type ChainStatus struct {
	Chain      string
	Healthy    bool
	LastError  string
	Restarts   int
	LastUpdate time.Time
}

// Supervisor owns one goroutine per configured chain.
type Supervisor struct {
	db       *store.Store
	pipeline *pipeline.Pipeline
	logger   *zap.Logger

	mu     sync.RWMutex
	status map[string]ChainStatus
}

// New constructs a supervisor bound to the shared storage and enrichment
// pipeline every chain task feeds into.
func New(db *store.Store, pl *pipeline.Pipeline, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		db:       db,
		pipeline: pl,
		logger:   logger,
		status:   make(map[string]ChainStatus),
	}
}

// Run starts one task per chain and blocks until ctx is cancelled and
// every task has returned.
func (s *Supervisor) Run(ctx context.Context, chains []config.ChainConfig) {
	var wg sync.WaitGroup
	for _, chain := range chains {
		wg.Add(1)
		go func(chain config.ChainConfig) {
			defer wg.Done()
			s.runChain(ctx, chain)
		}(chain)
	}
	wg.Wait()
}

// runChain dials the chain's RPC client and restarts Indexer.Run on any
// error or panic, until ctx is cancelled.
func (s *Supervisor) runChain(ctx context.Context, chain config.ChainConfig) {
	restarts := 0
	for ctx.Err() == nil {
		err := s.runOnce(ctx, chain)
		if ctx.Err() != nil {
			return
		}

		restarts++
		s.setStatus(chain.Name, false, errString(err), restarts)
		s.logger.Error("chain task exited, restarting",
			zap.String("chain", chain.Name), zap.Int("restarts", restarts), zap.Error(err))

		select {
		case <-time.After(restartBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, chain config.ChainConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chain task panic: %v", r)
		}
	}()

	client, dialErr := chainrpc.Dial(ctx, chain.RPCHTTP)
	if dialErr != nil {
		return fmt.Errorf("dial rpc: %w", dialErr)
	}
	defer client.Close()

	s.setStatus(chain.Name, true, "", 0)

	ix := indexer.New(chain, client, s.db, s.pipeline, s.logger)
	if runErr := ix.Run(ctx); runErr != nil {
		return runErr
	}
	return nil
}

func (s *Supervisor) setStatus(chain string, healthy bool, lastError string, restarts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status[chain]
	if restarts == 0 {
		restarts = prev.Restarts
	}
	s.status[chain] = ChainStatus{
		Chain:      chain,
		Healthy:    healthy,
		LastError:  lastError,
		Restarts:   restarts,
		LastUpdate: time.Now(),
	}
}

// Status returns a snapshot of every chain's last-known state.
func (s *Supervisor) Status() []ChainStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChainStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, st)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
