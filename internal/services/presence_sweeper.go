package services

import (
	"log"
	"sync"
	"time"

	"github.com/pharmagest/license-server/internal/store"
)

// PresenceSweeperService periodically marks active clients offline once they
// stop checking in. Desktop installations that lose connectivity never send a
// "goodbye", so presence decays by timeout.
type PresenceSweeperService struct {
	store          *store.LicenseStore
	staleThreshold time.Duration
	checkInterval  time.Duration
	stopChan       chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	isRunning      bool
}

// NewPresenceSweeperService creates the sweeper. staleMinutes controls how long
// a client stays "online" after its last check.
func NewPresenceSweeperService(st *store.LicenseStore, staleMinutes int) *PresenceSweeperService {
	if staleMinutes <= 0 {
		staleMinutes = 5
	}
	return &PresenceSweeperService{
		store:          st,
		staleThreshold: time.Duration(staleMinutes) * time.Minute,
		checkInterval:  1 * time.Minute,
		stopChan:       make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *PresenceSweeperService) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	log.Printf("PresenceSweeperService started (threshold: %v, interval: %v)",
		s.staleThreshold, s.checkInterval)
}

// Stop stops the sweep loop and waits for it to finish.
func (s *PresenceSweeperService) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("PresenceSweeperService stopped")
}

func (s *PresenceSweeperService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *PresenceSweeperService) sweep() {
	cutoff := time.Now().Add(-s.staleThreshold)
	count, err := s.store.SweepStaleClients(cutoff)
	if err != nil {
		log.Printf("PresenceSweeper: %v", err)
		return
	}
	if count > 0 {
		log.Printf("PresenceSweeper: marked %d clients offline (no check since %v)", count, cutoff)
	}
}
