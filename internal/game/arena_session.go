package game

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tycoon/internal/store"
)

const (
	ArenaSelectBonus = "select_bonus"
	ArenaStartWave   = "start_wave"
	ArenaLaser       = "laser"
	ArenaOverclock   = "overclock"
	ArenaHackShield  = "hack_shield"
	ArenaPickUp      = "pick_up"
	ArenaQuit        = "quit"

	arenaFlushTimeout = 10 * time.Second
)

type ArenaCommand struct {
	Action    string `json:"action"`
	Bonus     string `json:"bonus,omitempty"`
	PowerUpID string `json:"power_up_id,omitempty"`
}

type arenaSession struct {
	accountID string

	mu        sync.Mutex
	run       ArenaRun
	prepSince time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (sess *arenaSession) halt() {
	sess.stopOnce.Do(func() { close(sess.stop) })
}

type arenaRegistry struct {
	mu       sync.Mutex
	sessions map[string]*arenaSession
	closed   bool
	wg       sync.WaitGroup
}

func newArenaRegistry() *arenaRegistry {
	return &arenaRegistry{sessions: map[string]*arenaSession{}}
}

// reserve claims the account's session slot. The slot holds a nil session
// until the entry fee is paid. Every successful reserve is paired with one
// release.
func (r *arenaRegistry) reserve(accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("%w: arena is shutting down", ErrNotEligible)
	}
	if _, ok := r.sessions[accountID]; ok {
		return fmt.Errorf("%w: arena run already in progress", ErrAlreadyInState)
	}
	r.sessions[accountID] = nil
	r.wg.Add(1)
	return nil
}

func (r *arenaRegistry) release(accountID string) {
	r.mu.Lock()
	delete(r.sessions, accountID)
	r.mu.Unlock()
	r.wg.Done()
}

// attach fills a reserved slot. A session attached after shutdown began is
// halted right away so its run is still flushed.
func (r *arenaRegistry) attach(sess *arenaSession) {
	r.mu.Lock()
	r.sessions[sess.accountID] = sess
	closed := r.closed
	r.mu.Unlock()
	if closed {
		sess.halt()
	}
}

func (r *arenaRegistry) close() []*arenaSession {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.all()
}

func (r *arenaRegistry) get(accountID string) (*arenaSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[accountID]
	if sess == nil {
		return nil, fmt.Errorf("%w: no arena run in progress", ErrNotFound)
	}
	return sess, nil
}

func (r *arenaRegistry) all() []*arenaSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*arenaSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess != nil {
			out = append(out, sess)
		}
	}
	return out
}

// StartArena pays the entry fee, starts the arena cooldown and hands the run
// to a session goroutine ticking every arena tick.
func (s *Service) StartArena(ctx context.Context, accountID, idem string) (ArenaRun, error) {
	if err := s.arena.reserve(accountID); err != nil {
		return ArenaRun{}, err
	}
	var companion Companion
	_, err := s.companionAction(ctx, accountID, idem, "arena_start", func(c Companion, acct Account, now time.Time) (Companion, Account, string, error) {
		if now.Before(c.CyberArenaCooldown) {
			return c, acct, "", fmt.Errorf("%w: arena is on cooldown until %s", ErrNotEligible, c.CyberArenaCooldown.Format(time.RFC3339))
		}
		if c.Shards < ArenaEntryShards {
			return c, acct, "", fmt.Errorf("%w: arena entry needs %d shards, have %d", ErrInsufficientShards, ArenaEntryShards, c.Shards)
		}
		c.Shards -= ArenaEntryShards
		c.CyberArenaCooldown = now.Add(ArenaCooldown)
		companion = c
		return c, acct, "Welcome to the Cyber Arena, human! Choose a bonus before the battle begins!", nil
	})
	if err != nil {
		s.arena.release(accountID)
		return ArenaRun{}, err
	}

	sess := &arenaSession{
		accountID: accountID,
		run:       NewArenaRun(companion.HasBonus(BonusOverclock), companion.HasBonus(BonusHackShield)),
		prepSince: s.clock.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.arena.attach(sess)
	go s.runArena(sess)
	s.log.Info("arena run started", "account_id", accountID)
	return sess.snapshot(), nil
}

func (s *Service) runArena(sess *arenaSession) {
	defer close(sess.done)

	ticker := time.NewTicker(s.arenaTick)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stop:
			sess.mu.Lock()
			sess.run.Abandon()
			sess.mu.Unlock()
		case <-ticker.C:
			sess.mu.Lock()
			switch sess.run.Phase {
			case ArenaActive:
				sess.run.Tick()
				if sess.run.Phase == ArenaPreparation {
					sess.prepSince = s.clock.Now()
				}
			case ArenaPreparation:
				if s.clock.Now().Sub(sess.prepSince) > s.arenaIdleTimeout {
					sess.run.Abandon()
				}
			}
			sess.mu.Unlock()
		}

		sess.mu.Lock()
		terminal := sess.run.Terminal()
		final := sess.run.Snapshot()
		sess.mu.Unlock()
		if terminal {
			s.flushArena(sess.accountID, final)
			s.arena.release(sess.accountID)
			return
		}
	}
}

// flushArena persists the run's rewards and result record in one
// transaction once the run is over. A flush that cannot commit is parked as
// a pending result for maintenance to settle.
func (s *Service) flushArena(accountID string, run ArenaRun) {
	ctx, cancel := context.WithTimeout(context.Background(), arenaFlushTimeout)
	defer cancel()

	result := ArenaResult{
		ID:             newID(),
		Outcome:        run.Phase,
		WavesCompleted: run.WavesCompleted,
		Rewards:        run.Rewards,
		Timestamp:      s.clock.Now(),
	}
	err := s.mutate(ctx, accountID, "", "arena_flush", func(tx store.Tx) error {
		return settleArenaTx(ctx, tx, accountID, result)
	})
	if err == nil {
		s.log.Info("arena run finished", "account_id", accountID, "outcome", run.Phase, "waves", run.WavesCompleted)
		return
	}
	s.log.Warn("arena flush failed, parking result", "account_id", accountID, "result_id", result.ID, "err", err)
	if _, perr := s.store.Put(ctx, pendingArenaKey(accountID, result.ID), result); perr != nil {
		s.log.Error("arena result lost", "account_id", accountID, "result_id", result.ID, "err", perr)
	}
}

func settleArenaTx(ctx context.Context, tx store.Tx, accountID string, result ArenaResult) error {
	acct, err := loadAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}
	c, err := loadCompanion(ctx, tx, accountID)
	if err != nil {
		return err
	}
	acct.BTCBalance = acct.BTCBalance.Add(result.Rewards.BTC)
	for _, item := range result.Rewards.Items {
		if !acct.HasItem(item) {
			acct.Items = append(acct.Items, item)
		}
	}
	c.Shards += result.Rewards.Shards
	if err := tx.Put(ctx, accountKey(accountID), acct); err != nil {
		return err
	}
	if err := tx.Put(ctx, companionKey(accountID), c); err != nil {
		return err
	}
	text := fmt.Sprintf("Arena run over after %d waves. Rewards: %s BTC, %d shards.", result.WavesCompleted, result.Rewards.BTC, result.Rewards.Shards)
	if result.Outcome == ArenaComplete {
		text = fmt.Sprintf("Cyber Arena completed! Rewards: %s BTC, %d shards, %s.", result.Rewards.BTC, result.Rewards.Shards, strings.Join(result.Rewards.Items, ", "))
	}
	if _, err := putNeonMessage(ctx, tx, accountID, MessageReaction, text, result.Timestamp); err != nil {
		return err
	}
	return tx.Put(ctx, arenaResultsPrefix(accountID)+result.ID, result)
}

func (s *Service) settlePendingArena(ctx context.Context, accountID string) (int, error) {
	pending, err := listDocs[ArenaResult](ctx, s.store, pendingArenaPrefix(accountID))
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, result := range pending {
		key := pendingArenaKey(accountID, result.ID)
		gone := false
		err := s.mutate(ctx, accountID, "", "arena_settle", func(tx store.Tx) error {
			gone = false
			if _, err := getDoc[ArenaResult](ctx, tx, key); isNotFound(err) {
				gone = true
				return nil
			} else if err != nil {
				return err
			}
			if err := settleArenaTx(ctx, tx, accountID, result); err != nil {
				return err
			}
			return tx.Delete(ctx, key)
		})
		if err != nil {
			return settled, err
		}
		if !gone {
			settled++
		}
	}
	return settled, nil
}

func (sess *arenaSession) snapshot() ArenaRun {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.run.Snapshot()
}

func (s *Service) ArenaCommand(ctx context.Context, accountID string, cmd ArenaCommand) (ArenaRun, error) {
	sess, err := s.arena.get(accountID)
	if err != nil {
		return ArenaRun{}, err
	}
	if cmd.Action == ArenaQuit {
		sess.halt()
		select {
		case <-sess.done:
		case <-ctx.Done():
			return ArenaRun{}, ctx.Err()
		}
		return sess.snapshot(), nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.run.Terminal() {
		return sess.run.Snapshot(), fmt.Errorf("%w: arena run is over", ErrNotEligible)
	}
	switch cmd.Action {
	case ArenaSelectBonus:
		err = sess.run.SelectBonus(strings.TrimSpace(cmd.Bonus))
	case ArenaStartWave:
		err = sess.run.StartWave(s.chance.Source(StreamDrone), s.chance.Source(StreamPowerUp))
	case ArenaLaser:
		err = sess.run.Laser()
	case ArenaOverclock:
		err = sess.run.Overclock()
	case ArenaHackShield:
		err = sess.run.HackShield()
	case ArenaPickUp:
		err = sess.run.PickUp(strings.TrimSpace(cmd.PowerUpID))
	default:
		err = fmt.Errorf("%w: unknown arena action %q", ErrInvalidInput, cmd.Action)
	}
	return sess.run.Snapshot(), err
}

func (s *Service) ArenaState(ctx context.Context, accountID string) (ArenaRun, error) {
	sess, err := s.arena.get(accountID)
	if err != nil {
		return ArenaRun{}, err
	}
	return sess.snapshot(), nil
}

func (s *Service) ListArenaResults(ctx context.Context, accountID string) ([]ArenaResult, error) {
	results, err := listDocs[ArenaResult](ctx, s.store, arenaResultsPrefix(accountID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Timestamp.After(results[j].Timestamp) })
	return results, nil
}

// Shutdown abandons every running arena session and waits until their
// results are flushed.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, sess := range s.arena.close() {
		sess.halt()
	}
	done := make(chan struct{})
	go func() {
		s.arena.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
