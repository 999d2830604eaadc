package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tycoon/internal/catalog"
	"tycoon/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Announcer publishes notable game events (heist outcomes, syndicate
// payouts) outside the game.
type Announcer interface {
	Announce(ctx context.Context, message string) error
}

type Service struct {
	store     store.Store
	catalog   catalog.Catalog
	log       *slog.Logger
	clock     Clock
	chance    *Chance
	announcer Announcer
	locks     *keyedMutex
	arena     *arenaRegistry

	miningRate       decimal.Decimal
	arenaTick        time.Duration
	arenaIdleTimeout time.Duration
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithChance(c *Chance) Option {
	return func(s *Service) { s.chance = c }
}

func WithAnnouncer(a Announcer) Option {
	return func(s *Service) { s.announcer = a }
}

// WithMiningRate sets the BTC earned per TH/s of effective mining power on
// every mining tick.
func WithMiningRate(btcPerTHPerTick float64) Option {
	return func(s *Service) { s.miningRate = fromFloat(btcPerTHPerTick) }
}

func WithArenaTick(d time.Duration) Option {
	return func(s *Service) { s.arenaTick = d }
}

func WithArenaIdleTimeout(d time.Duration) Option {
	return func(s *Service) { s.arenaIdleTimeout = d }
}

func NewService(st store.Store, cat catalog.Catalog, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:            st,
		catalog:          cat,
		log:              logger,
		clock:            SystemClock{},
		chance:           NewChance(0),
		announcer:        nopAnnouncer{},
		locks:            newKeyedMutex(),
		arena:            newArenaRegistry(),
		miningRate:       fromFloat(0.0001),
		arenaTick:        ArenaTickEvery,
		arenaIdleTimeout: ArenaIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type nopAnnouncer struct{}

func (nopAnnouncer) Announce(context.Context, string) error { return nil }

func (s *Service) announce(ctx context.Context, msg string) {
	if err := s.announcer.Announce(ctx, msg); err != nil {
		s.log.Warn("announce failed", "err", err)
	}
}

type reader interface {
	Get(ctx context.Context, key string, out any) (int64, error)
	List(ctx context.Context, prefix string) ([]store.Record, error)
}

func accountKey(id string) string            { return "accounts/" + id }
func farmsPrefix(acct string) string         { return "farms/" + acct + "/" }
func farmKey(acct, id string) string         { return farmsPrefix(acct) + id }
func userQuestsPrefix(acct string) string    { return "userquests/" + acct + "/" }
func userQuestKey(acct, quest string) string { return userQuestsPrefix(acct) + quest }
func membershipKey(acct string) string       { return "memberships/" + acct }
func prisonKey(acct string) string           { return "prison/" + acct }
func companionKey(acct string) string        { return "companions/" + acct }
func txLogPrefix(acct string) string         { return "txlog/" + acct + "/" }
func weeklyPrefix(acct string) string        { return "weekly/" + acct + "/" }
func weeklyKey(acct, week string) string     { return weeklyPrefix(acct) + week }
func achievementKey(acct, id string) string  { return "achievements/" + acct + "/" + id }
func arenaResultsPrefix(acct string) string  { return "arena_results/" + acct + "/" }
func pendingArenaPrefix(acct string) string  { return "arena_pending/" + acct + "/" }
func pendingArenaKey(acct, id string) string { return pendingArenaPrefix(acct) + id }
func shadowAttacksPrefix(acct string) string { return "shadow_attacks/" + acct + "/" }
func neonMessagesPrefix(acct string) string  { return "neon_messages/" + acct + "/" }
func questKey(id string) string              { return "quests/" + id }
func syndicateKey(id string) string          { return "syndicates/" + id }
func itemKey(id string) string               { return "items/" + id }
func chatPrefix(syndicate string) string     { return "chat/" + syndicate + "/" }
func idempotencyKeyPath(acct, key string) string {
	return "idem/" + acct + "/" + key
}

const (
	accountsPrefix   = "accounts/"
	questsPrefix     = "quests/"
	syndicatesPrefix = "syndicates/"
	itemsPrefix      = "items/"
	heistKey         = "events/heist"
	marketKey        = "market/btc"
)

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// mutate runs fn as one serializable transaction for accountID, holding the
// account's in-process lock and claiming the idempotency key first. An empty
// key skips the claim; worker driven transitions have none.
func (s *Service) mutate(ctx context.Context, accountID, idemKey, action string, fn func(tx store.Tx) error) error {
	if accountID != "" {
		unlock := s.locks.lock(accountID)
		defer unlock()
	}
	err := store.Run(ctx, s.store, func(tx store.Tx) error {
		if err := claimIdempotency(ctx, tx, s.clock.Now(), accountID, idemKey, action); err != nil {
			return err
		}
		return fn(tx)
	})
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %s", ErrLostUpdate, action)
	}
	return err
}

type idempotencyClaim struct {
	Action    string    `json:"action"`
	ClaimedAt time.Time `json:"claimed_at"`
}

func claimIdempotency(ctx context.Context, tx store.Tx, now time.Time, accountID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" || accountID == "" {
		return nil
	}
	path := idempotencyKeyPath(accountID, key)
	_, err := tx.Get(ctx, path, nil)
	if err == nil {
		return ErrDuplicateIdempotency
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return tx.Put(ctx, path, idempotencyClaim{Action: action, ClaimedAt: now})
}

func getDoc[T any](ctx context.Context, r reader, key string) (T, error) {
	var out T
	if _, err := r.Get(ctx, key, &out); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return out, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return out, err
	}
	return out, nil
}

func listDocs[T any](ctx context.Context, r reader, prefix string) ([]T, error) {
	recs, err := r.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := rec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func loadAccount(ctx context.Context, r reader, id string) (Account, error) {
	acct, err := getDoc[Account](ctx, r, accountKey(id))
	if err != nil {
		return acct, err
	}
	if acct.MiningMultiplier.IsZero() {
		acct.MiningMultiplier = decimal.NewFromInt(1)
	}
	if acct.BuildCostMultiplier.IsZero() {
		acct.BuildCostMultiplier = decimal.NewFromInt(1)
	}
	return acct, nil
}

func loadMembership(ctx context.Context, r reader, accountID string) (Membership, bool, error) {
	m, err := getDoc[Membership](ctx, r, membershipKey(accountID))
	if errors.Is(err, ErrNotFound) {
		return Membership{}, false, nil
	}
	if err != nil {
		return Membership{}, false, err
	}
	return m, m.SyndicateID != "", nil
}

func loadPrison(ctx context.Context, r reader, accountID string, now time.Time) (PrisonStatus, error) {
	p, err := getDoc[PrisonStatus](ctx, r, prisonKey(accountID))
	if errors.Is(err, ErrNotFound) {
		return PrisonStatus{}, nil
	}
	if err != nil {
		return p, err
	}
	return ResolvePrison(p, now), nil
}

// ResolvePrison frees the prisoner once now reaches the release time.
func ResolvePrison(p PrisonStatus, now time.Time) PrisonStatus {
	if p.InPrison && !now.Before(p.PrisonEndTime) {
		return PrisonStatus{}
	}
	return p
}

func (s *Service) EnsurePlayer(ctx context.Context, userID, email, nickname string) (Account, error) {
	if strings.TrimSpace(userID) == "" {
		return Account{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || ValidateNickname(nickname) != nil {
		nickname = usernameFromEmail(email)
	}

	var out Account
	err := s.mutate(ctx, userID, "", "ensure_player", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, userID)
		if err == nil {
			out = acct
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		out = Account{
			ID:                  userID,
			Email:               strings.TrimSpace(strings.ToLower(email)),
			Nickname:            nickname,
			Avatar:              "icon1",
			BTCBalance:          StarterBTC,
			USDBalance:          StarterUSD,
			MiningPower:         decimal.Zero,
			MiningMultiplier:    decimal.NewFromInt(1),
			BuildCostMultiplier: decimal.NewFromInt(1),
			TotalMinedBTC:       decimal.Zero,
			LargestTransaction:  decimal.Zero,
			Items:               []string{},
			CreatedAt:           s.clock.Now(),
		}
		return tx.Put(ctx, accountKey(userID), out)
	})
	return out, err
}

// SeedDefaults writes the catalog's global documents and the initial market
// price. Documents that already exist are left alone.
func (s *Service) SeedDefaults(ctx context.Context) error {
	docs := map[string]any{}
	for _, q := range s.catalog.Quests {
		docs[questKey(q.ID)] = Quest{
			ID:          q.ID,
			Name:        q.Name,
			Description: q.Description,
			Type:        QuestType(q.Type),
			Target:      fromFloat(q.Target),
			Reward:      Reward{BTC: fromFloat(q.Reward.BTC), MiningPower: fromFloat(q.Reward.MiningPower)},
		}
	}
	for _, sy := range s.catalog.Syndicates {
		docs[syndicateKey(sy.ID)] = Syndicate{
			ID:          sy.ID,
			Name:        sy.Name,
			Description: sy.Description,
			Goal:        SyndicateGoal{Type: sy.GoalType, Target: fromFloat(sy.GoalTarget)},
			Progress:    decimal.Zero,
			Reward:      Reward{BTC: fromFloat(sy.Reward.BTC), MiningPower: fromFloat(sy.Reward.MiningPower)},
			Members:     []string{},
		}
	}
	for _, it := range s.catalog.Items {
		docs[itemKey(it.ID)] = Item{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Price:       fromFloat(it.Price),
			Effect:      ItemEffect{Type: it.EffectType, Value: fromFloat(it.EffectValue)},
		}
	}
	now := s.clock.Now()
	docs[marketKey] = MarketState{
		Price:     InitialBTCPrice,
		UpdatedAt: now,
		History:   []PricePoint{{At: now, Price: InitialBTCPrice}},
	}
	docs[heistKey] = NewHeistEvent(now)

	for key, doc := range docs {
		if _, err := s.store.Swap(ctx, key, 0, doc); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	return nil
}

func (s *Service) Dashboard(ctx context.Context, accountID string) (Dashboard, error) {
	var out Dashboard
	now := s.clock.Now()
	acct, err := loadAccount(ctx, s.store, accountID)
	if err != nil {
		return out, err
	}
	farms, err := loadFarms(ctx, s.store, accountID, now)
	if err != nil {
		return out, err
	}
	out.Account = acct
	out.EffectiveMiningPower = EffectiveMiningPower(acct, farms)
	out.Farms = farmViews(farms, now)

	market, err := getDoc[MarketState](ctx, s.store, marketKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return out, err
	}
	out.BTCPrice = market.Price
	if out.BTCPrice.IsZero() {
		out.BTCPrice = InitialBTCPrice
	}

	if out.Prison, err = loadPrison(ctx, s.store, accountID, now); err != nil {
		return out, err
	}
	m, ok, err := loadMembership(ctx, s.store, accountID)
	if err != nil {
		return out, err
	}
	if ok {
		out.SyndicateID = m.SyndicateID
	}
	return out, nil
}

// EffectiveMiningPower is (base + active farms) scaled by the account's
// mining multiplier. Farms must already be resolved.
func EffectiveMiningPower(acct Account, farms []Farm) decimal.Decimal {
	total := acct.MiningPower.Add(farmPower(farms))
	mult := acct.MiningMultiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return total.Mul(mult)
}

func (s *Service) ListAccountIDs(ctx context.Context) ([]string, error) {
	recs, err := s.store.List(ctx, accountsPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, strings.TrimPrefix(rec.Key, accountsPrefix))
	}
	return out, nil
}

// keyedMutex serializes work per key inside one process. Entries are dropped
// once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedEntry{}}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
