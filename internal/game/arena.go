package game

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ArenaPhase string

const (
	ArenaIdle        ArenaPhase = "idle"
	ArenaPreparation ArenaPhase = "preparation"
	ArenaActive      ArenaPhase = "active"
	ArenaComplete    ArenaPhase = "complete"
	ArenaFailed      ArenaPhase = "failed"
)

const (
	DroneFast    = "fast"
	DroneArmored = "armored"
	DroneSuicide = "suicide"

	PowerUpAreaBlast = "areaBlast"
	PowerUpTimeSlow  = "timeSlow"
	PowerUpHPBoost   = "hpBoost"

	ArenaBonusDamage = "damageBoost"
	ArenaBonusSpeed  = "speedBoost"
	ArenaBonusRegen  = "hpRegen"
	ArenaBonusNone   = "none"
)

const (
	ArenaTickEvery   = 100 * time.Millisecond
	ArenaIdleTimeout = 5 * time.Minute
	ArenaEntryShards = 10
	ArenaCooldown    = 24 * time.Hour
	ArenaWaves       = 3

	MaxCoreHP       = 100.0
	LaneEnd         = 100.0
	laserDamage     = 5.0
	hpRegenPerTick  = 0.5
	hackShieldHeal  = 20.0
	hpBoostHeal     = 30.0
	powerUpLaneSpan = 80.0

	// Durations in ticks at 10 ticks per second.
	laserCooldownTicks     = 20
	overclockLaserTicks    = 10
	overclockActiveTicks   = 100
	overclockCooldownTicks = 300
	hackShieldCooldownTick = 300
	timeSlowTicks          = 50
)

var waveDroneCounts = [ArenaWaves]int{5, 8, 10}

var (
	waveRewardBTC     = decimal.NewFromInt(10)
	waveRewardShards  = int64(5)
	finalRewardBTC    = decimal.NewFromInt(50)
	finalRewardShards = int64(10)
)

type Drone struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	HP       float64 `json:"hp"`
	Speed    float64 `json:"speed"`
	Damage   float64 `json:"damage"`
	Position float64 `json:"position"`
}

type PowerUp struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Position float64 `json:"position"`
}

type ArenaRewards struct {
	BTC    decimal.Decimal `json:"btc"`
	Shards int64           `json:"shards"`
	Items  []string        `json:"items"`
}

// ArenaRun is one in-memory arena session. It never performs I/O; the
// session owner flushes Rewards once the run is terminal.
type ArenaRun struct {
	Phase             ArenaPhase   `json:"phase"`
	Wave              int          `json:"wave"`
	CoreHP            float64      `json:"core_hp"`
	Drones            []Drone      `json:"drones"`
	PowerUps          []PowerUp    `json:"power_ups"`
	Bonus             string       `json:"bonus,omitempty"`
	WavesCompleted    int          `json:"waves_completed"`
	Rewards           ArenaRewards `json:"rewards"`
	CanOverclock      bool         `json:"can_overclock"`
	CanHackShield     bool         `json:"can_hack_shield"`
	LaserCooldown     int          `json:"laser_cooldown_ticks"`
	OverclockTicks    int          `json:"overclock_ticks"`
	OverclockCooldown int          `json:"overclock_cooldown_ticks"`
	ShieldCooldown    int          `json:"shield_cooldown_ticks"`
	SlowTicks         int          `json:"slow_ticks"`
	Ticks             int64        `json:"ticks"`
	Events            []string     `json:"events,omitempty"`
}

type ArenaResult struct {
	ID             string       `json:"id"`
	Outcome        ArenaPhase   `json:"outcome"`
	WavesCompleted int          `json:"waves_completed"`
	Rewards        ArenaRewards `json:"rewards"`
	Timestamp      time.Time    `json:"timestamp"`
}

func NewArenaRun(canOverclock, canHackShield bool) ArenaRun {
	return ArenaRun{
		Phase:         ArenaPreparation,
		CoreHP:        MaxCoreHP,
		Drones:        []Drone{},
		PowerUps:      []PowerUp{},
		Rewards:       ArenaRewards{BTC: decimal.Zero, Items: []string{}},
		CanOverclock:  canOverclock,
		CanHackShield: canHackShield,
	}
}

func (r *ArenaRun) Terminal() bool {
	return r.Phase == ArenaComplete || r.Phase == ArenaFailed
}

func (r *ArenaRun) SelectBonus(bonus string) error {
	if r.Phase != ArenaPreparation {
		return fmt.Errorf("%w: bonuses are chosen between waves", ErrNotEligible)
	}
	switch bonus {
	case ArenaBonusDamage, ArenaBonusSpeed, ArenaBonusRegen, ArenaBonusNone:
		r.Bonus = bonus
		return nil
	default:
		return fmt.Errorf("%w: unknown arena bonus %q", ErrInvalidInput, bonus)
	}
}

// StartWave spawns the next wave. A bonus must be chosen first.
func (r *ArenaRun) StartWave(drones, powerUps Rand) error {
	if r.Phase != ArenaPreparation {
		return fmt.Errorf("%w: a wave is already running", ErrNotEligible)
	}
	if r.Bonus == "" {
		return fmt.Errorf("%w: choose a bonus before starting the wave", ErrNotEligible)
	}
	r.Wave++
	r.Phase = ArenaActive
	r.Drones = r.Drones[:0]
	for i := 0; i < waveDroneCounts[r.Wave-1]; i++ {
		d := spawnDrone(drones.Float64())
		d.ID = fmt.Sprintf("drone_%d_%d", r.Wave, i)
		r.Drones = append(r.Drones, d)
	}
	if powerUps.Float64() < 0.5 {
		p := PowerUp{ID: fmt.Sprintf("powerup_%d_%d", r.Wave, len(r.PowerUps)), Type: PowerUpHPBoost}
		switch roll := powerUps.Float64(); {
		case roll < 0.33:
			p.Type = PowerUpAreaBlast
		case roll < 0.66:
			p.Type = PowerUpTimeSlow
		}
		p.Position = powerUps.Float64() * powerUpLaneSpan
		r.PowerUps = append(r.PowerUps, p)
	}
	r.event(fmt.Sprintf("Wave %d incoming! New enemies detected!", r.Wave))
	return nil
}

func spawnDrone(roll float64) Drone {
	switch {
	case roll < 0.33:
		return Drone{Type: DroneFast, HP: 8, Speed: 3, Damage: 5}
	case roll < 0.66:
		return Drone{Type: DroneArmored, HP: 20, Speed: 1, Damage: 15}
	default:
		return Drone{Type: DroneSuicide, HP: 5, Speed: 2.5, Damage: 20}
	}
}

func (r *ArenaRun) damageModifier() float64 {
	if r.Bonus == ArenaBonusDamage {
		return 1.5
	}
	return 1
}

func (r *ArenaRun) speedModifier() float64 {
	mod := 1.0
	if r.Bonus == ArenaBonusSpeed {
		mod = 0.8
	}
	if r.SlowTicks > 0 {
		mod *= 0.5
	}
	return mod
}

// frontmost is the drone nearest the core; ties go to the earliest spawn.
func (r *ArenaRun) frontmost() int {
	best := -1
	for i, d := range r.Drones {
		if best < 0 || d.Position > r.Drones[best].Position {
			best = i
		}
	}
	return best
}

// Laser hits the frontmost drone for 5 damage scaled by the damage bonus.
func (r *ArenaRun) Laser() error {
	if r.Phase != ArenaActive {
		return fmt.Errorf("%w: no wave in progress", ErrNotEligible)
	}
	if r.LaserCooldown > 0 {
		return fmt.Errorf("%w: laser is recharging", ErrNotEligible)
	}
	idx := r.frontmost()
	if idx < 0 {
		return fmt.Errorf("%w: no drones in range", ErrNotEligible)
	}
	r.LaserCooldown = laserCooldownTicks
	if r.OverclockTicks > 0 {
		r.LaserCooldown = overclockLaserTicks
	}
	r.Drones[idx].HP -= laserDamage * r.damageModifier()
	if r.Drones[idx].HP <= 0 {
		r.Drones = append(r.Drones[:idx], r.Drones[idx+1:]...)
	}
	return nil
}

func (r *ArenaRun) Overclock() error {
	if r.Phase != ArenaActive {
		return fmt.Errorf("%w: no wave in progress", ErrNotEligible)
	}
	if !r.CanOverclock {
		return fmt.Errorf("%w: overclock bonus not unlocked", ErrNotEligible)
	}
	if r.OverclockCooldown > 0 {
		return fmt.Errorf("%w: overclock is recharging", ErrNotEligible)
	}
	r.OverclockTicks = overclockActiveTicks
	r.OverclockCooldown = overclockCooldownTicks
	r.event("Overclock activated! Attack speed increased!")
	return nil
}

func (r *ArenaRun) HackShield() error {
	if r.Phase != ArenaActive {
		return fmt.Errorf("%w: no wave in progress", ErrNotEligible)
	}
	if !r.CanHackShield {
		return fmt.Errorf("%w: hack shield bonus not unlocked", ErrNotEligible)
	}
	if r.ShieldCooldown > 0 {
		return fmt.Errorf("%w: hack shield is recharging", ErrNotEligible)
	}
	r.ShieldCooldown = hackShieldCooldownTick
	r.heal(hackShieldHeal)
	r.event("Hack Shield activated! Data core restored by 20 HP!")
	return nil
}

func (r *ArenaRun) PickUp(id string) error {
	if r.Phase != ArenaActive {
		return fmt.Errorf("%w: no wave in progress", ErrNotEligible)
	}
	idx := -1
	for i, p := range r.PowerUps {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: power-up %s", ErrNotFound, id)
	}
	p := r.PowerUps[idx]
	r.PowerUps = append(r.PowerUps[:idx], r.PowerUps[idx+1:]...)
	switch p.Type {
	case PowerUpAreaBlast:
		r.Drones = r.Drones[:0]
		r.event("Area Blast activated! All drones destroyed!")
	case PowerUpTimeSlow:
		r.SlowTicks = timeSlowTicks
		r.event("Time Slow activated! Drones slowed for 5 seconds!")
	case PowerUpHPBoost:
		r.heal(hpBoostHeal)
		r.event("HP Boost activated! Data core restored by 30 HP!")
	}
	return nil
}

// Abandon fails the run, keeping rewards of the waves already cleared.
func (r *ArenaRun) Abandon() {
	if r.Terminal() {
		return
	}
	r.Phase = ArenaFailed
	r.event("Arena run abandoned.")
}

// Tick advances an active wave by 100ms of game time.
func (r *ArenaRun) Tick() {
	if r.Phase != ArenaActive {
		return
	}
	r.Ticks++
	countDown(&r.LaserCooldown)
	countDown(&r.OverclockTicks)
	countDown(&r.OverclockCooldown)
	countDown(&r.ShieldCooldown)

	mod := r.speedModifier()
	countDown(&r.SlowTicks)
	remaining := r.Drones[:0]
	for _, d := range r.Drones {
		d.Position += d.Speed * mod
		if d.Position >= LaneEnd {
			r.CoreHP -= d.Damage
			continue
		}
		remaining = append(remaining, d)
	}
	r.Drones = remaining

	if r.CoreHP <= 0 {
		r.CoreHP = 0
		r.Phase = ArenaFailed
		r.event("The data core was destroyed! Better luck next time, human.")
		return
	}
	if r.Bonus == ArenaBonusRegen {
		r.heal(hpRegenPerTick)
	}
	if len(r.Drones) == 0 {
		r.clearWave()
	}
}

func (r *ArenaRun) clearWave() {
	r.WavesCompleted = r.Wave
	r.Rewards.BTC = r.Rewards.BTC.Add(waveRewardBTC)
	r.Rewards.Shards += waveRewardShards
	r.event(fmt.Sprintf("Wave %d cleared! Reward: %s BTC, %d shards.", r.Wave, waveRewardBTC, waveRewardShards))
	if r.Wave < ArenaWaves {
		r.Phase = ArenaPreparation
		r.Bonus = ""
		r.event("Prepare for the next wave! Choose a bonus!")
		return
	}
	r.Rewards.BTC = r.Rewards.BTC.Add(finalRewardBTC)
	r.Rewards.Shards += finalRewardShards
	r.Rewards.Items = append(r.Rewards.Items, ShadowCoreItem)
	r.Phase = ArenaComplete
	r.event("Cyber Arena completed! SHADOW Core acquired.")
}

func (r *ArenaRun) heal(hp float64) {
	r.CoreHP += hp
	if r.CoreHP > MaxCoreHP {
		r.CoreHP = MaxCoreHP
	}
}

func (r *ArenaRun) event(msg string) {
	const keep = 8
	r.Events = append(r.Events, msg)
	if len(r.Events) > keep {
		r.Events = append([]string(nil), r.Events[len(r.Events)-keep:]...)
	}
}

// Snapshot deep-copies the run for readers outside the session.
func (r *ArenaRun) Snapshot() ArenaRun {
	out := *r
	out.Drones = append([]Drone(nil), r.Drones...)
	out.PowerUps = append([]PowerUp(nil), r.PowerUps...)
	out.Rewards.Items = append([]string(nil), r.Rewards.Items...)
	out.Events = append([]string(nil), r.Events...)
	return out
}

func countDown(v *int) {
	if *v > 0 {
		*v--
	}
}
