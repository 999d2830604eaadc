package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cl "tycoon/internal/cli"
	"tycoon/internal/game"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

const (
	arenaPollEvery = 200 * time.Millisecond
	arenaLaneWidth = 48
	arenaCallLimit = 10 * time.Second
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	phaseStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).Background(lipgloss.Color("57")).Foreground(lipgloss.Color("230"))
	laneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	droneStyle = map[string]lipgloss.Style{
		game.DroneFast:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		game.DroneArmored: lipgloss.NewStyle().Foreground(lipgloss.Color("111")),
		game.DroneSuicide: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
	powerUpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	eventStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

var droneGlyph = map[string]string{
	game.DroneFast:    ">",
	game.DroneArmored: "#",
	game.DroneSuicide: "*",
}

var arenaBonusKeys = map[string]string{
	"1": game.ArenaBonusDamage,
	"2": game.ArenaBonusSpeed,
	"3": game.ArenaBonusRegen,
	"4": game.ArenaBonusNone,
}

// runMsg answers a player command; stateMsg answers a poll and schedules
// the next one.
type runMsg struct {
	run game.ArenaRun
	err error
}

type stateMsg runMsg

type pollMsg struct{}

type resultMsg struct {
	result *game.ArenaResult
	err    error
}

type arenaModel struct {
	ctx    context.Context
	client *cl.Client
	token  string

	run      game.ArenaRun
	started  bool
	finished bool
	result   *game.ArenaResult
	err      error
	hp       progress.Model
	quitting bool
}

func newArenaModel(ctx context.Context, client *cl.Client, token string) arenaModel {
	return arenaModel{
		ctx:    ctx,
		client: client,
		token:  token,
		hp:     progress.New(progress.WithGradient("#FF5F5F", "#5FFF87"), progress.WithWidth(arenaLaneWidth)),
	}
}

// playArena attaches to a running session or starts a new one, then hands
// the terminal to the arena view.
func playArena(ctx context.Context, client *cl.Client, token string) error {
	_, err := tea.NewProgram(newArenaModel(ctx, client, token), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m arenaModel) Init() tea.Cmd {
	return m.attach
}

func (m arenaModel) attach() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, arenaCallLimit)
	defer cancel()
	run, err := m.client.ArenaState(ctx, m.token)
	if isNotFound(err) {
		run, err = m.client.StartArena(ctx, m.token, uuid.NewString())
	}
	return stateMsg{run: run, err: err}
}

func (m arenaModel) poll() tea.Cmd {
	return tea.Tick(arenaPollEvery, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m arenaModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, arenaCallLimit)
	defer cancel()
	run, err := m.client.ArenaState(ctx, m.token)
	return stateMsg{run: run, err: err}
}

func (m arenaModel) send(cmd game.ArenaCommand) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, arenaCallLimit)
		defer cancel()
		run, err := m.client.ArenaCommand(ctx, m.token, cmd)
		return runMsg{run: run, err: err}
	}
}

func (m arenaModel) fetchResult() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, arenaCallLimit)
	defer cancel()
	results, err := m.client.ArenaResults(ctx, m.token)
	if err != nil || len(results) == 0 {
		return resultMsg{err: err}
	}
	return resultMsg{result: &results[0]}
}

func (m arenaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case pollMsg:
		if m.finished {
			return m, nil
		}
		return m, m.fetch

	case stateMsg:
		m, cmd := m.apply(runMsg(msg))
		if cmd == nil && !m.finished {
			cmd = m.poll()
		}
		return m, cmd

	case runMsg:
		return m.apply(msg)

	case resultMsg:
		m.result = msg.result
		if msg.err != nil {
			m.err = msg.err
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m arenaModel) apply(msg runMsg) (arenaModel, tea.Cmd) {
	if msg.err != nil {
		// The session is gone once its rewards are flushed.
		if m.started && isNotFound(msg.err) {
			m.finished = true
			return m, m.fetchResult
		}
		m.err = msg.err
		if msg.run.Phase != "" {
			m.run = msg.run
		}
		if !m.started {
			m.finished = true
		}
		return m, nil
	}
	m.err = nil
	m.started = true
	m.run = msg.run
	if isTerminal(m.run.Phase) && !m.finished {
		m.finished = true
		return m, m.fetchResult
	}
	return m, nil
}

func (m arenaModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if m.finished {
		if key == "q" || key == "esc" || key == "enter" {
			return m, tea.Quit
		}
		return m, nil
	}
	if !m.started {
		return m, nil
	}

	switch m.run.Phase {
	case game.ArenaPreparation:
		if bonus, ok := arenaBonusKeys[key]; ok {
			return m, m.send(game.ArenaCommand{Action: game.ArenaSelectBonus, Bonus: bonus})
		}
		if key == "enter" || key == " " {
			return m, m.send(game.ArenaCommand{Action: game.ArenaStartWave})
		}
	case game.ArenaActive:
		switch key {
		case " ", "l":
			return m, m.send(game.ArenaCommand{Action: game.ArenaLaser})
		case "o":
			return m, m.send(game.ArenaCommand{Action: game.ArenaOverclock})
		case "h":
			return m, m.send(game.ArenaCommand{Action: game.ArenaHackShield})
		case "p":
			if len(m.run.PowerUps) > 0 {
				return m, m.send(game.ArenaCommand{Action: game.ArenaPickUp, PowerUpID: m.run.PowerUps[0].ID})
			}
		}
	}
	if key == "q" || key == "esc" {
		m.quitting = true
		return m, m.send(game.ArenaCommand{Action: game.ArenaQuit})
	}
	return m, nil
}

func (m arenaModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("CYBER ARENA"))
	b.WriteString("\n\n")

	if !m.started {
		if m.err != nil {
			b.WriteString(errStyle.Render(m.err.Error()))
			b.WriteString("\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			return boxStyle.Render(b.String())
		}
		b.WriteString("Connecting to the arena...")
		return boxStyle.Render(b.String())
	}

	b.WriteString(phaseStyle.Render(strings.ToUpper(string(m.run.Phase))))
	b.WriteString("  " + waveLabel(m.run))
	if m.run.Bonus != "" {
		b.WriteString("  bonus: " + m.run.Bonus)
	}
	b.WriteString("\n\nCore  ")
	b.WriteString(m.hp.ViewAs(m.run.CoreHP / game.MaxCoreHP))
	b.WriteString(fmt.Sprintf(" %3.0f\n\n", m.run.CoreHP))
	b.WriteString(renderLane(m.run, arenaLaneWidth))
	b.WriteString("\n")
	b.WriteString(renderAbilities(m.run))
	b.WriteString("\n")

	if n := len(m.run.Events); n > 0 {
		from := n - 4
		if from < 0 {
			from = 0
		}
		for _, ev := range m.run.Events[from:] {
			b.WriteString(eventStyle.Render("· "+ev) + "\n")
		}
	}
	b.WriteString(fmt.Sprintf("\nRewards so far: %s, %d shards\n", btc(m.run.Rewards.BTC), m.run.Rewards.Shards))

	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()) + "\n")
	}

	if m.finished {
		b.WriteString("\n")
		b.WriteString(renderFinal(m.run, m.result))
		b.WriteString("\n" + helpStyle.Render("enter/q close"))
		return boxStyle.Render(b.String())
	}

	b.WriteString("\n")
	switch m.run.Phase {
	case game.ArenaPreparation:
		b.WriteString(helpStyle.Render("1 damage  2 speed  3 regen  4 none  ·  enter start wave  ·  q quit"))
	default:
		b.WriteString(helpStyle.Render("space/l laser  o overclock  h hack shield  p pick up  ·  q quit"))
	}
	return boxStyle.Render(b.String())
}

// renderLane draws drones and power-ups on a lane whose right edge is the
// core.
func renderLane(run game.ArenaRun, width int) string {
	rows := make([]string, 0, len(run.Drones)+1)
	for _, d := range run.Drones {
		cells := []rune(strings.Repeat("·", width))
		pos := lanePos(d.Position, width)
		glyph := droneGlyph[d.Type]
		if glyph == "" {
			glyph = "o"
		}
		line := laneStyle.Render(string(cells[:pos])) + droneStyle[d.Type].Render(glyph) + laneStyle.Render(string(cells[pos+1:]))
		rows = append(rows, line+fmt.Sprintf("| %-8s %5.1fhp", d.Type, d.HP))
	}
	if len(run.PowerUps) > 0 {
		names := make([]string, 0, len(run.PowerUps))
		for _, p := range run.PowerUps {
			names = append(names, fmt.Sprintf("%s@%.0f", p.Type, p.Position))
		}
		rows = append(rows, powerUpStyle.Render("power-ups: "+strings.Join(names, "  ")))
	}
	if len(rows) == 0 {
		return laneStyle.Render(strings.Repeat("·", width)+"|") + "\n"
	}
	return strings.Join(rows, "\n") + "\n"
}

func lanePos(position float64, width int) int {
	pos := int(position / game.LaneEnd * float64(width-1))
	if pos < 0 {
		return 0
	}
	if pos > width-1 {
		return width - 1
	}
	return pos
}

func renderAbilities(run game.ArenaRun) string {
	parts := []string{ability("laser", run.LaserCooldown)}
	if run.CanOverclock {
		label := ability("overclock", run.OverclockCooldown)
		if run.OverclockTicks > 0 {
			label = powerUpStyle.Render(fmt.Sprintf("overclock %.1fs", ticksToSeconds(run.OverclockTicks)))
		}
		parts = append(parts, label)
	}
	if run.CanHackShield {
		parts = append(parts, ability("shield", run.ShieldCooldown))
	}
	if run.SlowTicks > 0 {
		parts = append(parts, powerUpStyle.Render(fmt.Sprintf("slowed %.1fs", ticksToSeconds(run.SlowTicks))))
	}
	return strings.Join(parts, "   ")
}

func ability(name string, cooldown int) string {
	if cooldown > 0 {
		return helpStyle.Render(fmt.Sprintf("%s %.1fs", name, ticksToSeconds(cooldown)))
	}
	return powerUpStyle.Render(name + " ready")
}

func ticksToSeconds(ticks int) float64 {
	return float64(ticks) * game.ArenaTickEvery.Seconds()
}

func renderFinal(run game.ArenaRun, result *game.ArenaResult) string {
	outcome := run.Phase
	rewards := run.Rewards
	waves := run.WavesCompleted
	if result != nil {
		outcome, rewards, waves = result.Outcome, result.Rewards, result.WavesCompleted
	}
	title := errStyle.Render("CORE BREACHED")
	if outcome == game.ArenaComplete {
		title = powerUpStyle.Render("ARENA CLEARED")
	}
	items := ""
	if len(rewards.Items) > 0 {
		items = "  items: " + strings.Join(rewards.Items, ", ")
	}
	return fmt.Sprintf("%s  waves %d/%d  %s  %d shards%s", title, waves, game.ArenaWaves, btc(rewards.BTC), rewards.Shards, items)
}

// renderRun is the non-interactive view used by `tyc arena status`.
func renderRun(run game.ArenaRun, width int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s  %s  core %s %.0f/%.0f\n", strings.ToUpper(string(run.Phase)), waveLabel(run), bar(run.CoreHP/game.MaxCoreHP, 20), run.CoreHP, game.MaxCoreHP))
	b.WriteString(renderLane(run, width))
	b.WriteString(renderAbilities(run))
	if isTerminal(run.Phase) {
		b.WriteString("\n" + renderFinal(run, nil))
	}
	return b.String()
}

func isTerminal(phase game.ArenaPhase) bool {
	return phase == game.ArenaComplete || phase == game.ArenaFailed
}

func isNotFound(err error) bool {
	var apiErr *cl.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
