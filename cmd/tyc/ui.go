package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"tycoon/internal/game"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	muted       = color.New(color.FgHiBlack)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]string, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = opt
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if opt, ok := normalized[text]; ok {
			return opt, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptDecimal(label string) (decimal.Decimal, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(text)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if !v.IsPositive() {
			printWarn("Value must be > 0")
			continue
		}
		return v, nil
	}
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx && strings.TrimSpace(args[idx]) != "" {
		return strings.TrimSpace(args[idx]), nil
	}
	return promptRequired(label)
}

func decimalArgOrPrompt(args []string, idx int, label string) (decimal.Decimal, error) {
	if len(args) > idx {
		v, err := decimal.NewFromString(strings.TrimSpace(args[idx]))
		if err != nil || !v.IsPositive() {
			return decimal.Zero, fmt.Errorf("%s must be a positive number", strings.ToLower(label))
		}
		return v, nil
	}
	return promptDecimal(label)
}

func renderDashboard(d game.Dashboard) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(displayName(d.Account)))
	fmt.Printf("BTC:               %s\n", btc(d.Account.BTCBalance))
	fmt.Printf("USD:               %s\n", usd(d.Account.USDBalance))
	fmt.Printf("BTC Price:         %s\n", usd(d.BTCPrice))
	fmt.Printf("Holdings Value:    %s\n", usd(d.Account.BTCBalance.Mul(d.BTCPrice)))
	fmt.Printf("Mining Power:      %s TH/s\n", d.EffectiveMiningPower.StringFixed(2))
	fmt.Printf("Total Mined:       %s\n", btc(d.Account.TotalMinedBTC))
	fmt.Printf("Transactions:      %d\n", d.Account.Transactions)
	if d.SyndicateID != "" {
		fmt.Printf("Syndicate:         %s\n", d.SyndicateID)
	}
	if d.Prison.InPrison {
		fmt.Printf("Prison:            %s\n", danger.Sprintf("locked until %s", localTime(d.Prison.PrisonEndTime)))
	}
	if len(d.Account.Items) > 0 {
		fmt.Printf("Items:             %s\n", strings.Join(d.Account.Items, ", "))
	}
	fmt.Println()
	renderFarms(d.Farms)
}

func renderProfile(p game.Profile) {
	accent.Printf("\n== PROFILE: %s ==\n", displayName(p.Account))
	fmt.Printf("Email:    %s\n", p.Account.Email)
	if p.Account.Avatar != "" {
		fmt.Printf("Avatar:   %s\n", p.Account.Avatar)
	}
	fmt.Printf("Joined:   %s\n", localTime(p.Account.CreatedAt))
	fmt.Printf("Largest:  %s\n", usd(p.Account.LargestTransaction))

	fmt.Println()
	accent.Println("Achievements")
	for _, a := range p.Achievements {
		mark := muted.Sprint("[ ]")
		if a.Completed {
			mark = success.Sprint("[x]")
		}
		fmt.Printf("%s %-18s %s\n", mark, a.Name, muted.Sprint(a.Description))
	}
	if len(p.Weekly) > 0 {
		fmt.Println()
		renderWeekly(p.Weekly)
	}
	fmt.Println()
}

func renderWeekly(weeks []game.WeeklyStats) {
	accent.Println("Weekly Stats")
	fmt.Printf("%-10s %14s %14s %14s %8s %8s\n", "WEEK", "BOUGHT", "SOLD", "MINED", "TRADES", "QUESTS")
	for _, w := range weeks {
		fmt.Printf("%-10s %14s %14s %14s %8d %8d\n", w.Week, btc(w.BTCBought), btc(w.BTCSold), btc(w.BTCEarned), w.Trades, w.QuestsCompleted)
	}
}

func renderFarms(farms []game.FarmView) {
	accent.Println("Farms")
	if len(farms) == 0 {
		printInfo("No farms yet. Try `tyc farms build`.")
		return
	}
	fmt.Printf("%-20s %6s %12s %-20s %s\n", "NAME", "LEVEL", "POWER", "STATUS", "ID")
	for _, f := range farms {
		status := success.Sprint(string(f.Status))
		if f.Status == game.FarmUnderConstruction {
			status = warn.Sprintf("building %s", (time.Duration(f.RemainingSeconds) * time.Second).String())
		}
		fmt.Printf("%-20s %6d %12s %-20s %s\n", truncate(f.Name, 20), f.Level, f.MiningPower.StringFixed(2), status, muted.Sprint(f.ID))
	}
}

func renderQuote(m game.MarketState) {
	accent.Println("\n== BTC MARKET ==")
	fmt.Printf("Price:   %s\n", usd(m.Price))
	fmt.Printf("Updated: %s\n", localTime(m.UpdatedAt))
	if n := len(m.History); n > 1 {
		oldest := m.History[0].Price
		fmt.Printf("Trend:   %s  %s\n", colorizeDelta(m.Price.Sub(oldest)), sparkline(m.History))
	}
	fmt.Println()
}

func renderTrade(out game.TradeResult, side string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(side))
	fmt.Printf("Price:    %s\n", usd(out.Price))
	fmt.Printf("Notional: %s\n", usd(out.Notional))
	fmt.Printf("BTC:      %s\n", btc(out.BTCBalance))
	fmt.Printf("USD:      %s\n", usd(out.USDBalance))
	fmt.Println()
}

func renderTransactions(txs []game.TxRecord) {
	accent.Println("\n== TRANSACTIONS ==")
	if len(txs) == 0 {
		printInfo("No trades yet.")
		return
	}
	fmt.Printf("%-17s %-5s %14s %14s %14s\n", "TIME", "SIDE", "AMOUNT", "PRICE", "NOTIONAL")
	for _, tx := range txs {
		fmt.Printf("%-17s %-5s %14s %14s %14s\n", tx.Timestamp.Local().Format("2006-01-02 15:04"), tx.Type, btc(tx.Amount), usd(tx.Price), usd(tx.Notional))
	}
	fmt.Println()
}

func renderLeaderboard(rows []game.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No players yet.")
		return
	}
	fmt.Printf("%-5s %-24s %16s\n", "RANK", "PLAYER", "BTC")
	for _, r := range rows {
		fmt.Printf("%-5d %-24s %16s\n", r.Rank, truncate(r.Nickname, 24), btc(r.BTCBalance))
	}
	fmt.Println()
}

func renderSyndicateLeaderboard(rows []game.SyndicateRow) {
	accent.Println("\n== SYNDICATES ==")
	fmt.Printf("%-5s %-24s %16s %8s\n", "RANK", "SYNDICATE", "PROGRESS", "MEMBERS")
	for _, r := range rows {
		fmt.Printf("%-5d %-24s %16s %8d\n", r.Rank, truncate(r.Name, 24), r.Progress.StringFixed(2), r.Members)
	}
	fmt.Println()
}

func renderQuests(quests []game.QuestView) {
	accent.Println("\n== QUESTS ==")
	if len(quests) == 0 {
		printInfo("No quests available.")
		return
	}
	fmt.Printf("%-16s %-24s %-10s %18s %14s\n", "ID", "NAME", "STATUS", "PROGRESS", "REWARD")
	for _, q := range quests {
		status := neutral.Sprint(q.Status)
		switch q.Status {
		case string(game.QuestCompleted):
			status = success.Sprint(q.Status)
		case string(game.QuestAccepted):
			status = warn.Sprint(q.Status)
		}
		progress := fmt.Sprintf("%s/%s", q.Progress.StringFixed(2), q.Target.StringFixed(0))
		fmt.Printf("%-16s %-24s %-10s %18s %14s\n", truncate(q.ID, 16), truncate(q.Name, 24), status, progress, rewardText(q.Reward))
	}
	fmt.Println()
}

func renderSyndicates(list []game.Syndicate) {
	accent.Println("\n== SYNDICATES ==")
	fmt.Printf("%-16s %-22s %-14s %16s %8s\n", "ID", "NAME", "GOAL", "PROGRESS", "MEMBERS")
	for _, s := range list {
		goal := fmt.Sprintf("%s %s", s.Goal.Type, s.Goal.Target.StringFixed(0))
		fmt.Printf("%-16s %-22s %-14s %16s %8d\n", truncate(s.ID, 16), truncate(s.Name, 22), truncate(goal, 14), s.Progress.StringFixed(2), len(s.Members))
	}
	fmt.Println()
}

func renderSyndicate(s game.Syndicate) {
	accent.Printf("\n== %s ==\n", s.Name)
	fmt.Println(s.Description)
	fmt.Printf("Goal:        %s %s\n", s.Goal.Type, s.Goal.Target.StringFixed(2))
	fmt.Printf("Progress:    %s (%s)\n", s.Progress.StringFixed(2), percentOf(s.Progress, s.Goal.Target))
	fmt.Printf("Reward:      %s\n", rewardText(s.Reward))
	fmt.Printf("Members:     %d\n", len(s.Members))
	fmt.Printf("Completions: %d\n", s.Completions)
	fmt.Println()
}

func renderChat(messages []game.ChatMessage) {
	accent.Println("\n== SYNDICATE CHAT ==")
	if len(messages) == 0 {
		printInfo("No messages yet.")
		return
	}
	for _, m := range messages {
		fmt.Printf("%s %s %s\n", muted.Sprint(m.Timestamp.Local().Format("15:04")), accent.Sprint(m.Nickname+":"), m.Message)
	}
	fmt.Println()
}

func renderHeist(e game.HeistEvent) {
	accent.Println("\n== CRYPTOBANK HEIST ==")
	fmt.Printf("Window:        %s to %s\n", localTime(e.StartTime), localTime(e.EndTime))
	fmt.Printf("Stage:         %s\n", e.Stage)
	fmt.Printf("Progress:      %s %d%%\n", bar(float64(e.Progress)/game.HeistStageComplete, 20), e.Progress)
	fmt.Printf("Success:       %d%%\n", e.SuccessChance)
	fmt.Printf("Defenses:      firewall %d  guards %d  alarms %d\n", e.BankDefenses.Firewall, e.BankDefenses.Guards, e.BankDefenses.Alarms)
	fmt.Printf("Participants:  %d syndicates\n", len(e.Participants))
	fmt.Printf("Reward:        %s\n", rewardText(e.Reward))
	switch e.Outcome {
	case game.HeistOutcomeSuccess:
		printSuccess("Outcome: success")
	case game.HeistOutcomeFailure:
		printError("Outcome: failure")
	}
	fmt.Println()
}

func renderPrison(p game.PrisonStatus) {
	if !p.InPrison {
		printSuccess("You are free.")
		return
	}
	printError(fmt.Sprintf("In prison until %s (%s left).", localTime(p.PrisonEndTime), time.Until(p.PrisonEndTime).Round(time.Minute)))
}

func renderItems(items []game.Item) {
	accent.Println("\n== DARK WEB ==")
	fmt.Printf("%-16s %-22s %12s  %s\n", "ID", "ITEM", "PRICE", "EFFECT")
	for _, it := range items {
		fmt.Printf("%-16s %-22s %12s  %s x%s\n", truncate(it.ID, 16), truncate(it.Name, 22), btc(it.Price), it.Effect.Type, it.Effect.Value.String())
	}
	fmt.Println()
}

func renderCompanion(c game.Companion) {
	accent.Println("\n== NEON ==")
	fmt.Printf("Level:        %d/%d\n", c.NeonLevel, game.MaxNeonLevel)
	fmt.Printf("Loyalty:      %d\n", c.LoyaltyPoints)
	fmt.Printf("Shards:       %d\n", c.Shards)
	fmt.Printf("Bonuses:      %s\n", listOrNone(c.UnlockedBonuses))
	fmt.Printf("Legacy:       %d/%d\n", c.LegacyQuestProgress, game.LegacySteps)
	threat := fmt.Sprintf("%d/%d", c.ShadowThreatLevel, game.ShadowThreatMax)
	if c.ShadowThreatLevel >= game.ShadowAttackFloor {
		threat = danger.Sprint(threat)
	}
	fmt.Printf("SHADOW:       %s\n", threat)
	if time.Now().Before(c.CyberArenaCooldown) {
		fmt.Printf("Arena ready:  %s\n", localTime(c.CyberArenaCooldown))
	} else {
		fmt.Printf("Arena ready:  %s\n", success.Sprint("now"))
	}
	if len(c.ActiveQuests) > 0 {
		fmt.Println()
		accent.Println("Active Quests")
		for _, q := range c.ActiveQuests {
			fmt.Printf("%s  %s %s\n", muted.Sprint(q.ID), q.Description, muted.Sprintf("(due %s)", localTime(q.Deadline)))
		}
	}
	fmt.Println()
}

func renderNeonMessages(messages []game.NeonMessage) {
	accent.Println("\n== NEON SAYS ==")
	if len(messages) == 0 {
		printInfo("NEON has nothing to say.")
		return
	}
	for _, m := range messages {
		fmt.Printf("%s %s %s\n", muted.Sprint(m.Timestamp.Local().Format("01-02 15:04")), warn.Sprintf("[%s]", m.Type), m.Message)
	}
	fmt.Println()
}

func renderAttacks(attacks []game.ShadowAttack) {
	accent.Println("\n== SHADOW ATTACKS ==")
	if len(attacks) == 0 {
		printInfo("No attacks recorded.")
		return
	}
	for _, a := range attacks {
		fmt.Printf("%s %-22s %s\n", muted.Sprint(localTime(a.Timestamp)), a.AttackType, danger.Sprint(a.Damage.StringFixed(4)))
	}
	fmt.Println()
}

func renderArenaResults(results []game.ArenaResult) {
	accent.Println("\n== ARENA RESULTS ==")
	if len(results) == 0 {
		printInfo("No arena runs yet.")
		return
	}
	fmt.Printf("%-17s %-9s %6s %12s %7s  %s\n", "TIME", "OUTCOME", "WAVES", "BTC", "SHARDS", "ITEMS")
	for _, r := range results {
		outcome := danger.Sprint(string(r.Outcome))
		if r.Outcome == game.ArenaComplete {
			outcome = success.Sprint(string(r.Outcome))
		}
		fmt.Printf("%-17s %-9s %6d %12s %7d  %s\n", r.Timestamp.Local().Format("2006-01-02 15:04"), outcome, r.WavesCompleted, btc(r.Rewards.BTC), r.Rewards.Shards, listOrNone(r.Rewards.Items))
	}
	fmt.Println()
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func displayName(a game.Account) string {
	if a.Nickname != "" {
		return a.Nickname
	}
	return a.Email
}

func rewardText(r game.Reward) string {
	parts := []string{}
	if r.BTC.IsPositive() {
		parts = append(parts, r.BTC.String()+" BTC")
	}
	if r.MiningPower.IsPositive() {
		parts = append(parts, r.MiningPower.String()+" TH/s")
	}
	return listOrNone(parts)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return muted.Sprint("none")
	}
	return strings.Join(items, ", ")
}

func btc(d decimal.Decimal) string {
	return d.StringFixed(6) + " BTC"
}

func usd(d decimal.Decimal) string {
	return "$" + comma(d.StringFixed(2))
}

func colorizeDelta(d decimal.Decimal) string {
	text := d.StringFixed(2)
	switch d.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func percentOf(v, target decimal.Decimal) string {
	if !target.IsPositive() {
		return "0%"
	}
	return v.Div(target).Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

func localTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// comma groups the integer part of a fixed-point number in thousands.
func comma(v string) string {
	sign := ""
	if strings.HasPrefix(v, "-") {
		sign, v = "-", v[1:]
	}
	intPart, frac := v, ""
	if i := strings.IndexByte(v, '.'); i >= 0 {
		intPart, frac = v[:i], v[i:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func bar(frac float64, width int) string {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

func sparkline(points []game.PricePoint) string {
	if len(points) == 0 {
		return ""
	}
	lo, hi := points[0].Price, points[0].Price
	for _, p := range points {
		lo = decimal.Min(lo, p.Price)
		hi = decimal.Max(hi, p.Price)
	}
	span := hi.Sub(lo)
	var b strings.Builder
	for _, p := range points {
		idx := 0
		if span.IsPositive() {
			f, _ := p.Price.Sub(lo).Div(span).Float64()
			idx = int(f * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}
