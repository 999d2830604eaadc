package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID                  string          `json:"id"`
	Email               string          `json:"email"`
	Nickname            string          `json:"nickname"`
	Avatar              string          `json:"avatar"`
	BTCBalance          decimal.Decimal `json:"btc_balance"`
	USDBalance          decimal.Decimal `json:"usd_balance"`
	MiningPower         decimal.Decimal `json:"mining_power"`
	MiningMultiplier    decimal.Decimal `json:"mining_multiplier"`
	BuildCostMultiplier decimal.Decimal `json:"build_cost_multiplier"`
	Transactions        int64           `json:"transactions"`
	TotalMinedBTC       decimal.Decimal `json:"total_mined_btc"`
	LargestTransaction  decimal.Decimal `json:"largest_transaction"`
	Items               []string        `json:"items"`
	CreatedAt           time.Time       `json:"created_at"`
}

func (a Account) HasItem(name string) bool {
	for _, it := range a.Items {
		if it == name {
			return true
		}
	}
	return false
}

type FarmStatus string

const (
	FarmUnderConstruction FarmStatus = "UnderConstruction"
	FarmActive            FarmStatus = "Active"
)

type Farm struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	TemplateID      string          `json:"template_id"`
	Name            string          `json:"name"`
	Level           int             `json:"level"`
	Cost            decimal.Decimal `json:"cost"`
	MiningPower     decimal.Decimal `json:"mining_power"`
	BuildTime       int64           `json:"build_time"`
	Status          FarmStatus      `json:"status"`
	ConstructionEnd time.Time       `json:"construction_end"`
	CreatedAt       time.Time       `json:"created_at"`
}

type FarmView struct {
	Farm
	RemainingSeconds int64 `json:"remaining_seconds"`
}

type Reward struct {
	BTC         decimal.Decimal `json:"btc"`
	MiningPower decimal.Decimal `json:"mining_power"`
}

type QuestType string

const (
	QuestFarmCount QuestType = "farm-count"
	QuestBTCEarned QuestType = "btc-earned"
)

type Quest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        QuestType       `json:"type"`
	Target      decimal.Decimal `json:"target"`
	Reward      Reward          `json:"reward"`
}

type UserQuestStatus string

const (
	QuestAccepted  UserQuestStatus = "accepted"
	QuestCompleted UserQuestStatus = "completed"
)

type UserQuest struct {
	QuestID     string          `json:"quest_id"`
	Status      UserQuestStatus `json:"status"`
	Progress    decimal.Decimal `json:"progress"`
	AcceptedAt  time.Time       `json:"accepted_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type QuestView struct {
	Quest
	Status   string          `json:"status"`
	Progress decimal.Decimal `json:"progress"`
}

type SyndicateGoal struct {
	Type   string          `json:"type"`
	Target decimal.Decimal `json:"target"`
}

type Syndicate struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Goal        SyndicateGoal   `json:"goal"`
	Progress    decimal.Decimal `json:"progress"`
	Reward      Reward          `json:"reward"`
	Members     []string        `json:"members"`
	Completions int64           `json:"completions"`
}

func (s Syndicate) HasMember(accountID string) bool {
	for _, m := range s.Members {
		if m == accountID {
			return true
		}
	}
	return false
}

// Membership is an account's seat in a syndicate. Contribution is measured
// from Baseline, the goal stat captured at join time.
type Membership struct {
	AccountID    string          `json:"account_id"`
	SyndicateID  string          `json:"syndicate_id"`
	Contribution decimal.Decimal `json:"contribution"`
	Baseline     decimal.Decimal `json:"baseline"`
	JoinedAt     time.Time       `json:"joined_at"`
}

type ChatMessage struct {
	ID          string    `json:"id"`
	SyndicateID string    `json:"syndicate_id"`
	AccountID   string    `json:"account_id"`
	Nickname    string    `json:"nickname"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

type PrisonStatus struct {
	InPrison      bool      `json:"in_prison"`
	PrisonEndTime time.Time `json:"prison_end_time"`
}

type TxRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Notional  decimal.Decimal `json:"notional"`
	Timestamp time.Time       `json:"timestamp"`
}

type WeeklyStats struct {
	Week            string          `json:"week"`
	BTCBought       decimal.Decimal `json:"btc_bought"`
	BTCSold         decimal.Decimal `json:"btc_sold"`
	BTCEarned       decimal.Decimal `json:"btc_earned"`
	QuestsCompleted int64           `json:"quests_completed"`
	Trades          int64           `json:"trades"`
}

type PricePoint struct {
	At    time.Time       `json:"at"`
	Price decimal.Decimal `json:"price"`
}

type MarketState struct {
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
	History   []PricePoint    `json:"history"`
}

type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Effect      ItemEffect      `json:"effect"`
}

type ItemEffect struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type Achievement struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Dashboard struct {
	Account              Account         `json:"account"`
	EffectiveMiningPower decimal.Decimal `json:"effective_mining_power"`
	Farms                []FarmView      `json:"farms"`
	BTCPrice             decimal.Decimal `json:"btc_price"`
	Prison               PrisonStatus    `json:"prison"`
	SyndicateID          string          `json:"syndicate_id,omitempty"`
}

type Profile struct {
	Account      Account       `json:"account"`
	Achievements []Achievement `json:"achievements"`
	Weekly       []WeeklyStats `json:"weekly"`
}

type LeaderboardRow struct {
	Rank       int64           `json:"rank"`
	AccountID  string          `json:"account_id"`
	Nickname   string          `json:"nickname"`
	BTCBalance decimal.Decimal `json:"btc_balance"`
}

type SyndicateRow struct {
	Rank        int64           `json:"rank"`
	SyndicateID string          `json:"syndicate_id"`
	Name        string          `json:"name"`
	Progress    decimal.Decimal `json:"progress"`
	Members     int             `json:"members"`
}

type TradeInput struct {
	AccountID      string
	Side           string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type TradeResult struct {
	TxID       string          `json:"tx_id"`
	Price      decimal.Decimal `json:"price"`
	Notional   decimal.Decimal `json:"notional"`
	BTCBalance decimal.Decimal `json:"btc_balance"`
	USDBalance decimal.Decimal `json:"usd_balance"`
}

type StartBuildInput struct {
	AccountID      string
	TemplateID     string
	IdempotencyKey string
}
