package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the static game content: what can be built, bought, earned and
// joined. Amounts are plain floats here; the game layer converts them.
type Catalog struct {
	Farms        []FarmTemplate  `yaml:"farms"`
	Quests       []QuestTemplate `yaml:"quests"`
	Syndicates   []Syndicate     `yaml:"syndicates"`
	Items        []Item          `yaml:"items"`
	Achievements []Achievement   `yaml:"achievements"`
}

type FarmTemplate struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Level       int     `yaml:"level"`
	Cost        float64 `yaml:"cost"`
	MiningPower float64 `yaml:"mining_power"`
	BuildTime   int64   `yaml:"build_time"` // seconds
}

type Reward struct {
	BTC         float64 `yaml:"btc"`
	MiningPower float64 `yaml:"mining_power"`
}

type QuestTemplate struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Type        string  `yaml:"type"`
	Target      float64 `yaml:"target"`
	Reward      Reward  `yaml:"reward"`
}

type Syndicate struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	GoalType    string  `yaml:"goal_type"`
	GoalTarget  float64 `yaml:"goal_target"`
	Reward      Reward  `yaml:"reward"`
}

type Item struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	EffectType  string  `yaml:"effect_type"`
	EffectValue float64 `yaml:"effect_value"`
}

type Achievement struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Metric      string  `yaml:"metric"`
	Target      float64 `yaml:"target"`
}

func Default() Catalog {
	return Catalog{
		Farms: []FarmTemplate{
			{ID: "small", Name: "Small Farm", Level: 1, Cost: 10, MiningPower: 5, BuildTime: 300},
			{ID: "medium", Name: "Medium Farm", Level: 2, Cost: 50, MiningPower: 20, BuildTime: 600},
			{ID: "large", Name: "Large Farm", Level: 3, Cost: 200, MiningPower: 100, BuildTime: 1200},
		},
		Quests: []QuestTemplate{
			{
				ID: "first-farm", Name: "Breaking Ground", Description: "Get your first farm online.",
				Type: "farm-count", Target: 1, Reward: Reward{BTC: 5, MiningPower: 2},
			},
			{
				ID: "farm-empire", Name: "Farm Empire", Description: "Run three active farms at once.",
				Type: "farm-count", Target: 3, Reward: Reward{BTC: 20, MiningPower: 10},
			},
			{
				ID: "btc-hoarder", Name: "Hoarder", Description: "Grow your BTC balance by 50 over the starting grant.",
				Type: "btc-earned", Target: 50, Reward: Reward{BTC: 10, MiningPower: 5},
			},
		},
		Syndicates: []Syndicate{
			{
				ID: "syndicate1", Name: "Crypto Kings",
				Description: "A powerful syndicate focused on mining massive amounts of BTC.",
				GoalType:    "totalMinedBtc", GoalTarget: 1000, Reward: Reward{BTC: 50, MiningPower: 20},
			},
			{
				ID: "syndicate2", Name: "Darkweb Elites",
				Description: "Elite hackers working together to dominate the market.",
				GoalType:    "totalMinedBtc", GoalTarget: 500, Reward: Reward{BTC: 30, MiningPower: 10},
			},
		},
		Items: []Item{
			{ID: "asic-rig", Name: "Black Market ASIC", Description: "Smuggled rig, +10 TH/s.", Price: 25, EffectType: "miningPower", EffectValue: 10},
			{ID: "decryptor", Name: "Decryptor", Description: "Cracks cold wallets, +5 TH/s.", Price: 15, EffectType: "miningPower", EffectValue: 5},
			{ID: "contractor-bribe", Name: "Contractor Bribe", Description: "Farms cost 10% less to build.", Price: 40, EffectType: "buildCostMultiplier", EffectValue: 0.9},
		},
		Achievements: []Achievement{
			{ID: "first-transaction", Name: "First Transaction", Description: "Complete your first transaction.", Metric: "transactions", Target: 1},
			{ID: "millionaire", Name: "Millionaire", Description: "Earn 1000 BTC.", Metric: "btcBalance", Target: 1000},
			{ID: "quest-master", Name: "Quest Master", Description: "Complete 5 quests.", Metric: "questsCompleted", Target: 5},
		},
	}
}

// Load returns the default catalog with every section present in the YAML
// file at path replacing the matching default section. An empty path yields
// the defaults.
func Load(path string) (Catalog, error) {
	out := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read catalog: %w", err)
	}
	var override Catalog
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return out, fmt.Errorf("parse catalog: %w", err)
	}
	if len(override.Farms) > 0 {
		out.Farms = override.Farms
	}
	if len(override.Quests) > 0 {
		out.Quests = override.Quests
	}
	if len(override.Syndicates) > 0 {
		out.Syndicates = override.Syndicates
	}
	if len(override.Items) > 0 {
		out.Items = override.Items
	}
	if len(override.Achievements) > 0 {
		out.Achievements = override.Achievements
	}
	return out, out.Validate()
}

func (c Catalog) Validate() error {
	seen := map[string]bool{}
	for _, f := range c.Farms {
		if f.ID == "" || f.Cost < 0 || f.BuildTime < 0 {
			return fmt.Errorf("invalid farm template %q", f.ID)
		}
		if seen["farm/"+f.ID] {
			return fmt.Errorf("duplicate farm template %q", f.ID)
		}
		seen["farm/"+f.ID] = true
	}
	for _, q := range c.Quests {
		if q.ID == "" || q.Target <= 0 {
			return fmt.Errorf("invalid quest %q", q.ID)
		}
		if q.Type != "farm-count" && q.Type != "btc-earned" {
			return fmt.Errorf("quest %q has unknown type %q", q.ID, q.Type)
		}
	}
	for _, s := range c.Syndicates {
		if s.ID == "" || s.GoalTarget <= 0 {
			return fmt.Errorf("invalid syndicate %q", s.ID)
		}
	}
	for _, it := range c.Items {
		if it.ID == "" || it.Price < 0 {
			return fmt.Errorf("invalid item %q", it.ID)
		}
		if it.EffectType != "miningPower" && it.EffectType != "buildCostMultiplier" {
			return fmt.Errorf("item %q has unknown effect %q", it.ID, it.EffectType)
		}
	}
	return nil
}

func (c Catalog) Farm(id string) (FarmTemplate, bool) {
	for _, f := range c.Farms {
		if f.ID == id {
			return f, true
		}
	}
	return FarmTemplate{}, false
}
