package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tycoon/internal/catalog"
	cl "tycoon/internal/cli"
	"tycoon/internal/game"
	"tycoon/internal/syncq"

	"github.com/spf13/cobra"
)

func newProfileCmd(apiBase *string) *cobra.Command {
	profile := &cobra.Command{
		Use:   "profile",
		Short: "Show your profile, achievements and weekly stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Profile(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderProfile(out)
				return nil
			})
		},
	}

	var nickname, avatar string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change nickname or avatar",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nickname == "" && avatar == "" {
				return fmt.Errorf("pass --nickname and/or --avatar")
			}
			if nickname != "" {
				if err := game.ValidateNickname(nickname); err != nil {
					return err
				}
			}
			if avatar != "" {
				if err := game.ValidateAvatar(avatar); err != nil {
					return err
				}
			}
			return submit(cmd, apiBase, syncq.Command{
				Method:      "PATCH",
				Path:        "/v1/profile",
				Body:        map[string]any{"nickname": nickname, "avatar": avatar},
				Description: "profile update",
			}, func(raw map[string]any) error {
				acct, err := decodeInto[game.Account](raw)
				if err != nil {
					return err
				}
				printSuccess("Profile updated: " + displayName(acct))
				return nil
			})
		},
	}
	set.Flags().StringVar(&nickname, "nickname", "", "new nickname")
	set.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	profile.AddCommand(set)
	return profile
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var limit int
	var syndicates bool
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Aliases: []string{"lb", "top"},
		Short:   "Top players by BTC, or syndicates by goal progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				if syndicates {
					rows, err := client.SyndicateLeaderboard(ctx, sess.AccessToken, limit)
					if err != nil {
						return err
					}
					renderSyndicateLeaderboard(rows)
					return nil
				}
				rows, err := client.Leaderboard(ctx, sess.AccessToken, limit)
				if err != nil {
					return err
				}
				renderLeaderboard(rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	cmd.Flags().BoolVar(&syndicates, "syndicates", false, "rank syndicates instead of players")
	return cmd
}

func newFarmsCmd(apiBase *string) *cobra.Command {
	farms := &cobra.Command{
		Use:     "farms",
		Aliases: []string{"farm"},
		Short:   "Mining farm commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Farms(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				fmt.Println()
				renderFarms(out)
				fmt.Println()
				return nil
			})
		},
	}

	farms.AddCommand(&cobra.Command{
		Use:   "build [template]",
		Short: "Start building a farm from a template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID := ""
			if len(args) == 1 {
				templateID = strings.TrimSpace(args[0])
			} else {
				accent.Println("\n== FARM TEMPLATES ==")
				ids := make([]string, 0)
				fmt.Printf("%-14s %-22s %12s %10s %10s\n", "ID", "NAME", "COST", "POWER", "BUILD")
				for _, t := range catalog.Default().Farms {
					ids = append(ids, t.ID)
					fmt.Printf("%-14s %-22s %12.2f %10.2f %9ds\n", t.ID, truncate(t.Name, 22), t.Cost, t.MiningPower, t.BuildTime)
				}
				fmt.Println()
				choice, err := promptChoice("Template", ids, ids[0])
				if err != nil {
					return err
				}
				templateID = choice
			}
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/farms",
				Body:        map[string]any{"template_id": templateID},
				Description: "build " + templateID,
			}, func(raw map[string]any) error {
				farm, err := decodeInto[game.Farm](raw)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Construction started: %s (ready %s)", farm.Name, localTime(farm.ConstructionEnd)))
				return nil
			})
		},
	})
	return farms
}

func newMarketCmd(apiBase *string) *cobra.Command {
	market := &cobra.Command{
		Use:   "market",
		Short: "BTC market commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Quote(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderQuote(out)
				return nil
			})
		},
	}

	trade := func(side string) *cobra.Command {
		return &cobra.Command{
			Use:   side + " [btc]",
			Short: strings.ToUpper(side[:1]) + side[1:] + " BTC at the current price",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := decimalArgOrPrompt(args, 0, "BTC to "+side)
				if err != nil {
					return err
				}
				return submit(cmd, apiBase, syncq.Command{
					Method:      "POST",
					Path:        "/v1/market/trades",
					Body:        map[string]any{"side": side, "amount": amount.String()},
					Description: fmt.Sprintf("%s %s BTC", side, amount),
				}, func(raw map[string]any) error {
					out, err := decodeInto[game.TradeResult](raw)
					if err != nil {
						return err
					}
					renderTrade(out, side)
					return nil
				})
			},
		}
	}
	market.AddCommand(trade("buy"), trade("sell"))

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Your recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Transactions(ctx, sess.AccessToken, limit)
				if err != nil {
					return err
				}
				renderTransactions(out)
				return nil
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "rows to show")
	market.AddCommand(history)

	market.AddCommand(&cobra.Command{
		Use:   "weekly",
		Short: "Weekly trading and mining totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				raw, err := client.Do(ctx, "GET", "/v1/stats/weekly", sess.AccessToken, nil, "")
				if err != nil {
					return err
				}
				out, err := decodeInto[struct {
					Weeks []game.WeeklyStats `json:"weeks"`
				}](raw)
				if err != nil {
					return err
				}
				fmt.Println()
				renderWeekly(out.Weeks)
				fmt.Println()
				return nil
			})
		},
	})
	return market
}

func newQuestsCmd(apiBase *string) *cobra.Command {
	quests := &cobra.Command{
		Use:     "quests",
		Aliases: []string{"quest"},
		Short:   "Quest board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Quests(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderQuests(out)
				return nil
			})
		},
	}
	quests.AddCommand(&cobra.Command{
		Use:   "accept [quest-id]",
		Short: "Accept a quest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Quest ID")
			if err != nil {
				return err
			}
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/quests/" + url.PathEscape(id) + "/accept",
				Description: "accept quest " + id,
			}, func(map[string]any) error {
				printSuccess("Quest accepted: " + id)
				return nil
			})
		},
	})
	quests.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Evaluate progress and collect completed quest rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/quests/evaluate",
				Description: "quest check",
			}, func(raw map[string]any) error {
				out, err := decodeInto[struct {
					Quests []game.QuestView `json:"quests"`
				}](raw)
				if err != nil {
					return err
				}
				renderQuests(out.Quests)
				return nil
			})
		},
	})
	return quests
}

func newSyndicateCmd(apiBase *string) *cobra.Command {
	syn := &cobra.Command{
		Use:     "syndicate",
		Aliases: []string{"syn"},
		Short:   "Syndicate commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Syndicates(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderSyndicates(out)
				return nil
			})
		},
	}

	syn.AddCommand(&cobra.Command{
		Use:   "show <syndicate-id>",
		Short: "Show one syndicate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				raw, err := client.Do(ctx, "GET", "/v1/syndicates/"+url.PathEscape(args[0]), sess.AccessToken, nil, "")
				if err != nil {
					return err
				}
				out, err := decodeInto[game.Syndicate](raw)
				if err != nil {
					return err
				}
				renderSyndicate(out)
				return nil
			})
		},
	})

	syn.AddCommand(&cobra.Command{
		Use:   "me",
		Short: "Your membership and contribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				raw, err := client.Do(ctx, "GET", "/v1/syndicates/me", sess.AccessToken, nil, "")
				if err != nil {
					return err
				}
				m, err := decodeInto[game.Membership](raw)
				if err != nil {
					return err
				}
				accent.Println("\n== MEMBERSHIP ==")
				fmt.Printf("Syndicate:    %s\n", m.SyndicateID)
				fmt.Printf("Contribution: %s\n", m.Contribution.StringFixed(4))
				fmt.Printf("Joined:       %s\n\n", localTime(m.JoinedAt))
				return nil
			})
		},
	})

	syn.AddCommand(&cobra.Command{
		Use:   "join [syndicate-id]",
		Short: "Join a syndicate",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Syndicate ID")
			if err != nil {
				return err
			}
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/syndicates/" + url.PathEscape(id) + "/join",
				Description: "join syndicate " + id,
			}, func(map[string]any) error {
				printSuccess("Joined syndicate " + id)
				return nil
			})
		},
	})

	syn.AddCommand(&cobra.Command{
		Use:   "leave",
		Short: "Leave your syndicate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/syndicates/leave",
				Description: "leave syndicate",
			}, func(map[string]any) error {
				printSuccess("Left your syndicate.")
				return nil
			})
		},
	})

	var limit int
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Read syndicate chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Chat(ctx, sess.AccessToken, limit)
				if err != nil {
					return err
				}
				renderChat(out)
				return nil
			})
		},
	}
	chat.Flags().IntVar(&limit, "limit", 30, "messages to show")
	syn.AddCommand(chat)

	syn.AddCommand(&cobra.Command{
		Use:   "say <message...>",
		Short: "Post to syndicate chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/syndicates/chat",
				Body:        map[string]any{"message": message},
				Description: "chat message",
			}, func(map[string]any) error {
				printSuccess("Sent.")
				return nil
			})
		},
	})
	return syn
}

func newHeistCmd(apiBase *string) *cobra.Command {
	heist := &cobra.Command{
		Use:   "heist",
		Short: "Weekly CryptoBank heist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Heist(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderHeist(out)
				return nil
			})
		},
	}
	step := func(use, short, path, done string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return submit(cmd, apiBase, syncq.Command{
					Method:      "POST",
					Path:        path,
					Description: "heist " + use,
				}, func(raw map[string]any) error {
					out, err := decodeInto[game.HeistEvent](raw)
					if err != nil {
						return err
					}
					printSuccess(done)
					renderHeist(out)
					return nil
				})
			},
		}
	}
	heist.AddCommand(
		step("join", "Enter your syndicate in this week's heist", "/v1/heist/join", "Your syndicate is in."),
		step("advance", "Push the heist forward", "/v1/heist/advance", "Heist advanced."),
	)
	return heist
}

func newPrisonCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prison",
		Short: "Check whether you are locked up",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Prison(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderPrison(out)
				return nil
			})
		},
	}
}

func newDarkwebCmd(apiBase *string) *cobra.Command {
	dw := &cobra.Command{
		Use:     "darkweb",
		Aliases: []string{"shop"},
		Short:   "Dark web market",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Items(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderItems(out)
				return nil
			})
		},
	}
	dw.AddCommand(&cobra.Command{
		Use:   "buy [item-id]",
		Short: "Buy an item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Item ID")
			if err != nil {
				return err
			}
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/darkweb/items/" + url.PathEscape(id) + "/buy",
				Description: "buy item " + id,
			}, func(raw map[string]any) error {
				acct, err := decodeInto[game.Account](raw)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Bought %s. Balance: %s", id, btc(acct.BTCBalance)))
				return nil
			})
		},
	})
	return dw
}

func newNeonCmd(apiBase *string) *cobra.Command {
	neon := &cobra.Command{
		Use:   "neon",
		Short: "Your AI companion NEON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Neon(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderCompanion(out)
				return nil
			})
		},
	}

	companionWrite := func(use, short, path, done string, body func(args []string) (map[string]any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var payload map[string]any
				if body != nil {
					var err error
					if payload, err = body(args); err != nil {
						return err
					}
				}
				return submit(cmd, apiBase, syncq.Command{
					Method:      "POST",
					Path:        path,
					Body:        payload,
					Description: "neon " + strings.Fields(use)[0],
				}, func(raw map[string]any) error {
					c, err := decodeInto[game.Companion](raw)
					if err != nil {
						return err
					}
					printSuccess(done)
					renderCompanion(c)
					return nil
				})
			},
		}
	}

	neon.AddCommand(
		companionWrite("upgrade", "Spend loyalty and shards on the next NEON level", "/v1/neon/upgrade", "NEON upgraded.", nil),
		companionWrite("unlock [bonus]", "Unlock "+game.BonusOverclock+", "+game.BonusHackShield+" or "+game.BonusDataVault, "/v1/neon/bonuses", "Bonus unlocked.",
			func(args []string) (map[string]any, error) {
				bonus := ""
				if len(args) == 1 {
					bonus = args[0]
				} else {
					options := []string{game.BonusOverclock, game.BonusHackShield, game.BonusDataVault}
					for _, b := range options {
						fmt.Printf("  %-12s %d loyalty\n", b, game.BonusCosts[b])
					}
					var err error
					if bonus, err = promptChoice("Bonus", options, game.BonusOverclock); err != nil {
						return nil, err
					}
				}
				return map[string]any{"bonus": bonus}, nil
			}),
		companionWrite("legacy", "Advance the Legacy quest chain", "/v1/neon/legacy", "Legacy step complete.", nil),
		companionWrite("counter", "Counter SHADOW and lower its threat", "/v1/neon/counter", "SHADOW pushed back.", nil),
	)

	neon.AddCommand(&cobra.Command{
		Use:   "complete [quest-id]",
		Short: "Complete one of NEON's quests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Quest ID")
			if err != nil {
				return err
			}
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/neon/quests/" + url.PathEscape(id) + "/complete",
				Description: "neon quest " + id,
			}, func(raw map[string]any) error {
				c, err := decodeInto[game.Companion](raw)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Quest done. Loyalty %d, shards %d.", c.LoyaltyPoints, c.Shards))
				return nil
			})
		},
	})

	neon.AddCommand(&cobra.Command{
		Use:   "ask [topic]",
		Short: "Ask NEON for advice (" + game.TopicStrategy + " or " + game.TopicMiningPower + ")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := game.TopicStrategy
			if len(args) == 1 {
				topic = strings.TrimSpace(args[0])
			}
			return submit(cmd, apiBase, syncq.Command{
				Method:      "POST",
				Path:        "/v1/neon/ask",
				Body:        map[string]any{"topic": topic},
				Description: "ask neon",
			}, func(raw map[string]any) error {
				msg, err := decodeInto[game.NeonMessage](raw)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", accent.Sprint("NEON:"), msg.Message)
				return nil
			})
		},
	})

	var limit int
	messages := &cobra.Command{
		Use:   "messages",
		Short: "What NEON has told you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.NeonMessages(ctx, sess.AccessToken, limit)
				if err != nil {
					return err
				}
				renderNeonMessages(out)
				return nil
			})
		},
	}
	messages.Flags().IntVar(&limit, "limit", 20, "messages to show")
	neon.AddCommand(messages)

	neon.AddCommand(&cobra.Command{
		Use:   "attacks",
		Short: "SHADOW attack history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				raw, err := client.Do(ctx, "GET", "/v1/neon/attacks", sess.AccessToken, nil, "")
				if err != nil {
					return err
				}
				out, err := decodeInto[struct {
					Attacks []game.ShadowAttack `json:"attacks"`
				}](raw)
				if err != nil {
					return err
				}
				renderAttacks(out.Attacks)
				return nil
			})
		},
	})
	return neon
}

func newArenaCmd(apiBase *string) *cobra.Command {
	arena := &cobra.Command{
		Use:   "arena",
		Short: "Cyber Arena",
	}

	arena.AddCommand(&cobra.Command{
		Use:   "play",
		Short: "Play the arena in an interactive terminal view",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			return playArena(cmd.Context(), newClient(apiBase), sess.AccessToken)
		},
	})

	arena.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the running arena session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				run, err := client.ArenaState(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				fmt.Println(renderRun(run, 40))
				return nil
			})
		},
	})

	arena.AddCommand(&cobra.Command{
		Use:   "do <action> [arg]",
		Short: "Send one command: select_bonus <bonus>, start_wave, laser, overclock, hack_shield, pick_up <id>, quit",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := game.ArenaCommand{Action: strings.TrimSpace(args[0])}
			if len(args) == 2 {
				switch ac.Action {
				case game.ArenaSelectBonus:
					ac.Bonus = args[1]
				case game.ArenaPickUp:
					ac.PowerUpID = args[1]
				default:
					return fmt.Errorf("%s takes no argument", ac.Action)
				}
			}
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				run, err := client.ArenaCommand(ctx, sess.AccessToken, ac)
				if run.Phase != "" {
					fmt.Println(renderRun(run, 40))
				}
				return err
			})
		},
	})

	arena.AddCommand(&cobra.Command{
		Use:   "results",
		Short: "Past arena runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.ArenaResults(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderArenaResults(out)
				return nil
			})
		},
	})
	return arena
}

func waveLabel(run game.ArenaRun) string {
	return "Wave " + strconv.Itoa(run.Wave) + "/" + strconv.Itoa(game.ArenaWaves)
}
