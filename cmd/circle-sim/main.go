// circle-sim drives a full circle lifecycle against the local
// collaborators: create, invite, join, three rounds with one forfeiture,
// completion and collateral release.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"circlepot/internal/circle"
	"circlepot/internal/collaborator"
	"circlepot/internal/repository/memory"
	"circlepot/internal/treasury"
	"circlepot/internal/yield"
	"circlepot/pkg/config"
	"circlepot/pkg/logger"
	"circlepot/pkg/money"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("================================================================")
	fmt.Println("   CIRCLEPOT ENGINE - LIFECYCLE SIMULATION")
	fmt.Println("================================================================")

	logg := logger.New("circle-sim")
	cfg := config.DefaultEngineConfig()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	transfer := collaborator.NewLedgerTransfer()
	reputation := collaborator.NewLoggingReputation(logg)
	vault := yield.NewAdapter(collaborator.NewFixedRateVault(250), logg)
	store := memory.NewStore()
	invites := memory.NewInviteStore()
	treasuryMgr := treasury.NewManager()

	service := circle.NewService(store, transfer, reputation, vault, invites, treasuryMgr, cfg, clock, logg)
	ctx := context.Background()

	alice := uuid.New() // creator
	bob := uuid.New()
	carol := uuid.New()
	names := map[uuid.UUID]string{alice: "alice", bob: "bob", carol: "carol"}

	for user := range names {
		transfer.Fund(user, 1_000_000)
	}
	reputation.SetScore(bob, 40)
	reputation.SetScore(carol, 75)

	fmt.Println("\n[1] Creating a private yield circle (contribution 10,000, 3 members)...")
	c, err := service.CreateCircle(ctx, &circle.CreateCircleRequest{
		Creator:      alice,
		Title:        "Neighborhood savings",
		Contribution: 10_000,
		Frequency:    "weekly",
		MaxMembers:   3,
		Visibility:   "private",
		YieldEnabled: true,
	})
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	id := c.Config.ID
	fmt.Printf("    - Circle %d created, collateral per member: %d\n", id, c.Members[0].CollateralLocked)

	fmt.Println("\n[2] Inviting and joining until auto-start...")
	for _, user := range []uuid.UUID{bob, carol} {
		if err := service.InviteMember(ctx, id, alice, user); err != nil {
			log.Fatalf("invite: %v", err)
		}
		if _, err := service.JoinCircle(ctx, &circle.JoinRequest{CircleID: id, UserID: user}); err != nil {
			log.Fatalf("join: %v", err)
		}
	}
	detail, _ := service.GetCircle(ctx, id)
	fmt.Printf("    - State: %s, rounds: %d\n", detail.Status.State, detail.Status.TotalRounds)

	members, _ := service.ListMembers(ctx, id)
	fmt.Println("\n[3] Payout rotation (creator pinned, then by reputation):")
	for _, m := range members {
		fmt.Printf("    - position %d: %s\n", m.Position, names[m.UserID])
	}

	fmt.Println("\n[4] Round 1: everyone pays on time...")
	for user := range names {
		if err := service.Contribute(ctx, &circle.ContributeRequest{CircleID: id, UserID: user}); err != nil {
			log.Fatalf("contribute: %v", err)
		}
	}
	progress, _ := service.GetProgress(ctx, id)
	fmt.Printf("    - Round paid, now on round %d (%s%% complete)\n", progress.CurrentRound, progress.PercentComplete)

	fmt.Println("\n[5] Round 2: bob misses the deadline and is forfeited...")
	now = now.Add(24 * time.Hour)
	for _, user := range []uuid.UUID{alice, carol} {
		if err := service.Contribute(ctx, &circle.ContributeRequest{CircleID: id, UserID: user}); err != nil {
			log.Fatalf("contribute: %v", err)
		}
	}
	now = now.Add(9 * 24 * time.Hour) // deadline plus grace has passed
	count, err := service.Forfeit(ctx, &circle.ForfeitRequest{CircleID: id, Caller: carol, Candidates: []uuid.UUID{bob}})
	if err != nil {
		log.Fatalf("forfeit: %v", err)
	}
	fmt.Printf("    - Forfeited members: %d\n", count)

	fmt.Println("\n[6] Round 3: final round, then completion release...")
	now = now.Add(24 * time.Hour)
	for user := range names {
		if err := service.Contribute(ctx, &circle.ContributeRequest{CircleID: id, UserID: user}); err != nil {
			log.Fatalf("contribute: %v", err)
		}
	}
	detail, _ = service.GetCircle(ctx, id)
	fmt.Printf("    - State: %s\n", detail.Status.State)

	fmt.Println("\n[7] Final balances:")
	for user, name := range names {
		balance, _ := transfer.BalanceOf(ctx, user)
		fmt.Printf("    - %-6s %d\n", name, balance)
	}
	fmt.Printf("    - platform treasury: %d (entries: %d)\n", treasuryMgr.Balance(), len(treasuryMgr.Entries(0)))
	fmt.Printf("    - platform float:    %d\n", transfer.Float())

	var dust money.Amount = transfer.Float() - treasuryMgr.Balance()
	fmt.Printf("    - float minus accrued fees: %d\n", dust)
}
