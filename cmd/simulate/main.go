package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/egress/internal/control"
	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/infra/egress/cost"
	"github.com/vietddude/egress/internal/infra/egress/selector"
	"github.com/vietddude/stylelog"
)

// site is a fake target with a fixed response mix.
type site struct {
	url       string
	banRate   float64 // share of requests answered with banBody
	status    int
	banBody   string
	headers   map[string]string
	minLatent time.Duration
}

var sites = []site{
	{url: "https://shop.example.com/products", banRate: 0.05, status: 403, banBody: "Access denied. Your IP has been blocked.", minLatent: 300 * time.Millisecond},
	{url: "https://news.example.co.uk/latest", banRate: 0.25, status: 429, banBody: "Too many requests", headers: map[string]string{"Retry-After": "30"}, minLatent: 200 * time.Millisecond},
	{url: "https://www.linkedin.com/jobs", banRate: 0.6, status: 200, banBody: `<html><title>Just a moment...</title><div class="g-recaptcha"></div></html>`, minLatent: 800 * time.Millisecond},
	{url: "https://social.example.net/feed", banRate: 0.95, status: 403, banBody: "Your IP address has been banned", minLatent: 500 * time.Millisecond},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	rounds := flag.Int("rounds", 40, "requests per site")
	strategy := flag.String("strategy", string(selector.StrategyScoreOptimized), "selection strategy")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	stylelog.InitDefault(&tint.Options{Level: slog.LevelWarn, TimeFormat: time.Kitchen})

	strat, err := selector.ParseStrategy(*strategy)
	if err != nil {
		log.Fatalf("invalid strategy: %v", err)
	}
	rng := rand.New(rand.NewPCG(*seed, *seed+1))

	// 1. Create controller with simulated time
	now := time.Now().UTC()
	cfg := control.DefaultControllerConfig()
	cfg.UnitCosts = cost.DefaultUnitCosts()
	ctrl := control.NewController(cfg)
	ctrl.SetClock(func() time.Time { return now })
	ctrl.Planner().SetSleeper(func(ctx context.Context, d time.Duration) error {
		now = now.Add(d)
		return ctx.Err()
	})

	// 2. Admit the proxy pool
	ctrl.AdmitProxies(
		domain.ProxyDescriptor{ID: "res-us-1", Class: domain.ProxyClassResidential, Country: "US"},
		domain.ProxyDescriptor{ID: "res-gb-1", Class: domain.ProxyClassResidential, Country: "GB"},
		domain.ProxyDescriptor{ID: "dc-us-1", Class: domain.ProxyClassDatacenter, Country: "US"},
		domain.ProxyDescriptor{ID: "dc-de-1", Class: domain.ProxyClassDatacenter, Country: "DE"},
		domain.ProxyDescriptor{ID: "mob-us-1", Class: domain.ProxyClassMobile, Country: "US"},
	)

	fmt.Println("=== Simulating fetches ===")
	fmt.Println()

	ctx := context.Background()
	for i := 0; i < *rounds; i++ {
		for _, s := range sites {
			now = now.Add(5 * time.Second)
			if !ctrl.ShouldProceed(s.url) {
				continue
			}

			// 3. Pick a proxy and fake the response
			proxy, ok := ctrl.SelectProxy(s.url, domain.ProxyRequirements{}, strat)
			if !ok {
				fmt.Println("No proxy available")
				return
			}
			attempt := control.Attempt{
				Target:       s.url,
				ProxyID:      proxy.ID,
				ResponseTime: s.minLatent + time.Duration(rng.IntN(400))*time.Millisecond,
				Strategy:     strat,
				Outcome:      domain.FetchOutcome{StatusCode: 200, Body: "<html><body>ok</body></html>"},
			}
			// Datacenter exits get banned twice as often.
			banRate := s.banRate
			if proxy.Class == domain.ProxyClassDatacenter {
				banRate = min(1, banRate*2)
			}
			if rng.Float64() < banRate {
				attempt.Outcome = domain.FetchOutcome{StatusCode: s.status, Headers: s.headers, Body: s.banBody}
			}

			// 4. Feed the outcome back
			decision, err := ctrl.HandleOutcome(ctx, attempt)
			if err != nil {
				log.Fatalf("handle outcome: %v", err)
			}
			if decision.Banned {
				next, action := "-", "abandoned"
				if decision.NextProxy != nil {
					next = decision.NextProxy.ID
				}
				if decision.Directive != nil {
					action = decision.Directive.ActionTaken
				}
				fmt.Printf("%-36s %-9s %-20s conf=%.2f action=%q next=%s\n",
					s.url, proxy.ID, decision.BanType, decision.Confidence, action, next)
			}
		}
	}

	fmt.Println()
	fmt.Println("=== Domain health ===")
	for _, name := range ctrl.Reputation().Domains() {
		h := ctrl.DomainHealth(name)
		fmt.Printf("%-24s state=%-10s score=%.2f bans=%d trend=%s\n", name, h.State, h.Score, h.TotalBans, h.Trend)
	}

	fmt.Println()
	fmt.Println("=== Statistics ===")
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(ctrl.Statistics())
}
