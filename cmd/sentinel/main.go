// Command sentinel wires every policy engine (C1-C21) into one running
// process. Startup sequence and shutdown handling follow the teacher's
// own shape: sequential construction with a log line per stage, an
// HTTP listener for the operator websocket hub, and graceful shutdown
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	firebase "firebase.google.com/go"

	"github.com/sentineldesk/core/internal/adjustor"
	"github.com/sentineldesk/core/internal/breakeven"
	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/commands"
	"github.com/sentineldesk/core/internal/config"
	"github.com/sentineldesk/core/internal/editwatcher"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/executor"
	"github.com/sentineldesk/core/internal/hub"
	"github.com/sentineldesk/core/internal/intake"
	"github.com/sentineldesk/core/internal/logging"
	"github.com/sentineldesk/core/internal/lotsize"
	"github.com/sentineldesk/core/internal/margin"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/metrics"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/multisignal"
	"github.com/sentineldesk/core/internal/multitp"
	"github.com/sentineldesk/core/internal/notify"
	"github.com/sentineldesk/core/internal/persist"
	"github.com/sentineldesk/core/internal/randomizer"
	"github.com/sentineldesk/core/internal/ratelimit"
	"github.com/sentineldesk/core/internal/reverse"
	"github.com/sentineldesk/core/internal/router"
	"github.com/sentineldesk/core/internal/scheduler"
	"github.com/sentineldesk/core/internal/simulator"
	"github.com/sentineldesk/core/internal/smartentry"
	"github.com/sentineldesk/core/internal/spread"
	"github.com/sentineldesk/core/internal/symbols"
	"github.com/sentineldesk/core/internal/trailing"
)

// lifecycleRegistrar fans a newly-opened position out to every engine
// that tracks post-fill positions (C14-C17), satisfying executor.Registrar
// with a single call from the Trade Executor.
type lifecycleRegistrar struct {
	multiTP   *multitp.Manager
	trailing  *trailing.Engine
	breakEven *breakeven.Engine
	adjustor  *adjustor.Adjustor
	beConfig  breakeven.Config
	adjRule   adjustor.Rule
}

func (r *lifecycleRegistrar) RegisterPosition(pos *model.Position, intent model.TradeIntent) {
	r.multiTP.Register(pos)
	r.trailing.Register(pos)
	r.breakEven.Register(pos, r.beConfig)
	r.adjustor.Register(pos, r.adjRule)
}

func main() {
	logging.Info("sentinel engine starting...")
	logging.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	cfg := config.Load()
	clk := clock.RealClock{}
	bus := eventbus.New()

	store, err := persist.New(cfg.DataDir)
	if err != nil {
		logging.Alert("persist store init failed: %v", err)
		os.Exit(1)
	}

	var bridge broker.Bridge
	if cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" {
		bridge = broker.NewBinanceFutures(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.IsTestnet, cfg.Executor.MagicNumber)
		logging.Good("broker bridge: Binance futures (testnet=%v)", cfg.IsTestnet)
	} else {
		bridge = broker.NewSentinel()
		logging.Warn("broker credentials missing; running against the in-memory sentinel bridge")
	}

	resolver := symbols.New()
	cache := marketdata.New(bridge, resolver, clk)

	spreadGate := spread.New(cache, spread.Config{
		DefaultThresholdPips: decimal.NewFromFloat(cfg.Spread.DefaultThresholdPips),
	})

	marginGuard := margin.New(bridge, clk, bus, cfg.Margin.Thresholds, time.Duration(cfg.Margin.AlertCooldownMinutes)*time.Minute, decimal.Zero)

	rateLimiter := ratelimit.New(clk, ratelimit.Config{
		Symbol:                 ratelimit.Caps{Hourly: cfg.RateLimit.SymbolHourlyLimit, Daily: cfg.RateLimit.SymbolDailyLimit},
		Provider:               ratelimit.Caps{Hourly: cfg.RateLimit.ProviderHourlyLimit, Daily: cfg.RateLimit.ProviderDailyLimit},
		Global:                 ratelimit.Caps{Hourly: cfg.RateLimit.GlobalHourlyLimit, Daily: cfg.RateLimit.GlobalDailyLimit},
		CooldownMinutes:        cfg.RateLimit.CooldownMinutes,
		EmergencyOverrideLimit: cfg.RateLimit.EmergencyOverrideLimit,
		EmergencyDuration:      15 * time.Minute,
	})

	signalHandler := multisignal.New(multisignal.Config{
		MergeToleragePips:   decimal.NewFromFloat(2.0),
		Resolution:          multisignal.HighestPriority,
		MaxBucketSize:       20,
		ConfidenceThreshold: 0.5,
	})

	reverser := &reverse.Strategy{Rules: []reverse.Rule{
		{ID: "high-vol-full-reverse", Condition: reverse.HighVolatility, VolatilityThreshold: 0.85, Enabled: true, Action: reverse.FullReverse},
	}}

	conditionRouter := &router.Router{
		Rules: []router.Rule{
			{ID: "block-wide-spread", Conditions: []router.Condition{{Field: router.FieldSpread, Op: router.OpGte, Value: 8.0}}, Action: model.RouteBlockSignal},
		},
		DefaultAction: model.RouteProcessNormal,
	}

	randomizerEngine := randomizer.New(randomizer.Config{
		VarianceRange:     decimal.NewFromFloat(cfg.Randomizer.VarianceRange),
		RoundingPrecision: cfg.Randomizer.RoundingPrecision,
		AvoidRepeats:      cfg.Randomizer.AvoidRepeats,
		MaxRepeatHistory:  cfg.Randomizer.MaxRepeatHistory,
	})

	// The lifecycle engines (C14-C17) and the executor (C13) reference
	// each other: the executor needs a Registrar to hand off fresh
	// positions, and each engine needs the executor as its Mutator. The
	// registrar is built first with its engine fields nil, the engines
	// are constructed against the executor below, then the registrar's
	// fields are filled in — the executor itself is never reconstructed.
	lifecycle := &lifecycleRegistrar{
		beConfig: breakeven.Config{
			Trigger:            breakeven.FixedPips,
			ThresholdValue:     decimal.NewFromFloat(cfg.BreakEven.DefaultTriggerPips),
			BufferPips:         decimal.NewFromFloat(cfg.BreakEven.DefaultBufferPips),
			MinProfitPips:      decimal.NewFromFloat(cfg.BreakEven.MinProfitPips),
			OnlyWhenProfitable: cfg.BreakEven.OnlyWhenProfitable,
		},
		adjRule: adjustor.Rule{SpreadThresholdPips: decimal.NewFromFloat(6.0), BufferPips: decimal.NewFromFloat(2.0)},
	}

	exec := executor.New(bridge, resolver, spreadGate, marginGuard, bus, executor.Config{
		WorkerPoolSize:   int64(cfg.Executor.WorkerPoolSize),
		MaxSlippagePips:  decimal.NewFromFloat(cfg.Executor.MaxSlippagePips),
		MagicNumber:      cfg.Executor.MagicNumber,
		MaxRetries:       cfg.Executor.MaxRetries,
		RetryBaseDelayMS: cfg.Executor.RetryBaseDelayMS,
		RangePaceDelay:   500 * time.Millisecond,
	}, lifecycle)

	lifecycle.multiTP = multitp.New(cache, exec, clk, bus, multitp.Config{
		PollInterval:       time.Duration(cfg.MultiTP.DefaultMonitoringIntervalMS) * time.Millisecond,
		MinRemainingVolume: decimal.NewFromFloat(cfg.MultiTP.MinRemainingVolume),
		SLShift:            multitp.ShiftBreakEven,
		SLBufferPips:       decimal.NewFromFloat(cfg.MultiTP.DefaultSLBufferPips),
		DeviationPips:      decimal.NewFromFloat(cfg.MultiTP.MaxSlippagePips),
		PipSize:            resolver.PipSize,
	})
	lifecycle.trailing = trailing.New(cache, exec, clk, bus, trailing.Config{
		Method:      trailing.FixedPips,
		TrailPips:   decimal.NewFromFloat(cfg.Trailing.ActivationThresholdPips),
		TriggerPips: decimal.NewFromFloat(cfg.Trailing.ActivationThresholdPips),
		StepPips:    decimal.NewFromFloat(cfg.Trailing.StepSizePips),
	})
	lifecycle.breakEven = breakeven.New(cache, exec, clk, bus)
	lifecycle.adjustor = adjustor.New(cache, exec, clk, bus, adjustor.Config{
		PollInterval:             5 * time.Second,
		MaxAdjustmentsPerSession: 3,
		MinAdjustmentInterval:    10 * time.Minute,
	})

	smartEntryScheduler := smartentry.New(cache, spreadGate, exec, clk, bus, smartentry.Config{
		PollInterval:         250 * time.Millisecond,
		ToleragePips:         decimal.NewFromFloat(cfg.SmartEntry.PriceTolerancePips),
		MaxConcurrentWaiters: int64(cfg.SmartEntry.MaxConcurrentEntries),
		FallbackToImmediate:  cfg.SmartEntry.FallbackToImmediate,
	})

	sim := simulator.New(resolver, cache, spreadGate, reverser, conditionRouter, lotsizeTemplate(), nil)
	intakeBuilder := intake.New(resolver, cache, reverser, lotsizeTemplate())

	roles := commands.StaticRoleResolver{Admins: map[string]bool{}}
	for _, id := range cfg.Command.AdminUsers {
		roles.Admins[id] = true
	}
	interp := commands.New(roles, commands.FeatureFlags{
		StealthEnabled: cfg.Command.StealthCommandsEnabled,
		ReplayEnabled:  cfg.Command.ReplayCommandsEnabled,
	}, 50)

	watcher := editwatcher.New(nil, exec, clk, bus, editwatcher.Config{
		MaxEditWindow: 30 * time.Minute,
		MinChangePips: decimal.NewFromFloat(1.0),
	})

	sched := scheduler.New(clk)
	sched.Register(scheduler.Job{Name: "margin-refresh", Interval: time.Second, Run: func(ctx context.Context) { _ = marginGuard.Refresh(ctx) }})
	if cfg.Margin.EmergencyCloseEnabled {
		sched.Register(scheduler.Job{Name: "margin-emergency-close", Interval: time.Second, Run: func(ctx context.Context) {
			positions, err := bridge.Positions(ctx)
			if err != nil {
				logging.Warn("emergency close: positions lookup failed: %v", err)
				return
			}
			if err := marginGuard.EmergencyClose(ctx, exec, positions); err != nil {
				logging.Alert("emergency close failed: %v", err)
			}
		}})
	}

	wsHub := hub.New()
	http.HandleFunc("/ws/operator", wsHub.HandleWebSocket)
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", SimpleHealthCheck)

	var telegram *notify.TelegramSink
	if cfg.TelegramBotToken != "" {
		telegram, err = notify.NewTelegramSink(cfg.TelegramBotToken, store, interp, commandHandler(interp), notify.DefaultFormatter)
		if err != nil {
			logging.Warn("telegram sink unavailable: %v", err)
		} else {
			logging.Good("telegram notifications enabled")
		}
	} else {
		logging.Warn("TELEGRAM_BOT_TOKEN not set; notifications disabled")
	}

	var fcm *notify.FCMSink
	if cfg.FirebaseCredsPath != "" {
		app, err := firebase.NewApp(context.Background(), nil)
		if err != nil {
			logging.Warn("firebase init failed: %v", err)
		} else if sink, err := notify.NewFCMSink(context.Background(), app, "sentinel-alerts", notify.DefaultFormatter, 500); err != nil {
			logging.Warn("fcm sink unavailable: %v", err)
		} else {
			fcm = sink
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	go lifecycle.multiTP.Run(ctx)
	go lifecycle.trailing.Run(ctx)
	go lifecycle.breakEven.Run(ctx)
	go lifecycle.adjustor.Run(ctx)
	go wsHub.Relay(ctx, bus)
	go metrics.Relay(ctx, bus)

	if telegram != nil {
		go telegram.Listen(ctx)
		go telegram.Relay(ctx, bus)
	}
	if fcm != nil {
		go fcm.StartWorker(ctx)
		go fcm.Relay(ctx, bus)
		defer fcm.Close()
	}

	// signalHandler, rateLimiter, randomizerEngine, smartEntryScheduler,
	// sim, intakeBuilder and watcher are consulted by the ingestion
	// pipeline (the external signal-parsing collaborator that calls
	// intakeBuilder.Build then exec.Submit for every accepted signal);
	// referenced here so the wiring layer owns their lifetime.
	_ = signalHandler
	_ = rateLimiter
	_ = randomizerEngine
	_ = smartEntryScheduler
	_ = sim
	_ = intakeBuilder
	_ = watcher

	go func() {
		logging.Info("operator websocket hub listening on :8081")
		if err := http.ListenAndServe(":8081", nil); err != nil {
			logging.Alert("http server stopped: %v", err)
		}
	}()

	logging.Good("all systems go")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutdown signal received, stopping cleanly...")
	cancel()
	sched.Stop()
	fmt.Println("sentinel stopped.")
}

// lotsizeTemplate is the simulator's default lot-sizing policy: risk a
// fixed percent of a nominal balance, the same starting point every
// live TradeIntent's lot request uses before per-signal overrides.
func lotsizeTemplate() lotsize.Request {
	return lotsize.Request{
		Mode:      lotsize.RiskPercent,
		Parameter: decimal.NewFromFloat(1.0),
		Balance:   decimal.NewFromFloat(10000),
		MinLot:    decimal.NewFromFloat(0.01),
		MaxLot:    decimal.NewFromFloat(10),
		Precision: 2,
	}
}

// commandHandler adapts the Command Interpreter's authorized commands
// into operator-facing reply text. Full command execution (status
// snapshots, stealth toggles, replay) is delegated to whichever engine
// owns that state; this wiring layer only renders the acknowledgement.
func commandHandler(interp *commands.Interpreter) notify.CommandHandler {
	return func(ctx context.Context, cmd model.Command) string {
		switch cmd.Kind {
		case model.CmdStatus:
			return "status: engine running"
		case model.CmdHelp:
			return "commands: /status /pause /resume /stealth /set /get /replay"
		default:
			return fmt.Sprintf("ok: %s", cmd.Kind)
		}
	}
}
