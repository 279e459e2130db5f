package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"circlepot/internal/circle"
	"circlepot/internal/collaborator"
	"circlepot/internal/handler"
	"circlepot/internal/repository/memory"
	"circlepot/internal/repository/postgres"
	"circlepot/internal/repository/redisinvite"
	"circlepot/internal/treasury"
	"circlepot/internal/yield"
	"circlepot/pkg/config"
	"circlepot/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("circled")

	log.Info("Starting circle engine gateway", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	// Circle store: postgres when configured, in-memory otherwise.
	var store circle.Store
	if cfg.Database.URL != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatal("Failed to connect to database", map[string]interface{}{
				"error": err.Error(),
			})
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		store = postgres.NewCircleStore(db)
		log.Info("Database connected", nil)
	} else {
		store = memory.NewStore()
		log.Warn("DATABASE_URL not set, using in-memory circle store", nil)
	}

	// Invite store: redis when reachable, in-memory otherwise.
	var invites circle.InviteStore
	if redisStore, err := redisinvite.NewStore(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB); err == nil {
		defer redisStore.Close()
		invites = redisStore
		log.Info("Redis connected", nil)
	} else {
		invites = memory.NewInviteStore()
		log.Warn("Redis unavailable, using in-memory invite store", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// External collaborators. The local implementations stand in until the
	// production transfer/reputation/vault clients are wired.
	transfer := collaborator.NewLedgerTransfer()
	reputation := collaborator.NewLoggingReputation(log)
	vault := yield.NewAdapter(collaborator.NewFixedRateVault(250), log)

	treasuryMgr := treasury.NewManager()
	service := circle.NewService(store, transfer, reputation, vault, invites, treasuryMgr, cfg.Engine, nil, log)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.NewCircleHandler(service, treasuryMgr, log).RegisterRoutes(api)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("Gateway listening", map[string]interface{}{"addr": srv.Addr})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
	}
}
