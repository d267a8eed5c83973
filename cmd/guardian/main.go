package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"nettie/internal/config"
	"nettie/internal/database"
	"nettie/internal/handlers"
	"nettie/internal/models"
	"nettie/internal/push"
	"nettie/internal/repository"
	"nettie/internal/security"
	"nettie/internal/service"
	"nettie/internal/store"
)

func main() {
	setPasscode := flag.String("set-passcode", "", "Set the dashboard passcode and exit")
	alertEmail := flag.String("set-alert-email", "", "Set the escalation alert email address and exit")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize the local preference cache (sqlite, postgres, mysql)
	db, err := database.InitializeFromType(cfg.CacheType, cfg.CachePath, cfg.CacheURL)
	if err != nil {
		log.Fatalf("Failed to initialize preference cache: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	prefsRepo := repository.NewPrefsRepository(db)

	// One-shot maintenance flags
	if *setPasscode != "" {
		authService := service.NewAuthService(prefsRepo, cfg.JWTSecret, cfg.JWTExpiry)
		if err := authService.SetPasscode(*setPasscode); err != nil {
			log.Fatalf("Failed to set passcode: %v", err)
		}
		log.Println("Passcode updated")
		return
	}
	if *alertEmail != "" {
		if err := prefsRepo.SetSetting(repository.SettingAlertEmail, *alertEmail); err != nil {
			log.Fatalf("Failed to set alert email: %v", err)
		}
		log.Println("Alert email updated")
		return
	}

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect the shared state store
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect state store: %v", err)
	}

	// Resolve or mint this device's guardian identity
	identity, err := bootstrapGuardian(prefsRepo)
	if err != nil {
		log.Fatalf("Failed to bootstrap guardian identity: %v", err)
	}
	log.Printf("Guardian identity: %s (household %s)", identity.GuardianID, identity.HouseholdID)

	// Initialize repositories
	tokenRepo := repository.NewTokenRepository(st)
	membershipRepo := repository.NewMembershipRepository(st)
	consentRepo := repository.NewConsentRepository(st)
	escalationRepo := repository.NewEscalationRepository(st)
	presenceRepo := repository.NewPresenceRepository(st)
	locationRepo := repository.NewLocationRepository(st)

	// Initialize services
	pairingService := service.NewPairingService(tokenRepo, membershipRepo, cfg.TokenTTL)
	consentService := service.NewConsentService(consentRepo, membershipRepo)
	escalationService := service.NewEscalationService(escalationRepo, membershipRepo, presenceRepo)
	presenceService := service.NewPresenceService(presenceRepo, locationRepo)
	authService := service.NewAuthService(prefsRepo, cfg.JWTSecret, cfg.JWTExpiry)

	var pusher *push.Client
	if cfg.FCMEnabled {
		pusher, err = push.NewClient(ctx, cfg.CredentialsFile)
		if err != nil {
			log.Printf("Warning: push alerts disabled: %v", err)
			pusher = nil
		}
	}
	alertService, err := service.NewAlertService(cfg.SESRegion, cfg.SESFromEmail, cfg.SESFromName, pusher, prefsRepo)
	if err != nil {
		log.Fatalf("Failed to initialize alerts: %v", err)
	}

	// Forward escalated detections to the alert channels
	go watchEscalations(ctx, identity, pairingService, escalationService, presenceService, alertService)

	// Initialize handlers
	limiter := security.NewRateLimiter(10, time.Minute)
	middleware := handlers.NewMiddleware(authService, limiter)
	guardianHandler := handlers.NewGuardianHandler(authService, pairingService, consentService, escalationService, presenceService, middleware)

	// Setup routes
	mux := http.NewServeMux()
	guardianHandler.RegisterRoutes(mux)
	handler := handlers.Logging(mux)

	// Start server
	addr := ":" + cfg.APIPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Guardian API listening on http://localhost%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// openStore selects the configured state store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Println("Using in-memory state store (single process only)")
		return store.NewMemoryStore(), nil
	case "firebase":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("FIREBASE_DATABASE_URL is required for the firebase backend")
		}
		return store.NewFirebaseStore(ctx, cfg.DatabaseURL, cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// bootstrapGuardian loads the cached guardian identity, minting a fresh
// guardian id on first run. The household id is the guardian id.
func bootstrapGuardian(prefs *repository.PrefsRepository) (*models.Identity, error) {
	identity, err := prefs.GetIdentity()
	if err != nil {
		return nil, err
	}
	if identity != nil && identity.Role == models.RoleGuardian && identity.GuardianID != "" {
		return identity, nil
	}

	id, err := generateID()
	if err != nil {
		return nil, err
	}
	identity = &models.Identity{
		Role:        models.RoleGuardian,
		GuardianID:  id,
		HouseholdID: id,
		LinkedAt:    time.Now(),
	}
	if err := prefs.SaveIdentity(identity); err != nil {
		return nil, err
	}
	log.Println("Minted new guardian identity")
	return identity, nil
}

// generateID returns a random 128-bit hex identifier.
func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// watchEscalations keeps one escalation subscription per linked child and
// forwards escalated events to the alert channels. The children list is
// re-checked periodically so devices linked after startup get watchers too.
func watchEscalations(
	ctx context.Context,
	identity *models.Identity,
	pairing *service.PairingService,
	escalations *service.EscalationService,
	presence *service.PresenceService,
	alerts *service.AlertService,
) {
	watched := make(map[string]bool)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		children, err := pairing.ListChildren(ctx, identity.GuardianID)
		if err != nil {
			log.Printf("Failed to list children for escalation watch: %v", err)
		}
		for _, childID := range children {
			if watched[childID] {
				continue
			}
			sub, err := escalations.SubscribeEscalated(ctx, identity.HouseholdID, childID)
			if err != nil {
				log.Printf("Failed to watch escalations for %s: %v", childID, err)
				continue
			}
			watched[childID] = true
			log.Printf("Watching escalations for child %s", childID)

			go func(childID string, sub *service.EscalationSubscription) {
				defer sub.Cancel()
				for ev := range sub.C {
					nickname := childID
					if profile, err := presence.Read(ctx, childID); err == nil && profile != nil && profile.Nickname != "" {
						nickname = profile.Nickname
					}
					if err := alerts.NotifyEscalation(ctx, nickname, ev); err != nil {
						log.Printf("Escalation alert for %s failed: %v", childID, err)
					}
				}
			}(childID, sub)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
