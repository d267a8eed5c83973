package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nettie/internal/config"
	"nettie/internal/database"
	"nettie/internal/models"
	"nettie/internal/repository"
	"nettie/internal/service"
	"nettie/internal/store"
)

func main() {
	// Define subcommands
	linkCmd := flag.NewFlagSet("link", flag.ExitOnError)
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)

	// Link flags
	linkPayload := linkCmd.String("payload", "", "Scanned link payload string (required)")
	linkNickname := linkCmd.String("nickname", "", "Device nickname shown to the guardian")

	// Run flags
	runMood := runCmd.String("mood", string(models.MoodCalm), "Mood reported with each heartbeat")
	runLat := runCmd.String("lat", "", "Device latitude, synced with each heartbeat")
	runLng := runCmd.String("lng", "", "Device longitude, synced with each heartbeat")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Load configuration
	cfg := config.Load()

	// Initialize the local preference cache
	db, err := database.InitializeFromType(cfg.CacheType, cfg.CachePath, cfg.CacheURL)
	if err != nil {
		log.Fatalf("Failed to initialize preference cache: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect state store: %v", err)
	}

	prefsRepo := repository.NewPrefsRepository(db)
	tokenRepo := repository.NewTokenRepository(st)
	membershipRepo := repository.NewMembershipRepository(st)
	consentRepo := repository.NewConsentRepository(st)
	presenceRepo := repository.NewPresenceRepository(st)
	locationRepo := repository.NewLocationRepository(st)

	pairingService := service.NewPairingService(tokenRepo, membershipRepo, cfg.TokenTTL)
	consentService := service.NewConsentService(consentRepo, membershipRepo)
	presenceService := service.NewPresenceService(presenceRepo, locationRepo)

	switch os.Args[1] {
	case "link":
		linkCmd.Parse(os.Args[2:])
		if *linkPayload == "" {
			fmt.Println("Error: -payload flag is required")
			linkCmd.PrintDefaults()
			os.Exit(1)
		}
		handleLink(ctx, prefsRepo, pairingService, presenceService, *linkPayload, *linkNickname)

	case "run":
		runCmd.Parse(os.Args[2:])
		locate, err := locationSource(*runLat, *runLng)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			runCmd.PrintDefaults()
			os.Exit(1)
		}
		handleRun(ctx, cfg, prefsRepo, consentService, presenceService, models.Mood(*runMood), locate)

	default:
		printUsage()
		os.Exit(1)
	}
}

// handleLink redeems a scanned payload and caches the resulting identity.
// Linking twice is safe; the membership write is idempotent.
func handleLink(
	ctx context.Context,
	prefs *repository.PrefsRepository,
	pairing *service.PairingService,
	presence *service.PresenceService,
	payload, nickname string,
) {
	childID, err := childIdentity(prefs)
	if err != nil {
		log.Fatalf("Failed to resolve child id: %v", err)
	}

	membership, err := pairing.RedeemScan(ctx, payload, childID)
	if err != nil {
		log.Fatalf("Link failed: %v", err)
	}

	identity := &models.Identity{
		Role:        models.RoleChild,
		GuardianID:  membership.GuardianID,
		HouseholdID: membership.GuardianID,
		ChildID:     childID,
		LinkedAt:    time.UnixMilli(membership.LinkedAt),
	}
	if err := prefs.SaveIdentity(identity); err != nil {
		log.Fatalf("Failed to cache identity: %v", err)
	}

	if err := presence.Register(ctx, childID, nickname); err != nil {
		log.Printf("Warning: failed to register nickname: %v", err)
	}

	log.Printf("Linked to household %s as child %s", membership.GuardianID, childID)
}

// handleRun starts the heartbeat loop and the consent subscription and
// blocks until interrupted.
func handleRun(
	ctx context.Context,
	cfg *config.Config,
	prefs *repository.PrefsRepository,
	consents *service.ConsentService,
	presence *service.PresenceService,
	mood models.Mood,
	locate service.LocationSource,
) {
	identity, err := prefs.GetIdentity()
	if err != nil {
		log.Fatalf("Failed to read identity: %v", err)
	}
	if identity == nil || identity.Role != models.RoleChild || identity.ChildID == "" {
		log.Fatal("This device is not linked; run the link subcommand first")
	}

	log.Printf("Child agent starting: child %s, household %s", identity.ChildID, identity.HouseholdID)

	sub, err := consents.Subscribe(ctx, identity.ChildID)
	if err != nil {
		log.Fatalf("Failed to subscribe to consent state: %v", err)
	}
	defer sub.Cancel()

	go func() {
		for records := range sub.C {
			for _, rec := range records {
				log.Printf("Consent %s: granted=%t", rec.Capability, rec.Granted)
			}
		}
	}()

	if err := presence.RunHeartbeat(ctx, identity.ChildID, mood, cfg.HeartbeatInterval, locate); err != nil && ctx.Err() == nil {
		log.Fatalf("Heartbeat loop failed: %v", err)
	}
	log.Println("Child agent stopped")
}

// locationSource builds the position callback from the -lat/-lng flags.
// Both flags together enable the location sync; neither means the device
// runs without one, like a device that never gets a fix.
func locationSource(latFlag, lngFlag string) (service.LocationSource, error) {
	if latFlag == "" && lngFlag == "" {
		return nil, nil
	}
	if latFlag == "" || lngFlag == "" {
		return nil, fmt.Errorf("-lat and -lng must be provided together")
	}
	lat, err := strconv.ParseFloat(latFlag, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -lat value %q", latFlag)
	}
	lng, err := strconv.ParseFloat(lngFlag, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -lng value %q", lngFlag)
	}
	return func() (float64, float64, bool) {
		return lat, lng, true
	}, nil
}

// childIdentity returns the cached child id, minting one on first use so
// repeated links keep the same identity.
func childIdentity(prefs *repository.PrefsRepository) (string, error) {
	identity, err := prefs.GetIdentity()
	if err != nil {
		return "", err
	}
	if identity != nil && identity.ChildID != "" {
		return identity.ChildID, nil
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
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

func printUsage() {
	fmt.Println("Nettie Child Agent")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  child link [options]    Redeem a scanned link payload")
	fmt.Println("  child run  [options]    Run the heartbeat and consent watcher")
	fmt.Println()
	fmt.Println("Link Options:")
	fmt.Println("  -payload <string>    Scanned link payload (required)")
	fmt.Println("  -nickname <name>     Device nickname shown to the guardian")
	fmt.Println()
	fmt.Println("Run Options:")
	fmt.Println("  -mood <mood>         Mood reported with each heartbeat (calm, alert, distressed)")
	fmt.Println("  -lat <degrees>       Device latitude, synced with each heartbeat")
	fmt.Println("  -lng <degrees>       Device longitude, synced with each heartbeat")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  STORE_BACKEND             firebase or memory (default: firebase)")
	fmt.Println("  FIREBASE_DATABASE_URL     Realtime Database URL")
	fmt.Println("  FIREBASE_CREDENTIALS_FILE Service account JSON path")
	fmt.Println("  CACHE_PATH                SQLite preference cache path (default: ./nettie.db)")
	fmt.Println("  HEARTBEAT_INTERVAL        Heartbeat interval (default: 1m)")
}
