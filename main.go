package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"club-ladder/config"
	"club-ladder/handlers"
	"club-ladder/middleware"
	"club-ladder/models"
	"club-ladder/services"
	"club-ladder/utils"
	"club-ladder/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	case "sweep":
		cmdSweep(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("club-ladder %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: club-ladder <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                Start the HTTP API, sweeps and membership sync")
	fmt.Println("  migrate                              Create or update the database tables")
	fmt.Println("  sweep <reminders|auto-validate|decay>")
	fmt.Println("                                       Run one sweep now and print its summary")
	fmt.Println("  token <player_id> [--roles a,b] [--ttl 24h]")
	fmt.Println("                                       Sign a player session token (AUTH_MODE=jwt)")
	fmt.Println("  version                              Show version")
	fmt.Println("  help                                 Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    YAML tuning file (overrides RATING_CONFIG_FILE)")
	fmt.Println("  --env-file <path>  .env file to load (default ./.env)")
}

func commonFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to the YAML tuning file")
	envFile := fs.String("env-file", "", "path to the .env file")
	return fs, configPath, envFile
}

func loadConfig(configPath, envFile string) *config.Config {
	if configPath != "" {
		os.Setenv("RATING_CONFIG_FILE", configPath)
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}
	return cfg
}

func openDatabase(cfg *config.Config) *gorm.DB {
	if cfg.DatabaseDriver == "postgres" && cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	db, err := utils.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}
	return db
}

// app wires the services the commands share.
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	clock      clockwork.Clock
	directory  *services.ClubDirectory
	store      *services.RatingStore
	validation *services.ValidationService
	sweeps     *services.SweepService
}

func buildApp(ctx context.Context, cfg *config.Config) *app {
	db := openDatabase(cfg)
	clock := clockwork.NewRealClock()

	var notifier services.Notifier = services.LogNotifier{}
	if cfg.RedisAddr != "" {
		rdb, err := services.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Printf("⚠️  %v, notifications will only be logged", err)
		} else {
			notifier = services.NewRedisNotifier(rdb, cfg.NotificationChannel, clock)
		}
	} else {
		log.Println("⚠️  REDIS_ADDR not set, notifications will only be logged")
	}

	directory := services.NewClubDirectory(db, cfg.AdminPlayerIDs)
	store := services.NewRatingStore(db, clock, cfg.Rating)
	engine := services.NewRatingEngine(cfg.Rating)
	validation := services.NewValidationService(db, clock, store, engine, directory, directory, notifier, cfg.Validation)
	decay := services.NewDecayProcessor(db, clock, store, notifier, cfg.Decay, cfg.Schedule.BatchSize)
	sweeps := services.NewSweepService(db, clock, validation, decay, notifier, cfg.Validation, cfg.Schedule.BatchSize)

	return &app{
		cfg:        cfg,
		db:         db,
		clock:      clock,
		directory:  directory,
		store:      store,
		validation: validation,
		sweeps:     sweeps,
	}
}

func cmdServe(args []string) {
	fs, configPath, envFile := commonFlags("serve")
	fs.Parse(args)

	cfg := loadConfig(*configPath, *envFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := buildApp(ctx, cfg)

	var archiver services.SweepArchiver
	if cfg.R2.Enabled() {
		if err := utils.InitR2(ctx, cfg.R2); err != nil {
			log.Printf("⚠️  R2 unavailable, sweep summaries will not be archived: %v", err)
		}
	}
	if utils.R2Ready() {
		archiver = services.NewR2SweepArchiver()
	}

	scheduler, err := services.NewScheduler(a.sweeps, archiver, a.clock, cfg.Schedule)
	if err != nil {
		log.Fatal(err)
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler: ", err)
	}

	if cfg.MembershipServiceURL != "" {
		workers.NewClubMemberSyncWorker(a.db, a.clock, cfg.MembershipServiceURL, cfg.MembershipServiceToken).Start(ctx)
	} else {
		log.Println("⚠️  MEMBERSHIP_SERVICE_URL not set, club_members must be provisioned another way")
	}

	server := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}
	server.Use(cors.New(cors.Config{
		AllowOrigins: strings.ReplaceAll(allowedOrigins, " ", ""),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-User-Roles, X-Request-ID",
		MaxAge:       86400,
	}))

	var identity fiber.Handler
	switch cfg.AuthMode {
	case "jwt":
		identity = middleware.JWTUserContextMiddleware(cfg.JWTSecret, a.clock)
	default:
		// 🔐❗ GLOBAL: Only Gateway requests allowed, no exceptions
		server.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))
		identity = middleware.UserContextMiddleware()
	}

	handlers.SetupRoutes(server, identity, handlers.Services{
		Validation: a.validation,
		Store:      a.store,
		Sweeps:     a.sweeps,
		Admins:     a.directory,
	})

	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s (auth mode: %s)", cfg.Port, cfg.AuthMode)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func cmdMigrate(args []string) {
	fs, configPath, envFile := commonFlags("migrate")
	fs.Parse(args)

	cfg := loadConfig(*configPath, *envFile)
	openDatabase(cfg)
	log.Println("✅ Database migrated")
}

func cmdSweep(args []string) {
	fs, configPath, envFile := commonFlags("sweep")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: club-ladder sweep <reminders|auto-validate|decay>")
		os.Exit(1)
	}
	cfg := loadConfig(*configPath, *envFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := buildApp(ctx, cfg)
	res, err := a.sweeps.Run(ctx, services.SweepKind(fs.Arg(0)))
	if err != nil {
		log.Fatal(err)
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	if res.Failed > 0 {
		os.Exit(2)
	}
}

func cmdToken(args []string) {
	fs, configPath, envFile := commonFlags("token")
	roles := fs.String("roles", "", "comma-separated roles")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: club-ladder token <player_id> [--roles a,b] [--ttl 24h]")
		os.Exit(1)
	}
	cfg := loadConfig(*configPath, *envFile)
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable not set")
	}

	var roleList []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}
	token, err := middleware.IssuePlayerToken(cfg.JWTSecret, fs.Arg(0), roleList, time.Now(), *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
