package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/storage"
	"prism-board/stream"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	base, closeStore := openBackend()
	defer closeStore()

	rc := redis.NewClient(redisOptions(os.Getenv("REDIS_CONNECTION_STRING")))
	channel := os.Getenv("EVENTS_CHANNEL")
	if channel == "" {
		channel = "board-events"
	}
	store := storage.NewCache(base, rc, durationEnv("BOARD_CACHE_TTL", time.Hour), channel)
	deduper := api.NewRedisDeduper(rc, durationEnv("DEDUPER_TTL", 24*time.Hour))

	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("128K"))
	e.Use(middleware.Decompress())
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/api/stream" },
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := stream.NewHub(16)
	go hub.Run(ctx, logger, rc, channel)

	api.Register(e, store, newAuth(), deduper, hub, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func openBackend() (api.Storage, func()) {
	switch driver := strings.ToLower(os.Getenv("STORAGE_DRIVER")); driver {
	case "", "azure":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		boardTable := os.Getenv("BOARD_TABLE")
		eventsQueue := os.Getenv("EVENTS_QUEUE")
		if connStr == "" || boardTable == "" || eventsQueue == "" {
			log.Fatal("missing storage config")
		}
		store, err := storage.New(connStr, boardTable, eventsQueue)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		return store, func() {}
	case "sqlite":
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "board.db"
		}
		store, err := storage.OpenSQLite(path)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("close sqlite")
			}
		}
	default:
		log.Fatalf("unknown STORAGE_DRIVER %q", driver)
		return nil, nil
	}
}

// redisOptions accepts either a redis:// URL or the Azure Cache style
// "host:port,password=...,ssl=true".
func redisOptions(conn string) *redis.Options {
	if conn == "" {
		log.Fatal("missing redis config")
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func newAuth() *api.Auth {
	keyTTL := durationEnv("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL)
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			log.Fatal("AUTH0_TEST_MODE requires TEST_JWT_SECRET")
		}
		log.Warn("auth running in test mode")
		return api.NewAuth(api.AuthConfig{TestSecret: []byte(secret), KeyCacheTTL: keyTTL})
	}

	audience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if audience == "" || domain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour, RefreshUnknownKID: true})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      "https://" + domain + "/",
		KeyCacheTTL: keyTTL,
	})
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return d
}
