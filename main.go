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
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmaster/api"
	"taskmaster/identity"
	"taskmaster/pump"
	"taskmaster/storage"
)

const defaultChangeChannel = "taskmaster:changes"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := os.Getenv("TASKS_TABLE")
	categoriesTable := os.Getenv("CATEGORIES_TABLE")
	usersTable := os.Getenv("USERS_TABLE")
	changeQueue := os.Getenv("CHANGE_QUEUE")
	if connStr == "" || tasksTable == "" || categoriesTable == "" || usersTable == "" || changeQueue == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tasksTable, categoriesTable, usersTable, changeQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := storage.NewCache(store, rc, cacheTTL)

	changeChannel := os.Getenv("CHANGE_CHANNEL")
	if changeChannel == "" {
		changeChannel = defaultChangeChannel
	}

	idCfg := identity.Config{
		Audience: os.Getenv("TOKEN_AUDIENCE"),
		Issuer:   os.Getenv("TOKEN_ISSUER"),
	}
	if secret := os.Getenv("TOKEN_SECRET"); secret != "" {
		idCfg.Secret = []byte(secret)
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid TOKEN_TTL: %v", err)
		}
		idCfg.TokenTTL = d
	}
	if len(idCfg.Secret) == 0 && os.Getenv("JWKS_DOMAIN") == "" {
		log.Fatal("missing token config: set TOKEN_SECRET or JWKS_DOMAIN")
	}
	if jwksDomain := os.Getenv("JWKS_DOMAIN"); jwksDomain != "" {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", jwksDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		idCfg.JWKS = jwks
	}
	accounts := identity.New(cache, idCfg, logger)

	subscriber := storage.NewSubscriber(rc, cache, changeChannel, logger)

	changePump := pump.New(store, rc, cache, changeChannel, logger)
	go changePump.Run(context.Background())

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.GzipRequestMiddleware())

	server := api.NewServer(accounts, cache, cache, subscriber, logger)
	server.Register(e)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
