// Command server starts the Relaycast stream relay service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"relaycast/internal/api"
	"relaycast/internal/counter"
	"relaycast/internal/gateway"
	"relaycast/internal/observability/logging"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/relay"
	"relaycast/internal/server"
	"relaycast/internal/simulate"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	stopGrace := flag.Duration("stop-grace", 0, "how long a stopping process may drain before being killed")
	queueDepth := flag.Int("chunk-queue-depth", 0, "buffered chunks per session before backpressure")
	writeTimeout := flag.Duration("relay-write-timeout", 0, "how long a stalled session may block before erroring")
	simInterval := flag.Duration("simulate-interval", 0, "interval between simulated viewer and chat updates")
	allowedOrigins := flag.String("cors-origins", "", "comma separated list of allowed CORS origins (empty allows all)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	connectLimit := flag.Int("rate-connect-limit", 0, "maximum relay connections per window for a single IP")
	connectWindow := flag.Duration("rate-connect-window", 0, "window for counting relay connection attempts")
	redisAddr := flag.String("redis-addr", "", "Redis address for shared counters and chat history")
	redisUsername := flag.String("redis-username", "", "Redis username")
	redisPassword := flag.String("redis-password", "", "Redis password")
	shutdownGrace := flag.Duration("shutdown-grace", 0, "bound on graceful shutdown of HTTP and relay sessions")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("RELAYCAST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("RELAYCAST_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("RELAYCAST_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	var redisClient redis.UniversalClient
	if resolvedRedisAddr := firstNonEmpty(*redisAddr, os.Getenv("RELAYCAST_REDIS_ADDR")); resolvedRedisAddr != "" {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{resolvedRedisAddr},
			Username: firstNonEmpty(*redisUsername, os.Getenv("RELAYCAST_REDIS_USERNAME")),
			Password: firstNonEmpty(*redisPassword, os.Getenv("RELAYCAST_REDIS_PASSWORD")),
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", resolvedRedisAddr, "error", err)
			cancel()
			os.Exit(1)
		}
		cancel()
		logger.Info("redis connected", "addr", resolvedRedisAddr)
	}

	var liveCounter counter.Counter
	var history simulate.History
	var connectStore server.ConnectStore
	if redisClient != nil {
		liveCounter = counter.NewRedis(redisClient, "")
		history = simulate.NewRedisHistory(redisClient)
		connectStore = server.NewRedisConnectStore(redisClient, 2*time.Second)
	} else {
		liveCounter = counter.NewMemory()
		history = simulate.NewMemoryHistory()
	}

	registry := relay.NewRegistry()

	gw := gateway.New(gateway.Config{
		Logger:      logging.WithComponent(logger, "gateway"),
		CheckOrigin: originChecker(splitAndTrim(firstNonEmpty(*allowedOrigins, os.Getenv("RELAYCAST_CORS_ORIGINS")))),
	})

	simulator := simulate.New(simulate.Config{
		Emitter:  gw,
		History:  history,
		Interval: resolveDuration(*simInterval, "RELAYCAST_SIMULATE_INTERVAL", 0),
		Logger:   logging.WithComponent(logger, "simulate"),
		Metrics:  recorder,
	})

	supervisor := relay.NewSupervisor(relay.Config{
		Registry:     registry,
		Emitter:      gw,
		Collaborator: simulator,
		Logger:       logging.WithComponent(logger, "supervisor"),
		Metrics:      recorder,
		FFmpegPath:   firstNonEmpty(*ffmpegPath, os.Getenv("RELAYCAST_FFMPEG_PATH")),
		StopGrace:    resolveDuration(*stopGrace, "RELAYCAST_STOP_GRACE", 0),
		QueueDepth:   resolveInt(*queueDepth, "RELAYCAST_CHUNK_QUEUE_DEPTH"),
	})

	chunkRelay := relay.NewRelay(relay.RelayConfig{
		Registry:     registry,
		Emitter:      gw,
		Logger:       logging.WithComponent(logger, "relay"),
		Metrics:      recorder,
		WriteTimeout: resolveDuration(*writeTimeout, "RELAYCAST_RELAY_WRITE_TIMEOUT", 0),
	})

	gw.Attach(supervisor, chunkRelay)

	handler := api.NewHandler(api.HandlerConfig{
		Logger:  logging.WithComponent(logger, "api"),
		Gateway: gw,
		Counter: liveCounter,
	})

	shutdownTimeout := resolveDuration(*shutdownGrace, "RELAYCAST_SHUTDOWN_GRACE", 10*time.Second)

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("RELAYCAST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("RELAYCAST_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "RELAYCAST_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "RELAYCAST_RATE_GLOBAL_BURST"),
			ConnectLimit:  resolveInt(*connectLimit, "RELAYCAST_RATE_CONNECT_LIMIT"),
			ConnectWindow: resolveDuration(*connectWindow, "RELAYCAST_RATE_CONNECT_WINDOW", time.Minute),
			Store:         connectStore,
		},
		CORS:            server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*allowedOrigins, os.Getenv("RELAYCAST_CORS_ORIGINS")))},
		Logger:          logger,
		Metrics:         recorder,
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("relaycast listening", "addr", listenAddr)
	runErr := srv.Run(ctx, nil)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := supervisor.Shutdown(drainCtx); err != nil {
		logger.Warn("relay session drain incomplete", "error", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return nil
		}
		set[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimSpace(origin))]
		return ok
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
