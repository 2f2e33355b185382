package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/formloom/formloom/v1/auth"
	"github.com/formloom/formloom/v1/form"
	"github.com/formloom/formloom/v1/httpapi"
	"github.com/formloom/formloom/v1/hub"
	"github.com/formloom/formloom/v1/metrics"
	"github.com/formloom/formloom/v1/presence"
	"github.com/formloom/formloom/v1/response"
	"github.com/formloom/formloom/v1/session"
	"github.com/formloom/formloom/v1/tap"
)

var (
	addr         = flag.String("addr", ":3001", "Address to listen on")
	redisAddr    = flag.String("redis", "", "Redis address for form storage and event mirroring (empty: in-memory)")
	natsURL      = flag.String("nats", "", "NATS URL for event mirroring (empty: disabled)")
	kafkaBrokers = flag.String("kafka", "", "Comma-separated Kafka brokers for event mirroring (empty: disabled)")
	kafkaTopic   = flag.String("kafka-topic", tap.DefaultKafkaTopic, "Kafka topic for mirrored events")
	jwtSecret    = flag.String("jwt-secret", "dev-secret-change-me", "HMAC secret for JWT signing")
	lockTTL      = flag.Duration("lock-ttl", 30*time.Second, "Field lock expiry")
	traced       = flag.Bool("trace", false, "Enable OpenTelemetry spans around event handling")
)

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store form.Store = form.NewInMemoryStore()
	var rdb *redis.Client
	if *redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: *redisAddr})
		store = form.NewCachedStore(form.NewRedisStore(rdb))
	}

	var mirror tap.Tap
	switch {
	case *kafkaBrokers != "":
		kt, err := tap.NewKafkaTap(strings.Split(*kafkaBrokers, ","), *kafkaTopic, sarama.NewConfig())
		if err != nil {
			log.Fatalf("kafka tap: %v", err)
		}
		defer kt.Close()
		mirror = kt
	case *natsURL != "":
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer nc.Close()
		mirror = tap.NewNATSTap(nc)
	case rdb != nil:
		mirror = tap.NewRedisTap(rdb)
	}

	reg := presence.NewRegistry()
	responses := response.NewStore()

	hubOpts := []hub.Option{}
	if mirror != nil {
		hubOpts = append(hubOpts, hub.WithTap(mirror))
	}
	h := hub.New(reg, hubOpts...)

	engOpts := []session.Option{session.WithLockTTL(*lockTTL)}
	if *traced {
		engOpts = append(engOpts, session.WithTracing())
	}
	eng := session.New(store, reg, responses, h, engOpts...)

	authSvc := auth.NewService([]byte(*jwtSecret))
	api := httpapi.New(store, authSvc, eng, reg, responses,
		httpapi.WithConnectionCounter(h))

	promReg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(promReg)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.Routes())
	mux.Handle("/ws", h.Handler(eng))
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: *addr, Handler: mux}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("formloom-server listening on %s", *addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
