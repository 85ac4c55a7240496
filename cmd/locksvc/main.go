package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	natsgo "github.com/nats-io/nats.go"

	config "github.com/avvvet/doorlock-services/configs"
	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/allocator"
	"github.com/avvvet/doorlock-services/internal/locksvc/broker"
	"github.com/avvvet/doorlock-services/internal/locksvc/clock"
	"github.com/avvvet/doorlock-services/internal/locksvc/device"
	"github.com/avvvet/doorlock-services/internal/locksvc/discovery"
	"github.com/avvvet/doorlock-services/internal/locksvc/handlers"
	"github.com/avvvet/doorlock-services/internal/locksvc/sensor"
	"github.com/avvvet/doorlock-services/internal/locksvc/service"
	"github.com/avvvet/doorlock-services/internal/locksvc/store"
	nats "github.com/avvvet/doorlock-services/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "lock"

func init() {
	config.Logging(SERVICE_NAME + "_service")
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	cfg := config.Load()
	instanceId := config.CreateUniqueInstance(SERVICE_NAME)

	kv, err := store.OpenKVStore(filepath.Join(cfg.DataDir, "nvs.json"))
	if err != nil {
		log.Fatalf("Failed to open device state: %v", err)
	}

	if cfg.SensorDriver != "sim" {
		log.Fatalf("unsupported SENSOR_DRIVER %q", cfg.SensorDriver)
	}
	sim := sensor.NewSimulator(cfg.SensorCapacity)
	gateway := sensor.NewGateway(sim, sensor.Options{
		PollInterval:  cfg.SensorPollInterval,
		EnrollTimeout: cfg.EnrollFingerTimeout,
		MatchWait:     cfg.MatchWait,
	})

	members := store.NewMemberStore(cfg.DataDir, gateway.Capacity(), gateway)
	loaded, err := members.Load()
	if err != nil {
		log.Fatalf("Failed to load membership directory: %v", err)
	}
	log.Infof("membership directory loaded with %d member(s)", len(loaded))

	accessService := service.NewAccessService(
		gateway,
		allocator.New(gateway, kv, members),
		members,
		store.NewAttendanceLog(filepath.Join(cfg.DataDir, "attendance")),
		clock.System{},
		&service.LogActuator{},
		service.Options{
			Location:        cfg.Timezone,
			UnlockDuration:  cfg.UnlockDuration,
			DataDir:         cfg.DataDir,
			StorageCapacity: cfg.StorageCapacityBytes,
		},
	)

	state := device.Load(kv, config.Version, instanceId)

	// Connect to NATS
	var brk *broker.Broker
	n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, "locksvc-"+instanceId,
		natsgo.ReconnectHandler(func(_ *natsgo.Conn) {
			log.Info("NATS connection restored")
			brk.PublishStatus(comm.StatusSuccess, "reconnected")
		}),
	)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	brk = broker.NewBroker(n.Conn, accessService, state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := brk.Listen(ctx); err != nil {
		log.Errorf("Error: unable to subscribe %v", err)
		os.Exit(0)
	}
	brk.PublishStatus(comm.StatusSuccess, "connected")

	hub := handlers.NewHub()
	go runAccessLoop(ctx, accessService, brk, hub, cfg.LoopInterval)
	go runRetention(ctx, accessService, cfg.AttendanceRetentionDays, cfg.RetentionSweepInterval)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS(cfg.CORSOrigins)

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the device api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	status := struct {
		*service.AccessService
		*broker.Broker
	}{accessService, brk}

	var touch *sensor.Simulator
	if cfg.SimTouch {
		log.Warn("simulator touch endpoint enabled")
		touch = sim
	}
	if cfg.JWTSecretKey == "" {
		log.Fatal("JWT_SECRET_KEY must be set for the device api")
	}
	h := handlers.NewHandler(status, hub, touch, cfg.Port)
	h.InitAuth(cfg.JWTSecretKey)
	h.SetRoutes(r)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	if cfg.MDNSEnabled {
		port, _ := strconv.Atoi(cfg.Port)
		advertiser := discovery.NewAdvertiser(nil)
		announce := func() {
			id := state.Identity()
			err := advertiser.Advertise(discovery.Announcement{
				InstanceID: instanceId,
				Version:    config.Version,
				DeviceCode: id.DeviceCode,
				Registered: state.Registered(),
				Port:       port,
			})
			if err != nil {
				log.Warnf("discovery: %s", err)
			}
		}
		announce()
		brk.OnIdentityChange = announce
		defer advertiser.Shutdown()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	brk.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

// runAccessLoop polls the reader and publishes every decision.
func runAccessLoop(ctx context.Context, svc *service.AccessService, brk *broker.Broker, hub *handlers.Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d, err := svc.Identify(ctx)
			if err != nil {
				log.Warnf("access loop: %s", err)
				continue
			}
			if d == nil {
				continue
			}
			hub.Broadcast(brk.PublishAccess(d))
		}
	}
}

func runRetention(ctx context.Context, svc *service.AccessService, days int, interval time.Duration) {
	if days <= 0 {
		log.Info("attendance retention disabled")
		return
	}
	sweep := func() {
		if _, err := svc.Sweep(days); err != nil {
			log.Errorf("retention sweep: %s", err)
		}
	}
	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
