package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/avvvet/doorlock-services/configs"
	"github.com/avvvet/doorlock-services/internal/archivesvc/broker"
	"github.com/avvvet/doorlock-services/internal/archivesvc/db"
	"github.com/avvvet/doorlock-services/internal/archivesvc/store"
	"github.com/avvvet/doorlock-services/internal/comm"
	nats "github.com/avvvet/doorlock-services/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "archive"

func init() {
	config.Logging(SERVICE_NAME + "_service")
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	cfg := config.Load()
	instanceId := config.CreateUniqueInstance(SERVICE_NAME)

	// pg connection
	dbpool, err := db.Connect(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool()
	log.Printf("pg connection established successfully")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(ctx, dbpool); err != nil {
		cancel()
		log.Fatalf("Failed to migrate archive schema: %v", err)
	}

	// mongo connection
	mdb, err := db.ConnectToMongo(cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		cancel()
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mdb.Client().Disconnect(context.Background())

	if err := db.CreateTTLIndexForCollection(ctx, mdb, store.DevicesCollection); err != nil {
		cancel()
		log.Fatalf("Failed to create presence index: %v", err)
	}
	cancel()

	// Connect to NATS
	n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, "archivesvc-"+instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn,
		store.NewAttendanceStore(dbpool),
		store.NewDeviceRegistry(mdb, cfg.PresenceTTL))

	sub, err := b.QueueSubscribCallbacks(comm.CallbackWildcard, cfg.ArchiveQueueGroup)
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(0)
	}
	log.Infof("%s service consuming %s as %s", SERVICE_NAME, comm.CallbackWildcard, cfg.ArchiveQueueGroup)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sub.Drain()
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
