package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/joho/godotenv"
)

const logFolder = ".l_g"

// LoadEnv reads ./.env when present. A device in the field runs on the
// process environment alone, so a missing file is not fatal.
func LoadEnv(service string) {
	if err := godotenv.Load("./.env"); err != nil {
		log.Warnf("%s: no .env file loaded, using process environment: %s", service, err)
		return
	}
	log.Infof("%s: .env file loaded", service)
}

// CreateUniqueInstance names this run of service. The id is reported in
// deviceInfo and used as the NATS connection name.
func CreateUniqueInstance(service string) string {
	id, err := uuid.NewV4()
	if err != nil {
		log.Fatalf("%s: generating instance id: %s", service, err)
	}
	log.Infof("%s service with instance id %s is ready", service, id)
	return id.String()
}

// CORS allows browser dashboards on origins to call the device api.
func CORS(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// Logging sends the service log to .l_g/<service>.log. LOG_LEVEL picks the
// level, info by default.
func Logging(service string) {
	if err := os.MkdirAll(logFolder, 0755); err != nil {
		log.Warnf("unable to create folder for log %s", err)
		return
	}

	file, err := os.OpenFile(filepath.Join(logFolder, service+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}

	log.SetOutput(file)
	log.SetFormatter(&log.TextFormatter{})
	log.SetLevel(logLevel(os.Getenv("LOG_LEVEL")))

	log.Infof("log to file started for service: %s", service)
}

func logLevel(s string) log.Level {
	if s == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(strings.ToLower(s))
	if err != nil {
		log.Warnf("invalid LOG_LEVEL %q, using info", s)
		return log.InfoLevel
	}
	return level
}

// CustomLoggerMiddleware writes one access line per request. The query
// string is left out since the websocket feed carries its token there.
func CustomLoggerMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.WithFields(log.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"remote":     r.RemoteAddr,
					"took":       time.Since(start).String(),
				}).Infof("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), http.StatusText(ww.Status()))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
