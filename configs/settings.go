package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const Version = "1.4.0"

// Settings is the typed view of the environment for the lock and the
// services around it.
type Settings struct {
	NatsURL   string
	NatsToken string

	DataDir              string
	SensorDriver         string
	SensorCapacity       int
	StorageCapacityBytes int64

	EnrollFingerTimeout time.Duration
	MatchWait           time.Duration
	SensorPollInterval  time.Duration
	LoopInterval        time.Duration

	AttendanceRetentionDays int
	RetentionSweepInterval  time.Duration
	Timezone                *time.Location
	UnlockDuration          time.Duration

	Port         string
	RateLimit    int
	JWTSecretKey string
	CORSOrigins  []string
	MDNSEnabled  bool
	SimTouch     bool

	PostgresURL       string
	MongoURI          string
	MongoDatabase     string
	ArchiveQueueGroup string
	PresenceTTL       time.Duration
}

func Load() Settings {
	return Settings{
		NatsURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		NatsToken: getEnv("NATS_TOKEN", ""),

		DataDir:              getEnv("DATA_DIR", "./data"),
		SensorDriver:         getEnv("SENSOR_DRIVER", "sim"),
		SensorCapacity:       getInt("SENSOR_CAPACITY", 128),
		StorageCapacityBytes: int64(getInt("STORAGE_CAPACITY_BYTES", 1441792)),

		EnrollFingerTimeout: getDuration("ENROLL_FINGER_TIMEOUT", 30*time.Second),
		MatchWait:           getDuration("MATCH_WAIT", 250*time.Millisecond),
		SensorPollInterval:  getDuration("SENSOR_POLL_INTERVAL", 50*time.Millisecond),
		LoopInterval:        getDuration("LOOP_INTERVAL", 200*time.Millisecond),

		AttendanceRetentionDays: getInt("ATTENDANCE_RETENTION_DAYS", 90),
		RetentionSweepInterval:  getDuration("RETENTION_SWEEP_INTERVAL", 24*time.Hour),
		Timezone:                getLocation("TIMEZONE"),
		UnlockDuration:          getDuration("UNLOCK_DURATION", 3*time.Second),

		Port:         getEnv("LOCK_SERVICE_PORT", "8080"),
		RateLimit:    getInt("RATE_LIMIT", 60),
		JWTSecretKey: getEnv("JWT_SECRET_KEY", ""),
		CORSOrigins:  getList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		MDNSEnabled:  getBool("MDNS_ENABLED", false),
		SimTouch:     getBool("SIM_TOUCH_ENABLED", false),

		PostgresURL:       getEnv("POSTGRES_URL", ""),
		MongoURI:          getEnv("MONGODB_URI", ""),
		MongoDatabase:     getEnv("MONGODB_DATABASE", "unimanage"),
		ArchiveQueueGroup: getEnv("ARCHIVE_QUEUE_GROUP", "archive"),
		PresenceTTL:       getDuration("PRESENCE_TTL", 10*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("invalid %s value %q, using %d", key, v, fallback)
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warnf("invalid %s value %q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnf("invalid %s value %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getLocation(key string) *time.Location {
	v := os.Getenv(key)
	if v == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		log.Warnf("invalid %s value %q, using local time", key, v)
		return time.Local
	}
	return loc
}
