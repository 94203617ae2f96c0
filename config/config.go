package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

func loadEnvFile() {
	loadOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Println("⚠️ .env not found, falling back to system environment")
		}
	})
}

// Config returns the raw value of an environment variable after the .env file has been loaded.
func Config(key string) string {
	loadEnvFile()
	return os.Getenv(key)
}

type VNPaySettings struct {
	TmnCode    string
	HashSecret string
	BaseURL    string
	ReturnURL  string
	IPNURL     string
}

type MoMoSettings struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
}

type Settings struct {
	Port        string
	AppURL      string
	ClientURL   string
	CorsOrigins string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RabbitMQURL   string
	JWTSecret     string

	SeatLockTTL           time.Duration
	ReaperInterval        time.Duration
	PendingTimeout        time.Duration
	PendingSweepSpec      string
	LoyaltyPointsPerOrder int

	VNPay VNPaySettings
	MoMo  MoMoSettings
}

// Load builds the typed settings, applying defaults for anything unset or unparsable.
func Load() Settings {
	appURL := strings.TrimRight(envStr("APP_URL", "http://localhost:8002"), "/")
	return Settings{
		Port:        envStr("APP_PORT", "8002"),
		AppURL:      appURL,
		ClientURL:   strings.TrimRight(envStr("CLIENT_URL", "http://localhost:5173"), "/"),
		CorsOrigins: envStr("CORS_ORIGINS", "http://localhost:5173"),

		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envStr("DB_PORT", "5432"),
		DBUser:     envStr("DB_USER", "postgres"),
		DBPassword: Config("DB_PASSWORD"),
		DBName:     envStr("DB_NAME", "cinema_booking"),

		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: Config("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RabbitMQURL:   Config("RABBITMQ_URL"),
		JWTSecret:     Config("JWT_SECRET"),

		SeatLockTTL:           envDur("SEAT_LOCK_TTL", 120*time.Second),
		ReaperInterval:        envDur("SEAT_REAPER_INTERVAL", 30*time.Second),
		PendingTimeout:        envDur("PENDING_BOOKING_TIMEOUT", 15*time.Minute),
		PendingSweepSpec:      envStr("PENDING_SWEEP_CRON", "*/1 * * * *"),
		LoyaltyPointsPerOrder: envInt("LOYALTY_POINTS_PER_BOOKING", 10),

		VNPay: VNPaySettings{
			TmnCode:    Config("VNP_TMNCODE"),
			HashSecret: Config("VNP_HASHSECRET"),
			BaseURL:    envStr("VNP_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			ReturnURL:  appURL + "/vnpay/return",
			IPNURL:     appURL + "/vnpay/ipn",
		},
		MoMo: MoMoSettings{
			PartnerCode: Config("MOMO_PARTNER_CODE"),
			AccessKey:   Config("MOMO_ACCESS_KEY"),
			SecretKey:   Config("MOMO_SECRET_KEY"),
			Endpoint:    envStr("MOMO_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api/create"),
			RedirectURL: appURL + "/momo/return",
			IPNURL:      appURL + "/momo/ipn",
		},
	}
}

func envStr(key, def string) string {
	if v := Config(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := Config(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid int for %s: %q, using %d", key, v, def)
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := Config(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("invalid duration for %s: %q, using %s", key, v, def)
		return def
	}
	return d
}
