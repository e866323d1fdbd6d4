package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Exchange struct {
	FeeAccount common.Address
	FeePercent uint64 // integer percent, e.g. 10 means 10%
	Custody    common.Address
}

type API struct {
	Listen string
}

type Storage struct {
	DataDir string
}

type Events struct {
	KafkaBrokers []string // empty disables the Kafka sink
	KafkaTopic   string
	JournalPath  string // empty disables the file journal
}

type Config struct {
	Exchange Exchange
	API      API
	Storage  Storage
	Events   Events
	LogFile  string
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount: common.HexToAddress("0x00000000000000000000000000000000000000FE"),
			FeePercent: 10,
			Custody:    common.HexToAddress("0x00000000000000000000000000000000000000EC"),
		},
		API:     API{Listen: ":8080"},
		Storage: Storage{DataDir: "./data/exchange.db"},
		Events: Events{
			KafkaTopic:  "exchange-events",
			JournalPath: "./data/events.log",
		},
		LogFile: "./data/exchange.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("FEE_ACCOUNT"); v != "" {
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if pct, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Exchange.FeePercent = pct
		}
	}
	if v := os.Getenv("CUSTODY_ACCOUNT"); v != "" {
		cfg.Exchange.Custody = common.HexToAddress(v)
	}
	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Events.KafkaTopic = v
	}
	if v := os.Getenv("EVENT_JOURNAL"); v != "" {
		cfg.Events.JournalPath = v
	}
	// LOG_FILE set to the empty string turns the file sink off
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.LogFile = v
	}

	return cfg
}
