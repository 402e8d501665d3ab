package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string
	EventBuffer int // settlement bridge channel capacity
}

type P2P struct {
	ListenAddr string
	Bootstrap  []string
}

// MarketSpec seeds the registry at boot. Format in env:
//
//	PX_MARKETS="us-election-2028:Yes,No;fed-cut-march:Yes,No,Partial"
type MarketSpec struct {
	ID       string
	Title    string
	Outcomes []string
}

type Config struct {
	Domain  Domain
	Node    Node
	P2P     P2P
	Markets []MarketSpec
}

func Default() Config {
	return Config{
		Domain: Domain{
			Name:    "Predictex",
			Version: "1",
			ChainID: 137,
		},
		Node: Node{
			DataDir:     "data",
			APIAddr:     ":8080",
			EventBuffer: 256,
		},
		P2P: P2P{},
		Markets: []MarketSpec{
			{ID: "demo-binary", Title: "Demo binary market", Outcomes: []string{"Yes", "No"}},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("PX_DOMAIN_NAME"); v != "" {
		cfg.Domain.Name = v
	}
	if v := os.Getenv("PX_DOMAIN_VERSION"); v != "" {
		cfg.Domain.Version = v
	}
	if v := os.Getenv("PX_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Domain.ChainID = id
		}
	}
	if v := os.Getenv("PX_VERIFYING_CONTRACT"); v != "" {
		cfg.Domain.VerifyingContract = v
	}

	if v := os.Getenv("PX_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("PX_API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("PX_LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("PX_EVENT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Node.EventBuffer = n
		}
	}

	if v := os.Getenv("PX_P2P_LISTEN"); v != "" {
		cfg.P2P.ListenAddr = v
	}
	if v := os.Getenv("PX_P2P_BOOTSTRAP"); v != "" {
		cfg.P2P.Bootstrap = strings.Split(v, ",")
	}

	if v := os.Getenv("PX_MARKETS"); v != "" {
		if specs := parseMarkets(v); len(specs) > 0 {
			cfg.Markets = specs
		}
	}

	return cfg
}

func parseMarkets(raw string) []MarketSpec {
	var specs []MarketSpec
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		outcomes := strings.Split(parts[1], ",")
		for i := range outcomes {
			outcomes[i] = strings.TrimSpace(outcomes[i])
		}
		if len(outcomes) < 2 {
			continue
		}
		specs = append(specs, MarketSpec{
			ID:       strings.TrimSpace(parts[0]),
			Title:    strings.TrimSpace(parts[0]),
			Outcomes: outcomes,
		})
	}
	return specs
}
