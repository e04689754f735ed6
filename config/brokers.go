package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceAngel = "angel"
	SourceCSV   = "csv"
)

// BrokerConfig declares one broker in the catalogue.
type BrokerConfig struct {
	ID            string            `yaml:"id"`
	Strategy      string            `yaml:"strategy"` // compact | spaced | numeric | canonical
	MaxRejectRate float64           `yaml:"max_reject_rate"`
	Sources       []SourceConfig    `yaml:"sources"`
	Exchanges     []ExchangeMapping `yaml:"exchanges"`
}

// SourceConfig is one contract feed of a broker.
type SourceConfig struct {
	Kind    string        `yaml:"kind"`
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// Location returns the URL or, failing that, the file path.
func (s SourceConfig) Location() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// ExchangeMapping adds or overrides one exchange-map entry.
type ExchangeMapping struct {
	Native   string `yaml:"native"`
	Segment  string `yaml:"segment"`
	Exchange string `yaml:"exchange"`
}

type brokersFile struct {
	Brokers []BrokerConfig `yaml:"brokers"`
}

// Brokers returns the broker catalogue: BROKERS_FILE when set, otherwise the
// built-in Angel One entry.
func (c *Config) Brokers() ([]BrokerConfig, error) {
	if c.BrokersFile == "" {
		return []BrokerConfig{c.defaultAngel()}, nil
	}
	return LoadBrokers(c.BrokersFile)
}

func (c *Config) defaultAngel() BrokerConfig {
	return BrokerConfig{
		ID:       "angel",
		Strategy: "compact",
		Sources: []SourceConfig{{
			Kind: SourceAngel,
			Name: "angel-scrip-master",
			URL:  c.AngelScripMasterURL,
		}},
	}
}

// LoadBrokers reads and validates a YAML broker catalogue.
func LoadBrokers(path string) ([]BrokerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open brokers file: %w", err)
	}
	return ParseBrokers(b)
}

// ParseBrokers decodes and validates a YAML broker catalogue.
func ParseBrokers(b []byte) ([]BrokerConfig, error) {
	var f brokersFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal brokers: %w", err)
	}
	if len(f.Brokers) == 0 {
		return nil, fmt.Errorf("brokers file declares no brokers")
	}

	seen := make(map[string]bool, len(f.Brokers))
	for i := range f.Brokers {
		br := &f.Brokers[i]
		br.ID = strings.ToLower(strings.TrimSpace(br.ID))
		if br.ID == "" {
			return nil, fmt.Errorf("broker %d: missing id", i)
		}
		if seen[br.ID] {
			return nil, fmt.Errorf("broker %s: declared twice", br.ID)
		}
		seen[br.ID] = true
		if br.MaxRejectRate < 0 || br.MaxRejectRate > 1 {
			return nil, fmt.Errorf("broker %s: max_reject_rate %g outside [0,1]", br.ID, br.MaxRejectRate)
		}
		if len(br.Sources) == 0 {
			return nil, fmt.Errorf("broker %s: no sources", br.ID)
		}
		for j := range br.Sources {
			src := &br.Sources[j]
			src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
			switch src.Kind {
			case SourceAngel:
			case SourceCSV:
				if src.Location() == "" {
					return nil, fmt.Errorf("broker %s: csv source %d needs url or path", br.ID, j)
				}
			default:
				return nil, fmt.Errorf("broker %s: unknown source kind %q", br.ID, src.Kind)
			}
			if src.Name == "" {
				src.Name = fmt.Sprintf("%s-%s-%d", br.ID, src.Kind, j)
			}
		}
		for _, m := range br.Exchanges {
			if m.Native == "" || m.Exchange == "" {
				return nil, fmt.Errorf("broker %s: exchange mapping needs native and exchange", br.ID)
			}
		}
	}
	return f.Brokers, nil
}
