package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/marketcalls/openalgo-sub002/config"
	"github.com/marketcalls/openalgo-sub002/internal/feed"
	"github.com/marketcalls/openalgo-sub002/internal/ingest"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/symbol"
	"github.com/marketcalls/openalgo-sub002/pkg/smartconnect"
)

// BuildBrokers turns the broker catalogue into refreshable brokers. Every
// source is wrapped with retry; timeouts default to sourceTimeout.
func BuildBrokers(cfgs []config.BrokerConfig, sourceTimeout time.Duration) ([]*Broker, error) {
	out := make([]*Broker, 0, len(cfgs))
	for _, bc := range cfgs {
		strategy, err := symbol.StrategyFor(bc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("broker %s: %w", bc.ID, err)
		}

		em := ingest.DefaultExchangeMap()
		for _, m := range bc.Exchanges {
			em.Set(m.Native, m.Segment, model.Exchange(strings.ToUpper(strings.TrimSpace(m.Exchange))))
		}

		b := &Broker{
			ID:            bc.ID,
			Normalizer:    ingest.NewNormalizer(bc.ID, strategy, em),
			MaxRejectRate: bc.MaxRejectRate,
		}
		for _, sc := range bc.Sources {
			src, err := newSource(bc.ID, sc)
			if err != nil {
				return nil, fmt.Errorf("broker %s: %w", bc.ID, err)
			}
			timeout := sc.Timeout
			if timeout <= 0 {
				timeout = sourceTimeout
			}
			b.Sources = append(b.Sources, BrokerSource{Source: feed.WithRetry(src, nil), Timeout: timeout})
		}
		out = append(out, b)
	}
	return out, nil
}

func newSource(broker string, sc config.SourceConfig) (feed.Source, error) {
	switch sc.Kind {
	case config.SourceAngel:
		src := feed.NewAngelSource(sc.URL, smartconnect.Config{Timeout: sc.Timeout})
		return named(src, sc.Name), nil
	case config.SourceCSV:
		return &feed.CSVSource{SourceName: sc.Name, Broker: broker, Location: sc.Location()}, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
}

type namedSource struct {
	feed.Source
	name string
}

func (n namedSource) Name() string { return n.name }

func named(src feed.Source, name string) feed.Source {
	if name == "" || name == src.Name() {
		return src
	}
	return namedSource{Source: src, name: name}
}
