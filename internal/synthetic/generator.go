// Package synthetic produces fake /coins/markets payloads for offline runs.
package synthetic

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/coinflow/internal/models"
)

type coin struct {
	name   string
	symbol string
}

var coins = []coin{
	{"Bitcoin", "btc"}, {"Ethereum", "eth"}, {"Cardano", "ada"},
	{"Solana", "sol"}, {"Polkadot", "dot"}, {"Chainlink", "link"},
	{"Litecoin", "ltc"}, {"Stellar", "xlm"}, {"VeChain", "vet"},
	{"Filecoin", "fil"}, {"Avalanche", "avax"}, {"Polygon", "matic"},
	{"Cosmos", "atom"}, {"Uniswap", "uni"}, {"Algorand", "algo"},
	{"Tezos", "xtz"}, {"Monero", "xmr"}, {"Dash", "dash"},
	{"Zcash", "zec"}, {"Decred", "dcr"},
}

const DefaultCount = 10

// Generator is a deterministic stand-in for the CoinGecko client. The same
// seed and clock always produce the same payload.
type Generator struct {
	Count int
	Seed  uint64
	Now   func() time.Time
}

func New(count int, seed uint64) *Generator {
	return &Generator{Count: count, Seed: seed, Now: time.Now}
}

func (g *Generator) FetchMarkets(ctx context.Context) ([]models.RawObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := g.Count
	if n <= 0 {
		n = DefaultCount
	}
	if n > len(coins) {
		n = len(coins)
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	fetchedAt := now().UTC()

	rng := rand.New(rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15))
	picked := rng.Perm(len(coins))[:n]

	out := make([]models.RawObservation, 0, n)
	for i, idx := range picked {
		c := coins[idx]

		var price float64
		switch c.symbol {
		case "btc":
			price = round(uniform(rng, 50000, 150000), 2)
		case "eth":
			price = round(uniform(rng, 2000, 5000), 2)
		default:
			price = round(uniform(rng, 0.01, 500), 4)
		}
		supply := uniform(rng, 1e6, 1e9)
		change := uniform(rng, -price*0.1, price*0.1)
		updated := fetchedAt.Add(-time.Duration(rng.Int64N(int64(time.Hour)))).Truncate(time.Second)

		raw := models.RawObservation{
			ID:                str(strings.ToLower(c.name)),
			Symbol:            str(c.symbol),
			Name:              str(c.name),
			MarketCap:         num(round(price*supply, 2)),
			TotalVolume:       num(round(price*supply*uniform(rng, 0.01, 0.2), 2)),
			High24h:           num(price + abs(change)*0.5),
			Low24h:            num(price - abs(change)*0.5),
			PriceChangePct24h: num(change / price * 100),
			LastUpdated:       str(updated.Format(time.RFC3339)),
			FetchedAt:         fetchedAt,
		}
		// Every third price arrives as a string, as some upstream feeds do.
		if i%3 == 2 {
			raw.CurrentPrice = str(strconv.FormatFloat(price, 'f', -1, 64))
		} else {
			raw.CurrentPrice = num(price)
		}
		out = append(out, raw)
	}
	return out, nil
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	return p
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func str(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func num(v float64) json.RawMessage {
	return json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64))
}
