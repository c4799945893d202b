package enrich

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultTag is assigned when no keyword matches.
const DefaultTag = "Markets"

const (
	maxTags       = 5
	maxCustomTags = 2
)

// Vocabulary is the controlled tag set, in display order.
var Vocabulary = []string{
	"BTC", "ETH", "SOL", "XRP", "Stablecoins", "DeFi", "NFT", "Layer2",
	"Regulation", "ETF", "Exchanges", "Security", "Macro", "Mining",
	"Altcoins", "AI", "Adoption", DefaultTag,
}

var tagKeywords = map[string][]string{
	"BTC":         {"bitcoin", "btc", "satoshi", "lightning network", "halving"},
	"ETH":         {"ethereum", "eth", "ether", "vitalik", "buterin"},
	"SOL":         {"solana", "sol"},
	"XRP":         {"xrp", "ripple"},
	"Stablecoins": {"stablecoin", "usdt", "usdc", "tether", "dai", "circle"},
	"DeFi":        {"defi", "decentralized finance", "liquidity pool", "lending protocol", "uniswap", "aave", "yield", "tvl", "dex"},
	"NFT":         {"nft", "non-fungible", "opensea", "collectible"},
	"Layer2":      {"layer 2", "layer-2", "l2", "rollup", "arbitrum", "optimism", "polygon", "zksync", "base chain"},
	"Regulation":  {"sec", "cftc", "regulator", "regulation", "regulatory", "lawsuit", "court", "congress", "senate", "bill", "mica", "compliance", "ban", "gensler"},
	"ETF":         {"etf", "exchange-traded fund", "spot fund", "blackrock", "grayscale"},
	"Exchanges":   {"exchange", "binance", "coinbase", "kraken", "okx", "bybit", "listing", "delist"},
	"Security":    {"hack", "exploit", "breach", "stolen", "phishing", "vulnerability", "drained", "scam", "rug pull"},
	"Macro":       {"fed", "federal reserve", "interest rate", "inflation", "cpi", "recession", "treasury", "powell", "jobs report", "dollar index", "dxy"},
	"Mining":      {"mining", "miner", "hashrate", "hash rate", "difficulty adjustment"},
	"Altcoins":    {"altcoin", "memecoin", "meme coin", "dogecoin", "doge", "shiba", "cardano", "ada", "avalanche", "avax", "polkadot", "toncoin"},
	"AI":          {"ai", "artificial intelligence", "machine learning", "llm", "openai", "ai agent"},
	"Adoption":    {"adoption", "partnership", "integrates", "payments", "treasury reserve", "institutional", "launches"},
}

var (
	wordPatternsMu sync.Mutex
	wordPatterns   = map[string]*regexp.Regexp{}
)

// containsAny matches phrases as substrings and single words on word
// boundaries, so "ether" does not match "whether" and "ai" does not match "said".
func containsAny(text string, keywords []string) bool {
	text = strings.ToLower(text)

	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}

		if strings.Contains(k, " ") {
			if strings.Contains(text, k) {
				return true
			}
			continue
		}

		if wordPattern(k).MatchString(text) {
			return true
		}
	}
	return false
}

// wordPattern matches k as a whole word. Longer words also match their
// common inflections ("hack" -> "hacked", "exchange" -> "exchanges").
func wordPattern(k string) *regexp.Regexp {
	wordPatternsMu.Lock()
	defer wordPatternsMu.Unlock()

	re, ok := wordPatterns[k]
	if !ok {
		suffix := ""
		if len(k) > 3 {
			suffix = `(?:s|es|ed|d|ing|ers?)?`
		}
		re = regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + suffix + `\b`)
		wordPatterns[k] = re
	}
	return re
}

// DetectTags returns up to five vocabulary tags found in text, never none.
func DetectTags(text string) []string {
	var tags []string
	for _, tag := range Vocabulary {
		if tag == DefaultTag {
			continue
		}
		if containsAny(text, tagKeywords[tag]) {
			tags = append(tags, tag)
			if len(tags) == maxTags {
				break
			}
		}
	}
	if len(tags) == 0 {
		tags = []string{DefaultTag}
	}
	return tags
}

// CanonicalTag maps a tag to its vocabulary spelling, case-insensitively.
func CanonicalTag(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	for _, v := range Vocabulary {
		if strings.EqualFold(v, tag) {
			return v, true
		}
	}
	return tag, false
}

// normalizeTags canonicalizes, dedupes, keeps at most two custom tags and
// caps the total. fallbackText supplies a vocabulary tag when none is present.
func normalizeTags(raw []string, fallbackText string) []string {
	seen := make(map[string]bool)
	var vocab, custom []string
	for _, t := range raw {
		tag, known := CanonicalTag(t)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		if known {
			vocab = append(vocab, tag)
		} else if len(custom) < maxCustomTags {
			custom = append(custom, tag)
		}
	}

	if len(vocab) == 0 {
		for _, tag := range DetectTags(fallbackText) {
			if !seen[strings.ToLower(tag)] {
				vocab = append(vocab, tag)
				break
			}
		}
	}

	tags := append(vocab, custom...)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}
