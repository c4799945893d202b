package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DuplicateTitleThreshold is the similarity at which two titles are treated
// as the same story.
const DuplicateTitleThreshold = 0.85

var reTags = regexp.MustCompile(`<[^>]*>`)

// NormalizeTitle lowercases, strips markup and punctuation and collapses whitespace.
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	s = reTags.ReplaceAllString(s, " ")

	b := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b = append(b, r)
		} else {
			b = append(b, ' ')
		}
	}
	return strings.Join(strings.Fields(string(b)), " ")
}

var noisePatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)\b(sponsored|press release|partner content|paid post|advertorial)\b`), "sponsored-post boilerplate"},
	{regexp.MustCompile(`(?i)\[\s*(pr|ad|sponsored)\s*\]`), "sponsored-post boilerplate"},
	{regexp.MustCompile(`(?i)\bprice (today|update|live|chart|prediction|analysis)\b`), "price-ticker spam"},
	{regexp.MustCompile(`(?i)^\W*\$?[a-z]{2,10}(/[a-z]{2,5})?\s*[:=\-]?\s*\$\s?\d[\d,]*(\.\d+)?\s*$`), "price-ticker spam"},
	{regexp.MustCompile(`(?i)^\W*[a-z]{2,6}(/[a-z]{2,5})?\s+(is\s+)?(up|down)\s+\d+(\.\d+)?\s*%`), "price-ticker spam"},
}

// IsNoiseTitle reports whether a headline is low-information and why.
func IsNoiseTitle(title string) (string, bool) {
	t := strings.TrimSpace(reTags.ReplaceAllString(title, " "))
	if t == "" {
		return "empty title", true
	}

	for _, p := range noisePatterns {
		if p.re.MatchString(t) {
			return p.reason, true
		}
	}

	if len(strings.Fields(NormalizeTitle(t))) <= 1 {
		return "single-word headline", true
	}

	// mostly digits and currency symbols
	var symbols, letters int
	for _, r := range t {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r) || strings.ContainsRune("$%€£.,+-", r):
			symbols++
		}
	}
	if symbols > letters {
		return "price-ticker spam", true
	}

	return "", false
}

// Candidate is the minimal view of an article needed for duplicate checks.
type Candidate struct {
	URL   string
	Title string
}

// IsDuplicateArticle reports whether candidate is the same story as existing:
// either the links normalize identically or the titles are at least
// DuplicateTitleThreshold similar.
func IsDuplicateArticle(existing, candidate Candidate) bool {
	if existing.URL != "" && NormalizeURL(existing.URL) == NormalizeURL(candidate.URL) {
		return true
	}
	return TitleSimilarity(existing.Title, candidate.Title) >= DuplicateTitleThreshold
}

// TitleSimilarity is the larger of the Levenshtein ratio of the normalized
// titles and of their sorted tokens, in [0,1].
func TitleSimilarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	return similarity(na, nb)
}

func similarity(na, nb string) float64 {
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	direct := levenshteinRatio(na, nb)
	sorted := levenshteinRatio(sortTokens(na), sortTokens(nb))
	if sorted > direct {
		return sorted
	}
	return direct
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func levenshteinRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein([]rune(a), []rune(b)))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// CreateArticleHash fingerprints an article by normalized title, normalized
// link and publication day (UTC).
func CreateArticleHash(title, link string, publishedAt *time.Time) string {
	day := ""
	if publishedAt != nil && !publishedAt.IsZero() {
		day = publishedAt.UTC().Format("2006-01-02")
	}
	h := sha256.New()
	h.Write([]byte(NormalizeTitle(title) + "|" + NormalizeURL(link) + "|" + day))
	return hex.EncodeToString(h.Sum(nil))
}
