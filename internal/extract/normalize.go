package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/shopspring/decimal"
)

// MaxAbsAmount bounds a single transaction; anything larger is treated as a parse error.
var MaxAbsAmount = decimal.NewFromInt(1_000_000)

// DefaultCurrency is used when the source carries no recognizable currency.
const DefaultCurrency = "USD"

var (
	errEmptyAmount = errors.New("empty amount")
	errOutOfRange  = errors.New("amount outside allowed range")
)

var amountStripper = strings.NewReplacer(
	"$", "", "€", "", "£", "", "¥", "",
	",", "", " ", "", "\u00a0", "",
	"USD", "", "EUR", "", "GBP", "",
)

// ParseAmount converts a raw amount string to a two-decimal value. Parentheses mean
// negative. When positiveIsDebit is set the sign is inverted so expenses come out
// negative.
func ParseAmount(raw string, positiveIsDebit bool) (decimal.Decimal, error) {
	s := amountStripper.Replace(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, errEmptyAmount
	}

	negate := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		negate = true
	}
	if strings.HasSuffix(s, "-") {
		s = strings.TrimSuffix(s, "-")
		negate = !negate
	}
	s = strings.TrimPrefix(s, "+")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %w", err)
	}
	if negate {
		amount = amount.Neg()
	}
	if positiveIsDebit {
		amount = amount.Neg()
	}
	amount = amount.Round(2)

	if amount.Abs().GreaterThan(MaxAbsAmount) {
		return decimal.Zero, errOutOfRange
	}
	return amount, nil
}

// dateLayouts are tried in order before falling back to dateparse.
var dateLayouts = []string{
	domain.DateLayout,
	"01/02/2006",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"1/2/2006",
	"01/02/06",
	"Jan 2, 2006",
	"02 Jan 2006",
	time.RFC3339,
}

// ParseDate parses a posted date and truncates it to a calendar date in UTC.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.Date(t), nil
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date format: %w", err)
	}
	return domain.Date(t), nil
}

var currencyAliases = map[string]string{
	"US": "USD", "USA": "USD", "DOLLAR": "USD", "$": "USD", "US$": "USD",
	"EURO": "EUR", "EU": "EUR", "€": "EUR",
	"POUND": "GBP", "UK": "GBP", "£": "GBP",
	"C$": "CAD", "CA$": "CAD",
	"YEN": "JPY", "¥": "JPY",
}

var isoCurrency = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCurrency maps symbols and abbreviations to an ISO 4217 code.
func NormalizeCurrency(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return DefaultCurrency
	}
	if code, ok := currencyAliases[s]; ok {
		return code
	}
	if isoCurrency.MatchString(s) {
		return s
	}
	return DefaultCurrency
}

type channelRule struct {
	channel  domain.Channel
	keywords *regexp.Regexp
}

// channelRules are evaluated in order; the first match wins.
var channelRules = []channelRule{
	{domain.ChannelPOS, regexp.MustCompile(`\b(pos|point of sale|debit)\b`)},
	{domain.ChannelEcom, regexp.MustCompile(`\b(online|ecommerce|e-commerce|web)\b`)},
	{domain.ChannelACH, regexp.MustCompile(`\b(ach|transfer|wire)\b`)},
	{domain.ChannelZelle, regexp.MustCompile(`\b(zelle|venmo|paypal)\b`)},
	{domain.ChannelATM, regexp.MustCompile(`\b(atm|withdrawal)\b`)},
}

// DetectChannel classifies a description by whole-word keyword match.
func DetectChannel(description string) domain.Channel {
	text := strings.ToLower(description)
	for _, rule := range channelRules {
		if rule.keywords.MatchString(text) {
			return rule.channel
		}
	}
	return domain.ChannelUnknown
}

// CleanText trims and collapses internal whitespace.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// UncategorizedCategory is assigned when the source has no category.
const UncategorizedCategory = "Uncategorized"

var categoryAliases = map[string]string{
	"food & drink":       "Dining",
	"food and drink":     "Dining",
	"restaurants":        "Dining",
	"restaurant":         "Dining",
	"dining":             "Dining",
	"fast food":          "Dining",
	"groceries":          "Groceries",
	"grocery":            "Groceries",
	"supermarkets":       "Groceries",
	"gas":                "Transportation",
	"gas & fuel":         "Transportation",
	"fuel":               "Transportation",
	"automotive":         "Transportation",
	"transportation":     "Transportation",
	"travel":             "Travel",
	"airlines":           "Travel",
	"lodging":            "Travel",
	"shopping":           "Shopping",
	"merchandise":        "Shopping",
	"bills & utilities":  "Utilities",
	"utilities":          "Utilities",
	"entertainment":      "Entertainment",
	"health & wellness":  "Health",
	"pharmacy":           "Health",
	"medical":            "Health",
	"rent":               "Rent",
	"mortgage":           "Rent",
	"home":               "Home",
	"personal":           "Personal",
	"fees & adjustments": "Fees",
	"fees":               "Fees",
	"payroll":            "Income",
	"income":             "Income",
}

// NormalizeCategory maps a raw institution category onto the shared taxonomy.
func NormalizeCategory(raw string) string {
	s := CleanText(raw)
	if s == "" {
		return UncategorizedCategory
	}
	if c, ok := categoryAliases[strings.ToLower(s)]; ok {
		return c
	}
	return titleCase(s)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Identity is the content hash used as the sole deduplication key for a transaction.
func Identity(institution string, postedAt time.Time, amount decimal.Decimal, merchant, description string) string {
	payload := strings.Join([]string{
		institution,
		postedAt.Format(domain.DateLayout),
		amount.StringFixed(2),
		merchant,
		description,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// MerchantHash is a short salted digest that lets logs and the API refer to a
// merchant without exposing its name.
func MerchantHash(merchant, salt string) string {
	if merchant == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(merchant + salt))
	return hex.EncodeToString(sum[:])[:16]
}
