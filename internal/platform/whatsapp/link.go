// Package whatsapp builds click-to-chat links that hand a finished order over to the merchant.
package whatsapp

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
)

const (
	minNumberDigits = 8
	maxNumberDigits = 15
	defaultBaseURL  = "https://wa.me"
)

var (
	// ErrInvalidNumber is returned when a phone number does not have 8 to 15 digits.
	ErrInvalidNumber = errors.New("whatsapp: invalid phone number")
	// ErrUnknownCurrency is returned for codes that are not ISO 4217.
	ErrUnknownCurrency = errors.New("whatsapp: unknown currency")
)

// NormalizeNumber keeps the digits of raw, which must be an international number without the
// leading zeros of a trunk prefix.
func NormalizeNumber(raw string) (string, error) {
	digits := textutil.Digits(raw)
	if len(digits) < minNumberDigits || len(digits) > maxNumberDigits || digits[0] == '0' {
		return "", ErrInvalidNumber
	}
	return digits, nil
}

// Scale returns the number of minor-unit digits for an ISO 4217 code (2 for ARS, 0 for CLP).
func Scale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// FormatAmount renders minor units as a human readable amount using the CLDR separators of the
// store locale, e.g. 123450 ARS in es-AR reads "ARS 1.234,50". Unparseable locales fall back to
// the root formatting.
func FormatAmount(minor int64, code, locale string) (string, error) {
	scale, err := Scale(code)
	if err != nil {
		return "", err
	}
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.Und
	}
	value := decimal.New(minor, -int32(scale))
	amount := message.NewPrinter(tag).Sprint(number.Decimal(value.InexactFloat64(), number.Scale(scale)))
	return strings.ToUpper(strings.TrimSpace(code)) + " " + amount, nil
}

// LinkBuilder renders order summaries into wa.me deep links.
type LinkBuilder struct {
	base string
}

// NewLinkBuilder validates the click-to-chat base URL. An empty base uses https://wa.me.
func NewLinkBuilder(base string) (*LinkBuilder, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("whatsapp: invalid base url %q", base)
	}
	return &LinkBuilder{base: base}, nil
}

// OrderLink returns the link that opens a chat with the store pre-filled with the order summary.
func (b *LinkBuilder) OrderLink(store domain.Store, order domain.Order) (string, error) {
	number, err := NormalizeNumber(store.WhatsAppNumber)
	if err != nil {
		return "", err
	}
	text, err := OrderMessage(store, order)
	if err != nil {
		return "", err
	}
	return b.base + "/" + number + "?text=" + url.QueryEscape(text), nil
}

type phrases struct {
	greeting string
	total    string
	name     string
	phone    string
	note     string
}

var messagePhrases = map[string]phrases{
	"es": {greeting: "¡Hola %s! Quiero hacer el pedido #%d:", total: "Total", name: "Nombre", phone: "Teléfono", note: "Nota"},
	"pt": {greeting: "Olá %s! Quero fazer o pedido #%d:", total: "Total", name: "Nome", phone: "Telefone", note: "Observação"},
	"en": {greeting: "Hi %s! I'd like to place order #%d:", total: "Total", name: "Name", phone: "Phone", note: "Note"},
}

// OrderMessage renders the plain text summary sent to the merchant, in the store locale.
func OrderMessage(store domain.Store, order domain.Order) (string, error) {
	p := messagePhrases["es"]
	if tag, err := language.Parse(store.Locale); err == nil {
		base, _ := tag.Base()
		if found, ok := messagePhrases[base.String()]; ok {
			p = found
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, p.greeting, store.Name, order.Number)
	for _, line := range order.Lines {
		amount, err := FormatAmount(line.LineTotal, order.Currency, store.Locale)
		if err != nil {
			return "", err
		}
		b.WriteString("\n• ")
		b.WriteString(strconv.Itoa(line.Quantity))
		b.WriteString(" x ")
		b.WriteString(line.ProductName)
		if len(line.Options) > 0 {
			labels := make([]string, 0, len(line.Options))
			for _, opt := range line.Options {
				labels = append(labels, opt.GroupName+": "+opt.OptionLabel)
			}
			b.WriteString(" (" + strings.Join(labels, ", ") + ")")
		}
		b.WriteString(" - " + amount)
	}
	total, err := FormatAmount(order.Total, order.Currency, store.Locale)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "\n%s: %s", p.total, total)
	if name := strings.TrimSpace(order.Customer.Name); name != "" {
		fmt.Fprintf(&b, "\n%s: %s", p.name, name)
	}
	if phone := strings.TrimSpace(order.Customer.Phone); phone != "" {
		fmt.Fprintf(&b, "\n%s: %s", p.phone, phone)
	}
	if note := strings.TrimSpace(order.Customer.Note); note != "" {
		fmt.Fprintf(&b, "\n%s: %s", p.note, note)
	}
	return b.String(), nil
}
