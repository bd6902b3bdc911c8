// Package intent extracts an intended action, a product phrase and a
// quantity from free text.
//
// Production deployments are expected to plug in an NLP service behind the
// Parser interface. RuleParser is the built-in fallback: a small set of
// anchored patterns covering the phrasings seen on the stock-room channel.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Intent is what the user wants to do.
type Intent string

const (
	Unknown     Intent = ""
	AddStock    Intent = "add-stock"
	CreateOrder Intent = "create-order"
	CheckStock  Intent = "check-stock"
	Help        Intent = "help"
	Cancel      Intent = "cancel"
)

// Result is the extraction for one message. ProductPhrase and Quantity are
// zero when absent.
type Result struct {
	Intent        Intent
	ProductPhrase string
	Quantity      int
}

// HasItem reports whether both a product phrase and a positive quantity
// were found.
func (r Result) HasItem() bool {
	return r.ProductPhrase != "" && r.Quantity > 0
}

// Parser is the intent/entity extraction collaborator.
type Parser interface {
	Parse(ctx context.Context, text string) (Result, error)
}

// RuleParser is a regular-expression Parser. The zero value is ready to use.
type RuleParser struct{}

var _ Parser = RuleParser{}

var (
	helpRe   = regexp.MustCompile(`^(?:help|menu|hi|hello|hey|start|\?)$`)
	cancelRe = regexp.MustCompile(`^(?:cancel|stop|quit|abort)$`)
	orderRe  = regexp.MustCompile(`^(?:new\s+order|(?:create|place|make)\s+(?:an?\s+)?order|order)(?:\s+(?:for\s+|of\s+)?(.*))?$`)
	checkRe  = regexp.MustCompile(`^(?:check(?:\s+stock)?|stock\s+check|stock|search|find|show|how\s+many)(?:\s+(?:of|for))?(?:\s+(.*))?$`)
	addRe    = regexp.MustCompile(`^(?:add(?:\s+stock)?|receive[d]?|got|restock|stock\s+in)(?:\s+(?:for\s+|of\s+)?(.*))?$`)

	leadingQtyRe  = regexp.MustCompile(`^(\d{1,7})\s*(?:x\s+|×\s*)?(?:(?:units?|pcs|pieces?|nos?|boxes?|qty)\s+)?(?:of\s+)?(.+)$`)
	trailingQtyRe = regexp.MustCompile(`^(.+?)\s+(?:x\s*|×\s*|qty\s*)?(\d{1,7})\s*(?:units?|pcs|pieces?|nos?|boxes?)?$`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// Parse implements Parser. It never fails; unrecognized text yields Unknown.
func (RuleParser) Parse(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	norm := strings.ToLower(spaceRe.ReplaceAllString(strings.TrimSpace(text), " "))
	norm = strings.TrimRight(norm, ".!")
	if norm == "" {
		return Result{}, nil
	}

	switch {
	case helpRe.MatchString(norm):
		return Result{Intent: Help}, nil
	case cancelRe.MatchString(norm):
		return Result{Intent: Cancel}, nil
	}

	if m := orderRe.FindStringSubmatch(norm); m != nil {
		r := ParseItem(m[1])
		r.Intent = CreateOrder
		return r, nil
	}
	if m := addRe.FindStringSubmatch(norm); m != nil {
		r := ParseItem(m[1])
		r.Intent = AddStock
		return r, nil
	}
	if m := checkRe.FindStringSubmatch(norm); m != nil {
		return Result{Intent: CheckStock, ProductPhrase: strings.TrimSpace(m[1])}, nil
	}

	// A bare "<quantity> <product>" is a stock receipt.
	if r := ParseItem(norm); r.HasItem() {
		r.Intent = AddStock
		return r, nil
	}
	return Result{}, nil
}

// ParseItem splits "<qty> [units of] <product>" or "<product> [x] <qty>" into
// a quantity and a product phrase. Text without a quantity is returned as a
// bare product phrase.
func ParseItem(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}
	}
	if m := leadingQtyRe.FindStringSubmatch(text); m != nil {
		if q, err := strconv.Atoi(m[1]); err == nil {
			return Result{Quantity: q, ProductPhrase: strings.TrimSpace(m[2])}
		}
	}
	if m := trailingQtyRe.FindStringSubmatch(text); m != nil {
		if q, err := strconv.Atoi(m[2]); err == nil {
			return Result{Quantity: q, ProductPhrase: strings.TrimSpace(m[1])}
		}
	}
	return Result{ProductPhrase: text}
}
