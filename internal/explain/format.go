package explain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
	"github.com/noah-isme/backend-bizadmin/internal/pricing"
)

// Mode selects the presentation context of an explanation.
type Mode string

const (
	ModeHover  Mode = "hover"
	ModeAppend Mode = "append"
	ModeModal  Mode = "modal"
)

const (
	// DefaultCurrencySymbol prefixes every rendered amount.
	DefaultCurrencySymbol = "¥"
	// DefaultExampleQuantity is the illustrative quantity used by modal explanations.
	DefaultExampleQuantity = 100
	// DefaultUnitLabel is used when the caller supplies no billing unit.
	DefaultUnitLabel = "件"
)

// ErrUnknownMode is returned by ParseMode and Format for unsupported modes.
var ErrUnknownMode = errors.New("unknown explanation mode")

// ParseMode accepts the canonical mode names and their UI aliases.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "hover", "tooltip", "":
		return ModeHover, nil
	case "append", "suffix", "inline":
		return ModeAppend, nil
	case "modal", "detail", "details":
		return ModeModal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, value)
}

// Formatter renders pricing results as plain text.
type Formatter struct {
	CurrencySymbol  string
	ExampleQuantity int
}

// Default returns a formatter with the default currency symbol and example quantity.
func Default() Formatter {
	return Formatter{CurrencySymbol: DefaultCurrencySymbol, ExampleQuantity: DefaultExampleQuantity}
}

// Format renders result for the given mode using the default formatter.
func Format(result pricing.Result, mode Mode, unitLabel string) (string, error) {
	return Default().Format(result, mode, unitLabel)
}

// Format renders result for the given mode.
func (f Formatter) Format(result pricing.Result, mode Mode, unitLabel string) (string, error) {
	unit := unitOrDefault(unitLabel)
	switch mode {
	case ModeHover:
		return f.hover(result.AppliedPolicy, unit), nil
	case ModeAppend:
		return f.appendText(result.AppliedPolicy, unit), nil
	case ModeModal:
		return f.modal(result.AppliedPolicy, result.UnitPrice, unit)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// Describe explains a policy without a quoted result. Hover and append text
// come from the tier rules alone; unitPrice is only used by the modal example.
func (f Formatter) Describe(p *policy.PricingPolicy, mode Mode, unitPrice float64, unitLabel string) (string, error) {
	unit := unitOrDefault(unitLabel)
	switch mode {
	case ModeHover:
		return f.hover(p, unit), nil
	case ModeAppend:
		return f.appendText(p, unit), nil
	case ModeModal:
		return f.modal(p, unitPrice, unit)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// Append joins an explanation onto an existing price description, one per line.
func Append(description, explanation string) string {
	description = strings.TrimRight(description, "\n")
	switch {
	case explanation == "":
		return description
	case description == "":
		return explanation
	}
	return description + "\n" + explanation
}

// RuleText describes how a policy bills units, without computed amounts.
func RuleText(p *policy.PricingPolicy, unitLabel string) string {
	return strings.Join(ruleLines(p, unitOrDefault(unitLabel)), "，")
}

// Derivation renders the worked computation behind result.
func (f Formatter) Derivation(result pricing.Result, unitLabel string) string {
	unit := unitOrDefault(unitLabel)
	var b strings.Builder
	fmt.Fprintf(&b, "原价：%s × %d%s = %s",
		f.money(result.UnitPrice), result.Quantity, unit, f.money(result.OriginalPrice))

	p := result.AppliedPolicy
	if p == nil {
		fmt.Fprintf(&b, "\n无适用优惠，按原价计费：%s", f.money(result.DiscountedPrice))
		return b.String()
	}
	switch p.Kind {
	case policy.KindUniform:
		rule := "按" + percent(p.DiscountRatioPercent) + "计费"
		if name := strings.TrimSpace(p.Name); name != "" {
			rule = name + "，" + rule
		}
		fmt.Fprintf(&b, "\n%s：%s × %s = %s",
			rule, f.money(result.OriginalPrice), percent(p.DiscountRatioPercent), f.money(result.DiscountedPrice))
	case policy.KindTiered:
		if name := strings.TrimSpace(p.Name); name != "" {
			fmt.Fprintf(&b, "\n%s：", name)
		}
		for _, br := range result.Brackets {
			fmt.Fprintf(&b, "\n%s：%d%s × %s × %s = %s",
				tierLabel(br.Tier, unit), br.Units, unit,
				f.money(result.UnitPrice), percent(br.Tier.DiscountRatioPercent), f.money(br.Contribution))
		}
	}
	fmt.Fprintf(&b, "\n优惠金额：%s", f.money(result.DiscountAmount))
	if p.Kind == policy.KindTiered {
		fmt.Fprintf(&b, "\n折后价格：%s（综合折扣%s）", f.money(result.DiscountedPrice), percent(result.DiscountRatioPercent))
	} else {
		fmt.Fprintf(&b, "\n折后价格：%s", f.money(result.DiscountedPrice))
	}
	return b.String()
}

// Derivation renders the worked computation using the default formatter.
func Derivation(result pricing.Result, unitLabel string) string {
	return Default().Derivation(result, unitLabel)
}

func (f Formatter) hover(p *policy.PricingPolicy, unit string) string {
	if p == nil {
		return ""
	}
	return namePrefix(p) + strings.Join(ruleLines(p, unit), "，")
}

func (f Formatter) appendText(p *policy.PricingPolicy, unit string) string {
	if p == nil {
		return ""
	}
	lines := ruleLines(p, unit)
	if p.Kind == policy.KindUniform || len(lines) <= 1 {
		return namePrefix(p) + strings.Join(lines, "")
	}
	head := strings.TrimSpace(p.Name)
	if head == "" {
		return strings.Join(lines, "\n")
	}
	return head + "：\n" + strings.Join(lines, "\n")
}

// modal prices p at the example quantity so the illustration does not depend
// on the quoted quantity. Closed tier sets shrink the example to the last covered unit.
func (f Formatter) modal(p *policy.PricingPolicy, unitPrice float64, unit string) (string, error) {
	qty := f.exampleQuantity()
	if p != nil && p.Kind == policy.KindTiered {
		upTo, unbounded := pricing.CoveredUpTo(p.Tiers)
		switch {
		case upTo < 1:
			return "", fmt.Errorf("render example: %w", &pricing.ConfigurationError{PolicyID: p.ID, Quantity: 1})
		case !unbounded && upTo < qty:
			qty = upTo
		}
	}
	example, err := pricing.Compute(unitPrice, qty, p)
	if err != nil {
		return "", fmt.Errorf("render example: %w", err)
	}
	header := fmt.Sprintf("计费示例（以%d%s为例）", qty, unit)
	if p != nil && strings.TrimSpace(p.Summary) != "" && p.Kind == policy.KindTiered {
		header += "\n" + strings.TrimSpace(p.Summary)
	}
	return header + "\n" + f.Derivation(example, unit), nil
}

func (f Formatter) exampleQuantity() int {
	if f.ExampleQuantity > 0 {
		return f.ExampleQuantity
	}
	return DefaultExampleQuantity
}

func ruleLines(p *policy.PricingPolicy, unit string) []string {
	if p == nil {
		return nil
	}
	switch p.Kind {
	case policy.KindUniform:
		return []string{"按" + percent(p.DiscountRatioPercent) + "计费"}
	case policy.KindTiered:
		tiers := policy.SortedTiers(p.Tiers)
		lines := make([]string, 0, len(tiers))
		for _, t := range tiers {
			lines = append(lines, tierLabel(t, unit)+"按"+percent(t.DiscountRatioPercent)+"计费")
		}
		return lines
	}
	return nil
}

func tierLabel(t policy.Tier, unit string) string {
	switch {
	case t.IsOpenEnded():
		return fmt.Sprintf("第%d%s及以上", t.StartQuantity, unit)
	case t.IsSingleUnit():
		return fmt.Sprintf("第%d%s", t.StartQuantity, unit)
	default:
		return fmt.Sprintf("第%d-%d%s", t.StartQuantity, *t.EndQuantity, unit)
	}
}

func namePrefix(p *policy.PricingPolicy) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name + "："
	}
	return ""
}

func unitOrDefault(unit string) string {
	if u := strings.TrimSpace(unit); u != "" {
		return u
	}
	return DefaultUnitLabel
}
