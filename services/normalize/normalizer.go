package normalize

import (
	"fmt"
	"strings"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/rule"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sale is a record that passed the format validators, with its typed values.
type Sale struct {
	// Record holds canonical text: ISO dates, plain decimals, bare document digits.
	Record      rule.Record
	OrderNumber string
	OrderField  rule.TargetField
	SaleDate    time.Time
	SaleValue   decimal.NullDecimal
	Quantity    int64
	SellerCPF   string
	Warnings    []string
}

// MaxQuantity is the largest quantity a single sale may carry.
const MaxQuantity int64 = 1_000_000

// Limits bounds the sale value. Nil ends are open.
type Limits struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

type Options struct {
	Limits        Limits
	RequireSeller bool
}

// Normalizer runs the format validators shared by manual submissions and
// bulk rows. It is safe for concurrent use.
type Normalizer struct {
	validate    *validator.Validate
	phoneRegion string
	defaults    Limits
}

func NewNormalizer(cfg *config.Config) *Normalizer {
	n := &Normalizer{
		validate:    validator.New(),
		phoneRegion: "BR",
	}
	if cfg == nil {
		return n
	}
	if cfg.Engine.PhoneRegion != "" {
		n.phoneRegion = strings.ToUpper(cfg.Engine.PhoneRegion)
	}
	limits, err := ParseLimits(cfg.Engine.SaleValueMin, cfg.Engine.SaleValueMax)
	if err != nil {
		zap.L().Warn("ignoring invalid sale value limits", zap.Error(err))
	} else {
		n.defaults = limits
	}
	return n
}

// DefaultLimits are the configured sale value bounds.
func (n *Normalizer) DefaultLimits() Limits {
	return n.defaults
}

// ParseLimits reads optional bounds; blank strings leave that end open.
func ParseLimits(minRaw, maxRaw string) (Limits, error) {
	var l Limits
	if strings.TrimSpace(minRaw) != "" {
		d, err := rule.ParseNumber(minRaw)
		if err != nil {
			return Limits{}, fmt.Errorf("sale value min %q: %w", minRaw, err)
		}
		l.Min = &d
	}
	if strings.TrimSpace(maxRaw) != "" {
		d, err := rule.ParseNumber(maxRaw)
		if err != nil {
			return Limits{}, fmt.Errorf("sale value max %q: %w", maxRaw, err)
		}
		l.Max = &d
	}
	if err := l.Check(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

func (l Limits) Check() error {
	if l.Min != nil && l.Max != nil && l.Min.GreaterThan(*l.Max) {
		return errutil.ConfigurationError(errutil.ReasonInvalidRule,
			fmt.Sprintf("sale value min %s is greater than max %s", l.Min, l.Max))
	}
	return nil
}

type issue struct {
	reason errutil.Reason
	field  rule.TargetField
	msg    string
}

// Normalize validates rec and returns the canonical sale. Every failed check
// is reported in a single RowError whose reason is the first failure.
func (n *Normalizer) Normalize(rec rule.Record, opts Options) (*Sale, error) {
	sale := &Sale{Record: rec}
	var issues []issue
	fail := func(reason errutil.Reason, f rule.TargetField, format string, args ...any) {
		issues = append(issues, issue{reason: reason, field: f, msg: fmt.Sprintf(format, args...)})
	}

	sale.OrderNumber, sale.OrderField = rec.OrderKey()
	if sale.OrderNumber == "" {
		fail(errutil.ReasonMissingField, rule.FieldOrderNumber, "order number is missing")
	} else {
		sale.Record.Set(sale.OrderField, sale.OrderNumber)
	}

	if strings.TrimSpace(rec.SaleDate) == "" {
		fail(errutil.ReasonMissingField, rule.FieldSaleDate, "sale date is missing")
	} else if d, err := rule.ParseDate(rec.SaleDate); err != nil {
		fail(errutil.ReasonInvalidFormat, rule.FieldSaleDate, "sale date %q is not a valid date", rec.SaleDate)
	} else {
		sale.SaleDate = d
		sale.Record.SaleDate = d.Format("2006-01-02")
	}

	n.document(rec.SellerCPF, rule.FieldSellerCPF, ValidCPF, "seller CPF", &sale.Record, fail)
	n.document(rec.CustomerCPF, rule.FieldCustomerCPF, ValidCPF, "customer CPF", &sale.Record, fail)
	n.document(rec.OpticCNPJ, rule.FieldOpticCNPJ, ValidCNPJ, "optic CNPJ", &sale.Record, fail)
	sale.SellerCPF = sale.Record.SellerCPF
	if opts.RequireSeller && strings.TrimSpace(rec.SellerCPF) == "" {
		fail(errutil.ReasonMissingField, rule.FieldSellerCPF, "seller CPF is missing")
	}

	if raw := strings.TrimSpace(rec.SaleValue); raw != "" {
		v, err := rule.ParseNumber(raw)
		switch {
		case err != nil:
			fail(errutil.ReasonInvalidFormat, rule.FieldSaleValue, "sale value %q is not a number", raw)
		case v.IsNegative():
			fail(errutil.ReasonInvalidFormat, rule.FieldSaleValue, "sale value %s is negative", v.StringFixed(2))
		default:
			limits := opts.Limits
			if limits.Min == nil && limits.Max == nil {
				limits = n.defaults
			}
			if limits.Min != nil && v.LessThan(*limits.Min) {
				fail(errutil.ReasonSaleValueOutOfRange, rule.FieldSaleValue,
					"sale value %s is below the minimum %s", v.StringFixed(2), limits.Min.StringFixed(2))
			} else if limits.Max != nil && v.GreaterThan(*limits.Max) {
				fail(errutil.ReasonSaleValueOutOfRange, rule.FieldSaleValue,
					"sale value %s is above the maximum %s", v.StringFixed(2), limits.Max.StringFixed(2))
			}
			sale.SaleValue = decimal.NewNullDecimal(v)
			sale.Record.SaleValue = v.StringFixed(2)
		}
	}

	sale.Quantity = 1
	if raw := strings.TrimSpace(rec.Quantity); raw != "" {
		q, err := rule.ParseNumber(raw)
		if err != nil || !q.IsInteger() || !q.IsPositive() {
			fail(errutil.ReasonInvalidFormat, rule.FieldQuantity, "quantity %q must be a positive whole number", raw)
		} else if q.GreaterThan(decimal.NewFromInt(MaxQuantity)) {
			fail(errutil.ReasonInvalidFormat, rule.FieldQuantity, "quantity %q is above the maximum of %d per sale", raw, MaxQuantity)
		} else {
			sale.Quantity = q.IntPart()
		}
	}
	sale.Record.Quantity = fmt.Sprintf("%d", sale.Quantity)

	if email := strings.TrimSpace(rec.CustomerEmail); email != "" {
		if err := n.validate.Var(email, "email"); err != nil {
			fail(errutil.ReasonInvalidFormat, rule.FieldCustomerEmail, "customer email %q is not valid", email)
		} else {
			sale.Record.CustomerEmail = strings.ToLower(email)
		}
	}

	if phone := strings.TrimSpace(rec.CustomerPhone); phone != "" {
		if e164, ok := n.phone(phone); ok {
			sale.Record.CustomerPhone = e164
		} else {
			sale.Warnings = append(sale.Warnings, fmt.Sprintf("customer phone %q is not a valid number", phone))
		}
	}

	if len(issues) > 0 {
		details := make([]errutil.Detail, 0, len(issues))
		msgs := make([]string, 0, len(issues))
		for _, is := range issues {
			details = append(details, errutil.Detail{Field: string(is.field), Message: is.msg})
			msgs = append(msgs, is.msg)
		}
		return nil, errutil.RowError(issues[0].reason, strings.Join(msgs, "; "), errutil.WithDetails(details...))
	}
	return sale, nil
}

func (n *Normalizer) document(raw string, f rule.TargetField, valid func(string) bool, label string, rec *rule.Record,
	fail func(errutil.Reason, rule.TargetField, string, ...any)) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	digits := digitsOf(raw)
	if !valid(digits) {
		fail(errutil.ReasonInvalidFormat, f, "%s %q has invalid check digits", label, raw)
		return
	}
	rec.Set(f, digits)
}

func (n *Normalizer) phone(raw string) (string, bool) {
	num, err := phonenumbers.Parse(raw, n.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
