package normalize

import (
	"testing"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/rule"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestDocuments(t *testing.T) {
	require.True(t, ValidCPF("52998224725"))
	require.True(t, ValidCPF("11144477735"))
	require.False(t, ValidCPF("52998224724"))
	require.False(t, ValidCPF("11111111111"))
	require.False(t, ValidCPF("5299822472"))

	require.True(t, ValidCNPJ("11222333000181"))
	require.False(t, ValidCNPJ("11222333000182"))
	require.False(t, ValidCNPJ("00000000000000"))
}

func TestNormalize_Canonical(t *testing.T) {
	n := NewNormalizer(nil)

	sale, err := n.Normalize(rule.Record{
		OrderNumber:   "  PED-001 ",
		SaleDate:      "05/03/2026",
		SellerCPF:     "529.982.247-25",
		OpticCNPJ:     "11.222.333/0001-81",
		ProductName:   "Lente Super-foco",
		SaleValue:     "R$ 1.250,90",
		Quantity:      "2",
		CustomerEmail: "Ana@Example.com",
		CustomerPhone: "(11) 98765-4321",
	}, Options{RequireSeller: true})
	require.NoError(t, err)

	require.Equal(t, "PED-001", sale.OrderNumber)
	require.Equal(t, rule.FieldOrderNumber, sale.OrderField)
	require.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), sale.SaleDate)
	require.Equal(t, int64(2), sale.Quantity)
	require.True(t, sale.SaleValue.Valid)
	require.Equal(t, "1250.90", sale.Record.SaleValue)
	require.Equal(t, "2026-03-05", sale.Record.SaleDate)
	require.Equal(t, "52998224725", sale.SellerCPF)
	require.Equal(t, "11222333000181", sale.Record.OpticCNPJ)
	require.Equal(t, "ana@example.com", sale.Record.CustomerEmail)
	require.Equal(t, "+5511987654321", sale.Record.CustomerPhone)
	require.Empty(t, sale.Warnings)
}

func TestNormalize_DefaultsQuantity(t *testing.T) {
	n := NewNormalizer(nil)

	sale, err := n.Normalize(rule.Record{InvoiceNumber: "NF-9", SaleDate: "2026-03-05"}, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(1), sale.Quantity)
	require.Equal(t, "NF-9", sale.OrderNumber)
	require.Equal(t, rule.FieldInvoiceNumber, sale.OrderField)
	require.False(t, sale.SaleValue.Valid)
}

func TestNormalize_QuantityUpperBound(t *testing.T) {
	n := NewNormalizer(nil)
	base := rule.Record{OrderNumber: "A", SaleDate: "2026-03-05"}

	for _, raw := range []string{"1000001", "9223372036854775808", "18446744073709551617"} {
		rec := base
		rec.Quantity = raw
		_, err := n.Normalize(rec, Options{})
		require.Error(t, err, raw)
		require.Equal(t, errutil.KindRow, errutil.KindOf(err))
		require.Equal(t, errutil.ReasonInvalidFormat, errutil.ReasonOf(err))
		require.Contains(t, errutil.MessageOf(err), "above the maximum")
	}

	rec := base
	rec.Quantity = "1000000"
	sale, err := n.Normalize(rec, Options{})
	require.NoError(t, err)
	require.Equal(t, MaxQuantity, sale.Quantity)
}

func TestNormalize_CollectsFailures(t *testing.T) {
	n := NewNormalizer(nil)

	_, err := n.Normalize(rule.Record{
		SaleDate:      "32/13/2026",
		SellerCPF:     "123.456.789-00",
		Quantity:      "1.5",
		CustomerEmail: "not-an-email",
	}, Options{})
	require.Error(t, err)
	require.Equal(t, errutil.KindRow, errutil.KindOf(err))
	require.Equal(t, errutil.ReasonMissingField, errutil.ReasonOf(err))

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Details, 5)
	require.Contains(t, be.Message, "order number is missing")
	require.Contains(t, be.Message, "invalid check digits")
}

func TestNormalize_SaleValueRange(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engine.SaleValueMin = "100"
	cfg.Engine.SaleValueMax = "5.000,00"
	n := NewNormalizer(cfg)

	base := rule.Record{OrderNumber: "A", SaleDate: "2026-03-05"}

	rec := base
	rec.SaleValue = "99,99"
	_, err := n.Normalize(rec, Options{})
	require.Equal(t, errutil.ReasonSaleValueOutOfRange, errutil.ReasonOf(err))

	rec.SaleValue = "5000.01"
	_, err = n.Normalize(rec, Options{})
	require.Equal(t, errutil.ReasonSaleValueOutOfRange, errutil.ReasonOf(err))

	rec.SaleValue = "5000"
	_, err = n.Normalize(rec, Options{})
	require.NoError(t, err)

	// per-job limits replace the configured ones
	ceiling := decimal.NewFromInt(10)
	_, err = n.Normalize(rec, Options{Limits: Limits{Max: &ceiling}})
	require.Equal(t, errutil.ReasonSaleValueOutOfRange, errutil.ReasonOf(err))
}

func TestNormalize_InvalidPhoneIsWarning(t *testing.T) {
	n := NewNormalizer(nil)

	sale, err := n.Normalize(rule.Record{OrderNumber: "A", SaleDate: "2026-03-05", CustomerPhone: "123"}, Options{})
	require.NoError(t, err)
	require.Len(t, sale.Warnings, 1)
	require.Equal(t, "123", sale.Record.CustomerPhone)
}

func TestNormalize_RequireSeller(t *testing.T) {
	n := NewNormalizer(nil)

	_, err := n.Normalize(rule.Record{OrderNumber: "A", SaleDate: "2026-03-05"}, Options{RequireSeller: true})
	require.Equal(t, errutil.ReasonMissingField, errutil.ReasonOf(err))
}

func TestParseLimits(t *testing.T) {
	l, err := ParseLimits("", "")
	require.NoError(t, err)
	require.Nil(t, l.Min)
	require.Nil(t, l.Max)

	_, err = ParseLimits("10", "5")
	require.True(t, errutil.IsKind(err, errutil.KindConfiguration))

	_, err = ParseLimits("ten", "")
	require.Error(t, err)
}

func TestMapping(t *testing.T) {
	m := Mapping{
		"Pedido":   rule.FieldOrderNumber,
		"Data":     rule.FieldSaleDate,
		"Vendedor": rule.FieldSellerCPF,
		"Produto":  rule.FieldProductName,
		"Obs":      rule.FieldIgnore,
	}
	require.NoError(t, m.Check(true))

	rec := m.Apply(Row{" pedido ": "PED-1", "DATA": "2026-03-05", "Produto": " Lente ", "Obs": "x", "Extra": "y"})
	require.Equal(t, "PED-1", rec.OrderNumber)
	require.Equal(t, "2026-03-05", rec.SaleDate)
	require.Equal(t, "Lente", rec.ProductName)
	require.Empty(t, rec.Notes)

	err := Mapping{"Pedido": rule.FieldOrderNumber}.Check(false)
	require.Equal(t, errutil.ReasonUnmappedField, errutil.ReasonOf(err))

	err = Mapping{"Pedido": rule.FieldOrderNumber, "Data": rule.FieldSaleDate}.Check(true)
	require.Equal(t, errutil.ReasonUnmappedField, errutil.ReasonOf(err))

	err = Mapping{"Cor": "COLOUR"}.Check(false)
	require.Equal(t, errutil.ReasonInvalidRule, errutil.ReasonOf(err))

	require.NoError(t, Mapping{}.Check(true))
	rec = Mapping(nil).Apply(Row{"order number": "X", "sale-date": "2026-03-05"})
	require.Equal(t, "X", rec.OrderNumber)
	require.Equal(t, "2026-03-05", rec.SaleDate)
}
