package rule

import (
	"fmt"
	"strings"
)

// TargetField names an attribute of a sale record. Column mappings translate
// spreadsheet headers into these values.
type TargetField string

const (
	FieldOrderNumber   TargetField = "ORDER_NUMBER"
	FieldOrderID       TargetField = "ORDER_ID"
	FieldInvoiceNumber TargetField = "INVOICE_NUMBER"
	FieldSaleDate      TargetField = "SALE_DATE"
	FieldSellerCPF     TargetField = "SELLER_CPF"
	FieldOpticCNPJ     TargetField = "OPTIC_CNPJ"
	FieldProductName   TargetField = "PRODUCT_NAME"
	FieldSaleValue     TargetField = "SALE_VALUE"
	FieldQuantity      TargetField = "QUANTITY"
	FieldCustomerName  TargetField = "CUSTOMER_NAME"
	FieldCustomerCPF   TargetField = "CUSTOMER_CPF"
	FieldCustomerEmail TargetField = "CUSTOMER_EMAIL"
	FieldCustomerPhone TargetField = "CUSTOMER_PHONE"
	FieldNotes         TargetField = "NOTES"
	FieldIgnore        TargetField = "IGNORE"
)

// Fields lists every record attribute in a stable order. IGNORE is not a record attribute.
var Fields = []TargetField{
	FieldOrderNumber,
	FieldOrderID,
	FieldInvoiceNumber,
	FieldSaleDate,
	FieldSellerCPF,
	FieldOpticCNPJ,
	FieldProductName,
	FieldSaleValue,
	FieldQuantity,
	FieldCustomerName,
	FieldCustomerCPF,
	FieldCustomerEmail,
	FieldCustomerPhone,
	FieldNotes,
}

// OrderFields are the identifier variants, in the order they are preferred.
var OrderFields = []TargetField{FieldOrderNumber, FieldOrderID, FieldInvoiceNumber}

type FieldKind int

const (
	KindText FieldKind = iota
	KindNumeric
	KindDate
)

func (f TargetField) Kind() FieldKind {
	switch f {
	case FieldSaleValue, FieldQuantity:
		return KindNumeric
	case FieldSaleDate:
		return KindDate
	default:
		return KindText
	}
}

func (f TargetField) Valid() bool {
	if f == FieldIgnore {
		return true
	}
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

func (f TargetField) IsOrderField() bool {
	for _, o := range OrderFields {
		if f == o {
			return true
		}
	}
	return false
}

// ParseTargetField accepts the canonical name in any case, with spaces or dashes for underscores.
func ParseTargetField(s string) (TargetField, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	f := TargetField(norm)
	if !f.Valid() {
		return "", fmt.Errorf("unknown target field %q", s)
	}
	return f, nil
}

// Record is one normalized sale row. Values are kept as text; numeric and date
// interpretation happens where an operator needs it.
type Record struct {
	OrderNumber   string `json:"order_number,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	SaleDate      string `json:"sale_date,omitempty"`
	SellerCPF     string `json:"seller_cpf,omitempty"`
	OpticCNPJ     string `json:"optic_cnpj,omitempty"`
	ProductName   string `json:"product_name,omitempty"`
	SaleValue     string `json:"sale_value,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerCPF   string `json:"customer_cpf,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Value returns the text stored for f. IGNORE and unknown fields read as empty.
func (r Record) Value(f TargetField) string {
	switch f {
	case FieldOrderNumber:
		return r.OrderNumber
	case FieldOrderID:
		return r.OrderID
	case FieldInvoiceNumber:
		return r.InvoiceNumber
	case FieldSaleDate:
		return r.SaleDate
	case FieldSellerCPF:
		return r.SellerCPF
	case FieldOpticCNPJ:
		return r.OpticCNPJ
	case FieldProductName:
		return r.ProductName
	case FieldSaleValue:
		return r.SaleValue
	case FieldQuantity:
		return r.Quantity
	case FieldCustomerName:
		return r.CustomerName
	case FieldCustomerCPF:
		return r.CustomerCPF
	case FieldCustomerEmail:
		return r.CustomerEmail
	case FieldCustomerPhone:
		return r.CustomerPhone
	case FieldNotes:
		return r.Notes
	default:
		return ""
	}
}

// Set stores v under f. Writes to IGNORE are dropped.
func (r *Record) Set(f TargetField, v string) {
	switch f {
	case FieldOrderNumber:
		r.OrderNumber = v
	case FieldOrderID:
		r.OrderID = v
	case FieldInvoiceNumber:
		r.InvoiceNumber = v
	case FieldSaleDate:
		r.SaleDate = v
	case FieldSellerCPF:
		r.SellerCPF = v
	case FieldOpticCNPJ:
		r.OpticCNPJ = v
	case FieldProductName:
		r.ProductName = v
	case FieldSaleValue:
		r.SaleValue = v
	case FieldQuantity:
		r.Quantity = v
	case FieldCustomerName:
		r.CustomerName = v
	case FieldCustomerCPF:
		r.CustomerCPF = v
	case FieldCustomerEmail:
		r.CustomerEmail = v
	case FieldCustomerPhone:
		r.CustomerPhone = v
	case FieldNotes:
		r.Notes = v
	}
}

// OrderKey returns the first non-empty order identifier and the field it came from.
func (r Record) OrderKey() (string, TargetField) {
	for _, f := range OrderFields {
		if v := strings.TrimSpace(r.Value(f)); v != "" {
			return v, f
		}
	}
	return "", ""
}

// Map returns the non-empty values keyed by field name.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(Fields))
	for _, f := range Fields {
		if v := r.Value(f); v != "" {
			out[string(f)] = v
		}
	}
	return out
}
