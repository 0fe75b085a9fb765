package normalize

import (
	"fmt"
	"sort"
	"strings"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/rule"
)

// Mapping translates source column headers into record fields.
type Mapping map[string]rule.TargetField

// Row is one input line keyed by source column, or by field name when the
// job has no mapping.
type Row map[string]string

// Check reports a ConfigurationError when a target is unknown or a field the
// engine cannot work without is unmapped. An empty mapping means rows are
// already keyed by field name and always passes.
func (m Mapping) Check(requireSeller bool) error {
	if len(m) == 0 {
		return nil
	}

	mapped := make(map[rule.TargetField]bool, len(m))
	var details []errutil.Detail
	for _, header := range m.headers() {
		target := m[header]
		if target == rule.FieldIgnore {
			continue
		}
		if !target.Valid() {
			details = append(details, errutil.Detail{Field: header, Message: fmt.Sprintf("unknown target field %q", target)})
			continue
		}
		mapped[target] = true
	}
	if len(details) > 0 {
		return errutil.ConfigurationError(errutil.ReasonInvalidRule, "column mapping names unknown fields", errutil.WithDetails(details...))
	}

	hasOrder := false
	for _, f := range rule.OrderFields {
		hasOrder = hasOrder || mapped[f]
	}
	if !hasOrder {
		details = append(details, errutil.Detail{Field: string(rule.FieldOrderNumber), Message: "map one of ORDER_NUMBER, ORDER_ID or INVOICE_NUMBER"})
	}
	if !mapped[rule.FieldSaleDate] {
		details = append(details, errutil.Detail{Field: string(rule.FieldSaleDate), Message: "sale date column is not mapped"})
	}
	if requireSeller && !mapped[rule.FieldSellerCPF] {
		details = append(details, errutil.Detail{Field: string(rule.FieldSellerCPF), Message: "seller column is required for campaign jobs"})
	}
	if len(details) > 0 {
		return errutil.ConfigurationError(errutil.ReasonUnmappedField, "required fields are not mapped", errutil.WithDetails(details...))
	}
	return nil
}

// Apply builds a record from row. Headers are matched case-insensitively
// after trimming; unmapped columns are dropped.
func (m Mapping) Apply(row Row) rule.Record {
	var rec rule.Record
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(m) == 0 {
		for _, k := range keys {
			if f, err := rule.ParseTargetField(k); err == nil {
				rec.Set(f, strings.TrimSpace(row[k]))
			}
		}
		return rec
	}

	lookup := make(map[string]rule.TargetField, len(m))
	for header, target := range m {
		lookup[foldHeader(header)] = target
	}
	for _, k := range keys {
		if target, ok := lookup[foldHeader(k)]; ok && target != rule.FieldIgnore {
			rec.Set(target, strings.TrimSpace(row[k]))
		}
	}
	return rec
}

func (m Mapping) headers() []string {
	out := make([]string, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func foldHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
