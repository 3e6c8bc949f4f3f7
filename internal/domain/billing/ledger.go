package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/hms/hms/pkg/money"
	"github.com/shopspring/decimal"
)

// Category setters replace a category wholesale. Entries with an empty name
// or a zero amount are dropped; negative values are rejected.

func checkAmount(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return validationError(field, "must not be negative")
	}
	if !money.HasCents(d) {
		return validationError(field, "must have at most two decimal places")
	}
	return nil
}

func normalizeLabTests(in []LabTest) ([]LabTest, error) {
	out := make([]LabTest, 0, len(in))
	for i, l := range in {
		if err := checkAmount(fmt.Sprintf("lab_tests[%d].amount", i), l.Amount); err != nil {
			return nil, err
		}
		l.TestName = strings.TrimSpace(l.TestName)
		if l.TestName == "" || l.Amount.IsZero() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func normalizeScans(in []Scan) ([]Scan, error) {
	out := make([]Scan, 0, len(in))
	for i, s := range in {
		if err := checkAmount(fmt.Sprintf("scans[%d].amount", i), s.Amount); err != nil {
			return nil, err
		}
		s.ScanName = strings.TrimSpace(s.ScanName)
		if s.ScanName == "" || s.Amount.IsZero() {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func normalizeMedicines(in []Medicine) ([]Medicine, error) {
	out := make([]Medicine, 0, len(in))
	for i, m := range in {
		if m.Quantity < 0 {
			return nil, validationError(fmt.Sprintf("medicines[%d].quantity", i), "must not be negative")
		}
		if err := checkAmount(fmt.Sprintf("medicines[%d].unit_price", i), m.UnitPrice); err != nil {
			return nil, err
		}
		m.Name = strings.TrimSpace(m.Name)
		m.Amount = money.LineTotal(m.Quantity, m.UnitPrice)
		if m.Name == "" || m.Amount.IsZero() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func normalizeBed(in BedCharges) (BedCharges, error) {
	if in.Days < 0 {
		return BedCharges{}, validationError("bed_charges.days", "must not be negative")
	}
	if err := checkAmount("bed_charges.rate_per_day", in.RatePerDay); err != nil {
		return BedCharges{}, err
	}
	in.Amount = money.LineTotal(in.Days, in.RatePerDay)
	if in.Amount.IsZero() {
		return BedCharges{RatePerDay: decimal.Zero, Amount: decimal.Zero}, nil
	}
	return in, nil
}

func normalizeServiceFees(in []ServiceFee) ([]ServiceFee, error) {
	out := make([]ServiceFee, 0, len(in))
	for i, s := range in {
		if err := checkAmount(fmt.Sprintf("service_fees[%d].amount", i), s.Amount); err != nil {
			return nil, err
		}
		s.ServiceName = strings.TrimSpace(s.ServiceName)
		if s.ServiceName == "" || s.Amount.IsZero() {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *Bill) touchCharges(actorID string, now time.Time) {
	b.HospitalCharges.UpdatedBy = actorID
	b.HospitalCharges.UpdatedAt = &now
}

func (b *Bill) SetLabTests(tests []LabTest, actorID string, now time.Time) error {
	out, err := normalizeLabTests(tests)
	if err != nil {
		return err
	}
	b.HospitalCharges.LabTests = out
	b.touchCharges(actorID, now)
	return nil
}

func (b *Bill) SetScans(scans []Scan, actorID string, now time.Time) error {
	out, err := normalizeScans(scans)
	if err != nil {
		return err
	}
	b.HospitalCharges.Scans = out
	b.touchCharges(actorID, now)
	return nil
}

func (b *Bill) SetMedicines(meds []Medicine, actorID string, now time.Time) error {
	out, err := normalizeMedicines(meds)
	if err != nil {
		return err
	}
	b.HospitalCharges.Medicines = out
	b.touchCharges(actorID, now)
	return nil
}

func (b *Bill) SetBedCharges(days int, ratePerDay decimal.Decimal, actorID string, now time.Time) error {
	bed, err := normalizeBed(BedCharges{Days: days, RatePerDay: ratePerDay})
	if err != nil {
		return err
	}
	b.HospitalCharges.BedCharges = bed
	b.touchCharges(actorID, now)
	return nil
}

func (b *Bill) SetServiceFees(fees []ServiceFee, actorID string, now time.Time) error {
	out, err := normalizeServiceFees(fees)
	if err != nil {
		return err
	}
	b.HospitalCharges.ServiceFees = out
	b.touchCharges(actorID, now)
	return nil
}

// SetHospitalCharges replaces all five categories. Nothing changes unless
// every category validates.
func (b *Bill) SetHospitalCharges(in HospitalCharges, actorID string, now time.Time) error {
	labs, err := normalizeLabTests(in.LabTests)
	if err != nil {
		return err
	}
	scans, err := normalizeScans(in.Scans)
	if err != nil {
		return err
	}
	meds, err := normalizeMedicines(in.Medicines)
	if err != nil {
		return err
	}
	bed, err := normalizeBed(in.BedCharges)
	if err != nil {
		return err
	}
	fees, err := normalizeServiceFees(in.ServiceFees)
	if err != nil {
		return err
	}
	b.HospitalCharges = HospitalCharges{
		LabTests:    labs,
		Scans:       scans,
		Medicines:   meds,
		BedCharges:  bed,
		ServiceFees: fees,
	}
	b.touchCharges(actorID, now)
	return nil
}

// SetConsultationFee sets the doctor's fee. A zero amount clears it.
func (b *Bill) SetConsultationFee(amount decimal.Decimal, notes, actorID string, now time.Time) error {
	if err := checkAmount("consultation_fee.amount", amount); err != nil {
		return err
	}
	if amount.IsZero() {
		b.ConsultationFee = nil
		return nil
	}
	b.ConsultationFee = &ConsultationFee{
		Amount:  amount,
		Notes:   strings.TrimSpace(notes),
		AddedBy: actorID,
		AddedAt: now,
	}
	return nil
}

func validateItem(field string, it Item) (Item, error) {
	it.Description = strings.TrimSpace(it.Description)
	if it.Description == "" {
		return it, validationError(field+".description", "description is required")
	}
	if it.Category == "" {
		it.Category = CategoryOther
	}
	if !validCategories[it.Category] {
		return it, validationError(field+".category", "invalid item category: %s", it.Category)
	}
	if it.Quantity < 1 {
		return it, validationError(field+".quantity", "quantity must be at least 1")
	}
	if err := checkAmount(field+".unit_price", it.UnitPrice); err != nil {
		return it, err
	}
	it.TotalPrice = money.LineTotal(it.Quantity, it.UnitPrice)
	return it, nil
}

// AddItem appends a line; any client TotalPrice is discarded.
func (b *Bill) AddItem(it Item) error {
	it, err := validateItem("item", it)
	if err != nil {
		return err
	}
	b.Items = append(b.Items, it)
	return nil
}

func (b *Bill) checkIndex(index int) error {
	if index < 0 || index >= len(b.Items) {
		return validationError("index", "item index %d out of range (bill has %d items)", index, len(b.Items))
	}
	return nil
}

// UpdateItem applies patch to the item at index and recomputes its total.
func (b *Bill) UpdateItem(index int, patch ItemPatch) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	it := b.Items[index]
	if patch.Description != nil {
		it.Description = *patch.Description
	}
	if patch.Category != nil {
		it.Category = *patch.Category
	}
	if patch.Quantity != nil {
		it.Quantity = *patch.Quantity
	}
	if patch.UnitPrice != nil {
		it.UnitPrice = *patch.UnitPrice
	}
	it, err := validateItem(fmt.Sprintf("items[%d]", index), it)
	if err != nil {
		return err
	}
	b.Items[index] = it
	return nil
}

func (b *Bill) RemoveItem(index int) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	b.Items = append(b.Items[:index], b.Items[index+1:]...)
	return nil
}

// Adjustments carries tax and discount changes; nil fields are left alone.
type Adjustments struct {
	TaxRate        *decimal.Decimal `json:"tax_rate,omitempty"`
	Discount       *decimal.Decimal `json:"discount,omitempty"`
	DiscountReason *string          `json:"discount_reason,omitempty"`
}

var maxTaxRate = decimal.NewFromInt(1)

func (b *Bill) SetAdjustments(adj Adjustments) error {
	if adj.TaxRate != nil {
		if adj.TaxRate.IsNegative() || adj.TaxRate.GreaterThan(maxTaxRate) {
			return validationError("tax_rate", "tax rate must be between 0 and 1")
		}
	}
	if adj.Discount != nil {
		if err := checkAmount("discount", *adj.Discount); err != nil {
			return err
		}
	}
	discount, reason := b.Discount, b.DiscountReason
	if adj.Discount != nil {
		discount = *adj.Discount
	}
	if adj.DiscountReason != nil {
		reason = strings.TrimSpace(*adj.DiscountReason)
	}
	if discount.IsPositive() && reason == "" {
		return validationError("discount_reason", "a discount requires a reason")
	}
	if adj.TaxRate != nil {
		b.TaxRate = *adj.TaxRate
	}
	b.Discount, b.DiscountReason = discount, reason
	return nil
}
