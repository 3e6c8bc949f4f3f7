package billing

import (
	"fmt"

	"github.com/hms/hms/pkg/money"
	"github.com/shopspring/decimal"
)

// Totals is the derived view of a bill. Every field is produced by Reconcile.
type Totals struct {
	ConsultationTotal decimal.Decimal `json:"consultation_total"`
	LabTotal          decimal.Decimal `json:"lab_total"`
	ScanTotal         decimal.Decimal `json:"scan_total"`
	MedicineTotal     decimal.Decimal `json:"medicine_total"`
	BedTotal          decimal.Decimal `json:"bed_total"`
	ServiceTotal      decimal.Decimal `json:"service_total"`
	HospitalTotal     decimal.Decimal `json:"hospital_total"`
	ItemsTotal        decimal.Decimal `json:"items_total"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	BalanceAmount     decimal.Decimal `json:"balance_amount"`
}

// Equal compares two Totals by value.
func (t Totals) Equal(o Totals) bool {
	pairs := [][2]decimal.Decimal{
		{t.ConsultationTotal, o.ConsultationTotal},
		{t.LabTotal, o.LabTotal},
		{t.ScanTotal, o.ScanTotal},
		{t.MedicineTotal, o.MedicineTotal},
		{t.BedTotal, o.BedTotal},
		{t.ServiceTotal, o.ServiceTotal},
		{t.HospitalTotal, o.HospitalTotal},
		{t.ItemsTotal, o.ItemsTotal},
		{t.Subtotal, o.Subtotal},
		{t.TaxAmount, o.TaxAmount},
		{t.DiscountAmount, o.DiscountAmount},
		{t.TotalAmount, o.TotalAmount},
		{t.PaidAmount, o.PaidAmount},
		{t.BalanceAmount, o.BalanceAmount},
	}
	for _, p := range pairs {
		if !p[0].Equal(p[1]) {
			return false
		}
	}
	return true
}

// Reconcile computes the totals of a bill from its ledgers. It is pure and
// never reads stored line totals: medicine, bed and item amounts are
// recomputed from quantity and unit price.
//
//	subtotal = consultation + lab + scan + medicine + bed + service + items
//	tax      = subtotal × taxRate
//	total    = max(0, subtotal + tax − discount)
//	paid     = Σ completed payments (reversals are negative)
//	balance  = max(0, total − paid)
func Reconcile(fee *ConsultationFee, charges HospitalCharges, items []Item, taxRate, discount decimal.Decimal, payments []Payment) Totals {
	var t Totals
	if fee != nil {
		t.ConsultationTotal = money.Round(fee.Amount)
	}

	lab := make([]decimal.Decimal, 0, len(charges.LabTests))
	for _, l := range charges.LabTests {
		lab = append(lab, l.Amount)
	}
	t.LabTotal = money.Sum(lab...)

	scans := make([]decimal.Decimal, 0, len(charges.Scans))
	for _, s := range charges.Scans {
		scans = append(scans, s.Amount)
	}
	t.ScanTotal = money.Sum(scans...)

	meds := make([]decimal.Decimal, 0, len(charges.Medicines))
	for _, m := range charges.Medicines {
		meds = append(meds, money.LineTotal(m.Quantity, m.UnitPrice))
	}
	t.MedicineTotal = money.Sum(meds...)

	t.BedTotal = money.LineTotal(charges.BedCharges.Days, charges.BedCharges.RatePerDay)

	services := make([]decimal.Decimal, 0, len(charges.ServiceFees))
	for _, s := range charges.ServiceFees {
		services = append(services, s.Amount)
	}
	t.ServiceTotal = money.Sum(services...)

	t.HospitalTotal = money.Sum(t.LabTotal, t.ScanTotal, t.MedicineTotal, t.BedTotal, t.ServiceTotal)

	lines := make([]decimal.Decimal, 0, len(items))
	for _, it := range items {
		lines = append(lines, money.LineTotal(it.Quantity, it.UnitPrice))
	}
	t.ItemsTotal = money.Sum(lines...)

	t.Subtotal = money.Sum(t.ConsultationTotal, t.HospitalTotal, t.ItemsTotal)
	t.TaxAmount = money.Percent(t.Subtotal, taxRate)
	t.DiscountAmount = money.Round(discount)
	t.TotalAmount = money.NonNegative(money.Round(t.Subtotal.Add(t.TaxAmount).Sub(t.DiscountAmount)))

	paid := make([]decimal.Decimal, 0, len(payments))
	for _, p := range payments {
		if p.Status == PaymentCompleted {
			paid = append(paid, p.Amount)
		}
	}
	t.PaidAmount = money.Sum(paid...)
	t.BalanceAmount = money.NonNegative(t.TotalAmount.Sub(t.PaidAmount))
	return t
}

// Recompute rewrites every derived line amount and the bill totals.
func (b *Bill) Recompute() {
	for i := range b.HospitalCharges.Medicines {
		m := &b.HospitalCharges.Medicines[i]
		m.Amount = money.LineTotal(m.Quantity, m.UnitPrice)
	}
	bed := &b.HospitalCharges.BedCharges
	bed.Amount = money.LineTotal(bed.Days, bed.RatePerDay)
	for i := range b.Items {
		it := &b.Items[i]
		it.TotalPrice = money.LineTotal(it.Quantity, it.UnitPrice)
	}
	if b.HospitalCharges.LabTests == nil {
		b.HospitalCharges.LabTests = []LabTest{}
	}
	if b.HospitalCharges.Scans == nil {
		b.HospitalCharges.Scans = []Scan{}
	}
	if b.HospitalCharges.Medicines == nil {
		b.HospitalCharges.Medicines = []Medicine{}
	}
	if b.HospitalCharges.ServiceFees == nil {
		b.HospitalCharges.ServiceFees = []ServiceFee{}
	}
	if b.Items == nil {
		b.Items = []Item{}
	}
	if b.Payments == nil {
		b.Payments = []Payment{}
	}
	b.Totals = Reconcile(b.ConsultationFee, b.HospitalCharges, b.Items, b.TaxRate, b.Discount, b.Payments)
}

// CheckTotals reports an error when the stored totals or derived line amounts
// disagree with a fresh reconciliation. Repositories call it before writing.
func (b *Bill) CheckTotals() error {
	for i, m := range b.HospitalCharges.Medicines {
		if !m.Amount.Equal(money.LineTotal(m.Quantity, m.UnitPrice)) {
			return fmt.Errorf("stale medicine amount at index %d", i)
		}
	}
	if !b.HospitalCharges.BedCharges.Amount.Equal(money.LineTotal(b.HospitalCharges.BedCharges.Days, b.HospitalCharges.BedCharges.RatePerDay)) {
		return fmt.Errorf("stale bed charge amount")
	}
	for i, it := range b.Items {
		if !it.TotalPrice.Equal(money.LineTotal(it.Quantity, it.UnitPrice)) {
			return fmt.Errorf("stale item total at index %d", i)
		}
	}
	want := Reconcile(b.ConsultationFee, b.HospitalCharges, b.Items, b.TaxRate, b.Discount, b.Payments)
	if !want.Equal(b.Totals) {
		return fmt.Errorf("stale bill totals")
	}
	return nil
}
