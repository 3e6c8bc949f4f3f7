package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/pkg/money"
)

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

func completed(amount string) Payment {
	return Payment{ID: uuid.New(), Kind: KindPayment, Method: MethodCash, Amount: money.Must(amount), Status: PaymentCompleted}
}

func TestReconcile_ConsultationAndHospitalCharges(t *testing.T) {
	fee := &ConsultationFee{Amount: money.Must("50")}
	charges := HospitalCharges{
		LabTests:   []LabTest{{TestName: "CBC", Amount: money.Must("20")}},
		BedCharges: BedCharges{Days: 2, RatePerDay: money.Must("100")},
	}

	tot := Reconcile(fee, charges, nil, decimal.Zero, decimal.Zero, nil)

	assertAmount(t, "50.00", tot.ConsultationTotal)
	assertAmount(t, "20.00", tot.LabTotal)
	assertAmount(t, "200.00", tot.BedTotal)
	assertAmount(t, "220.00", tot.HospitalTotal)
	assertAmount(t, "270.00", tot.Subtotal)
	assertAmount(t, "270.00", tot.TotalAmount)
	assertAmount(t, "0.00", tot.PaidAmount)
	assertAmount(t, "270.00", tot.BalanceAmount)
}

func TestReconcile_IgnoresStoredLineTotals(t *testing.T) {
	charges := HospitalCharges{
		Medicines:  []Medicine{{Name: "Paracetamol", Quantity: 3, UnitPrice: money.Must("2.50"), Amount: money.Must("999")}},
		BedCharges: BedCharges{Days: 1, RatePerDay: money.Must("80"), Amount: money.Must("1")},
	}
	items := []Item{{Description: "Dressing", Quantity: 4, UnitPrice: money.Must("1.25"), TotalPrice: money.Must("0")}}

	tot := Reconcile(nil, charges, items, decimal.Zero, decimal.Zero, nil)

	assertAmount(t, "7.50", tot.MedicineTotal)
	assertAmount(t, "80.00", tot.BedTotal)
	assertAmount(t, "5.00", tot.ItemsTotal)
	assertAmount(t, "92.50", tot.Subtotal)
}

func TestReconcile_TaxDiscountAndRounding(t *testing.T) {
	fee := &ConsultationFee{Amount: money.Must("33.33")}
	tot := Reconcile(fee, HospitalCharges{}, nil, money.Must("0.18"), money.Must("10"), nil)

	// 33.33 × 0.18 = 5.9994
	assertAmount(t, "6.00", tot.TaxAmount)
	assertAmount(t, "10.00", tot.DiscountAmount)
	assertAmount(t, "29.33", tot.TotalAmount)
}

func TestReconcile_DiscountNeverMakesTotalNegative(t *testing.T) {
	fee := &ConsultationFee{Amount: money.Must("40")}
	tot := Reconcile(fee, HospitalCharges{}, nil, decimal.Zero, money.Must("100"), nil)

	assertAmount(t, "0.00", tot.TotalAmount)
	assertAmount(t, "0.00", tot.BalanceAmount)
}

func TestReconcile_PaymentsAndReversals(t *testing.T) {
	fee := &ConsultationFee{Amount: money.Must("100")}
	p := completed("60")
	ref := p.ID
	reversal := Payment{ID: uuid.New(), Kind: KindReversal, Amount: money.Must("-20"), Status: PaymentCompleted, ReversesPaymentID: &ref}
	failed := completed("40")
	failed.Status = PaymentFailed

	tot := Reconcile(fee, HospitalCharges{}, nil, decimal.Zero, decimal.Zero, []Payment{p, reversal, failed})

	assertAmount(t, "40.00", tot.PaidAmount)
	assertAmount(t, "60.00", tot.BalanceAmount)
}

func TestReconcile_IsDeterministic(t *testing.T) {
	fee := &ConsultationFee{Amount: money.Must("12.34")}
	charges := HospitalCharges{
		Scans:       []Scan{{ScanName: "X-Ray", Amount: money.Must("45.10")}},
		ServiceFees: []ServiceFee{{ServiceName: "Nursing", Amount: money.Must("15")}},
	}
	a := Reconcile(fee, charges, nil, money.Must("0.05"), money.Must("1"), nil)
	b := Reconcile(fee, charges, nil, money.Must("0.05"), money.Must("1"), nil)
	assert.True(t, a.Equal(b))
}

func TestBill_RecomputeAndCheckTotals(t *testing.T) {
	b := &Bill{
		ConsultationFee: &ConsultationFee{Amount: money.Must("50")},
		HospitalCharges: HospitalCharges{
			Medicines: []Medicine{{Name: "Amoxicillin", Quantity: 2, UnitPrice: money.Must("3.10")}},
		},
	}
	require.Error(t, b.CheckTotals(), "fresh bill has no totals yet")

	b.Recompute()
	require.NoError(t, b.CheckTotals())
	assertAmount(t, "6.20", b.HospitalCharges.Medicines[0].Amount)
	assertAmount(t, "56.20", b.TotalAmount)
	assert.NotNil(t, b.Items)
	assert.NotNil(t, b.Payments)

	b.HospitalCharges.Medicines[0].Amount = money.Must("1")
	assert.Error(t, b.CheckTotals())

	b.Recompute()
	b.TotalAmount = money.Must("1")
	assert.Error(t, b.CheckTotals())
}

func TestBill_CloneDoesNotAlias(t *testing.T) {
	doc := "doc-1"
	now := time.Now()
	b := &Bill{
		DoctorRef: &doc,
		Items:     []Item{{Description: "Gauze", Quantity: 1, UnitPrice: money.Must("2")}},
		Payments:  []Payment{completed("2")},
		DueDate:   &now,
	}
	c := b.Clone()
	c.Items[0].Description = "changed"
	*c.DoctorRef = "doc-2"
	c.Payments[0].Amount = money.Must("9")

	assert.Equal(t, "Gauze", b.Items[0].Description)
	assert.Equal(t, "doc-1", *b.DoctorRef)
	assertAmount(t, "2.00", b.Payments[0].Amount)
	assert.NotSame(t, b.DueDate, c.DueDate)
}
