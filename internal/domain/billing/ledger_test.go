package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/pkg/money"
)

func TestSetHospitalCharges_DropsEmptyEntries(t *testing.T) {
	b := billWithFee(StatusDraft, "")
	now := time.Now()

	err := b.SetHospitalCharges(HospitalCharges{
		LabTests: []LabTest{
			{TestName: "CBC", Amount: money.Must("20")},
			{TestName: "  ", Amount: money.Must("15")},
			{TestName: "Lipid", Amount: decimal.Zero},
		},
		Medicines: []Medicine{
			{Name: "Ibuprofen", Quantity: 2, UnitPrice: money.Must("4.25"), Amount: money.Must("1")},
			{Name: "Vitamin D", Quantity: 0, UnitPrice: money.Must("3")},
		},
		BedCharges: BedCharges{Days: 2, RatePerDay: money.Must("100")},
	}, "admin-1", now)
	require.NoError(t, err)

	hc := b.HospitalCharges
	require.Len(t, hc.LabTests, 1)
	assert.Equal(t, "CBC", hc.LabTests[0].TestName)
	require.Len(t, hc.Medicines, 1)
	assertAmount(t, "8.50", hc.Medicines[0].Amount)
	assertAmount(t, "200.00", hc.BedCharges.Amount)
	assert.Equal(t, "admin-1", hc.UpdatedBy)
	require.NotNil(t, hc.UpdatedAt)

	b.Recompute()
	assertAmount(t, "228.50", b.HospitalTotal)
}

func TestSetHospitalCharges_RejectsNegativeAtomically(t *testing.T) {
	b := billWithFee(StatusDraft, "")
	require.NoError(t, b.SetLabTests([]LabTest{{TestName: "CBC", Amount: money.Must("20")}}, "admin-1", time.Now()))

	err := b.SetHospitalCharges(HospitalCharges{
		LabTests:    []LabTest{{TestName: "ESR", Amount: money.Must("5")}},
		ServiceFees: []ServiceFee{{ServiceName: "Nursing", Amount: money.Must("-1")}},
	}, "admin-1", time.Now())

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrValidation, be.Kind)
	assert.Equal(t, "service_fees[0].amount", be.Field)
	require.Len(t, b.HospitalCharges.LabTests, 1)
	assert.Equal(t, "CBC", b.HospitalCharges.LabTests[0].TestName)
}

func TestCategorySetters(t *testing.T) {
	b := billWithFee(StatusDraft, "")
	now := time.Now()

	require.NoError(t, b.SetScans([]Scan{{ScanName: "MRI", Amount: money.Must("300")}}, "admin-1", now))
	require.NoError(t, b.SetMedicines([]Medicine{{Name: "Saline", Quantity: 3, UnitPrice: money.Must("1.10")}}, "admin-1", now))
	require.NoError(t, b.SetBedCharges(3, money.Must("150"), "admin-1", now))
	require.NoError(t, b.SetServiceFees([]ServiceFee{{ServiceName: "Physio", Amount: money.Must("40")}}, "admin-1", now))

	b.Recompute()
	assertAmount(t, "300.00", b.ScanTotal)
	assertAmount(t, "3.30", b.MedicineTotal)
	assertAmount(t, "450.00", b.BedTotal)
	assertAmount(t, "40.00", b.ServiceTotal)
	assertAmount(t, "793.30", b.HospitalTotal)

	assert.True(t, errors.Is(b.SetBedCharges(-1, money.Must("10"), "admin-1", now), ErrValidation))
	assert.True(t, errors.Is(b.SetMedicines([]Medicine{{Name: "X", Quantity: -2, UnitPrice: money.Must("1")}}, "admin-1", now), ErrValidation))
	assert.True(t, errors.Is(b.SetScans([]Scan{{ScanName: "CT", Amount: decimal.RequireFromString("10.005")}}, "admin-1", now), ErrValidation))
}

func TestSetConsultationFee(t *testing.T) {
	b := billWithFee(StatusDraft, "")
	now := time.Now()

	require.NoError(t, b.SetConsultationFee(money.Must("500"), " follow-up ", "doc-1", now))
	require.NotNil(t, b.ConsultationFee)
	assert.Equal(t, "follow-up", b.ConsultationFee.Notes)
	assert.Equal(t, "doc-1", b.ConsultationFee.AddedBy)

	assert.True(t, errors.Is(b.SetConsultationFee(money.Must("-5"), "", "doc-1", now), ErrValidation))
	assert.NotNil(t, b.ConsultationFee)

	require.NoError(t, b.SetConsultationFee(decimal.Zero, "", "doc-1", now))
	assert.Nil(t, b.ConsultationFee)
}

func TestItems(t *testing.T) {
	b := billWithFee(StatusDraft, "")

	require.NoError(t, b.AddItem(Item{Description: "Crutches", Quantity: 1, UnitPrice: money.Must("35"), TotalPrice: money.Must("1")}))
	require.NoError(t, b.AddItem(Item{Description: "Bandage", Category: CategoryMedicine, Quantity: 5, UnitPrice: money.Must("2.20")}))
	assert.Equal(t, CategoryOther, b.Items[0].Category)
	assertAmount(t, "35.00", b.Items[0].TotalPrice)
	assertAmount(t, "11.00", b.Items[1].TotalPrice)

	qty := 2
	require.NoError(t, b.UpdateItem(1, ItemPatch{Quantity: &qty}))
	assertAmount(t, "4.40", b.Items[1].TotalPrice)

	bad := ItemCategory("luxury")
	assert.True(t, errors.Is(b.UpdateItem(1, ItemPatch{Category: &bad}), ErrValidation))
	assert.Equal(t, CategoryMedicine, b.Items[1].Category)

	zero := 0
	assert.True(t, errors.Is(b.UpdateItem(0, ItemPatch{Quantity: &zero}), ErrValidation))

	var be *Error
	require.ErrorAs(t, b.UpdateItem(5, ItemPatch{}), &be)
	assert.Equal(t, "index", be.Field)
	assert.True(t, errors.Is(b.RemoveItem(-1), ErrValidation))

	require.NoError(t, b.RemoveItem(0))
	require.Len(t, b.Items, 1)
	assert.Equal(t, "Bandage", b.Items[0].Description)

	assert.True(t, errors.Is(b.AddItem(Item{Description: "", Quantity: 1}), ErrValidation))
}

func TestSetAdjustments(t *testing.T) {
	b := billWithFee(StatusDraft, "100")
	rate := money.Must("0.18")
	require.NoError(t, b.SetAdjustments(Adjustments{TaxRate: &rate}))

	discount := money.Must("10")
	var be *Error
	require.ErrorAs(t, b.SetAdjustments(Adjustments{Discount: &discount}), &be)
	assert.Equal(t, "discount_reason", be.Field)

	reason := "staff discount"
	require.NoError(t, b.SetAdjustments(Adjustments{Discount: &discount, DiscountReason: &reason}))

	b.Recompute()
	assertAmount(t, "18.00", b.TaxAmount)
	assertAmount(t, "108.00", b.TotalAmount)

	tooHigh := money.Must("1.5")
	assert.True(t, errors.Is(b.SetAdjustments(Adjustments{TaxRate: &tooHigh}), ErrValidation))
	negative := money.Must("-1")
	assert.True(t, errors.Is(b.SetAdjustments(Adjustments{Discount: &negative}), ErrValidation))
	assert.True(t, b.TaxRate.Equal(rate))
}
