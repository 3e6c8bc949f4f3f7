package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is the display copy of a patient or doctor taken when the bill is
// created. It is never refreshed from the directory afterwards.
type Snapshot struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// ConsultationFee is the doctor-set charge for the visit.
type ConsultationFee struct {
	Amount  decimal.Decimal `json:"amount"`
	Notes   string          `json:"notes,omitempty"`
	AddedBy string          `json:"added_by"`
	AddedAt time.Time       `json:"added_at"`
}

type LabTest struct {
	TestName string          `json:"test_name"`
	Amount   decimal.Decimal `json:"amount"`
}

type Scan struct {
	ScanName string          `json:"scan_name"`
	Amount   decimal.Decimal `json:"amount"`
}

// Medicine.Amount is always Quantity × UnitPrice; any client value is overwritten.
type Medicine struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// BedCharges.Amount is always Days × RatePerDay.
type BedCharges struct {
	Days       int             `json:"days"`
	RatePerDay decimal.Decimal `json:"rate_per_day"`
	Amount     decimal.Decimal `json:"amount"`
}

type ServiceFee struct {
	ServiceName string          `json:"service_name"`
	Amount      decimal.Decimal `json:"amount"`
}

// HospitalCharges holds the five admin-owned charge categories.
type HospitalCharges struct {
	LabTests    []LabTest    `json:"lab_tests"`
	Scans       []Scan       `json:"scans"`
	Medicines   []Medicine   `json:"medicines"`
	BedCharges  BedCharges   `json:"bed_charges"`
	ServiceFees []ServiceFee `json:"service_fees"`
	UpdatedBy   string       `json:"updated_by,omitempty"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
}

type ItemCategory string

const (
	CategoryConsultation ItemCategory = "consultation"
	CategoryLabTest      ItemCategory = "lab_test"
	CategoryScan         ItemCategory = "scan"
	CategoryMedicine     ItemCategory = "medicine"
	CategoryBed          ItemCategory = "bed"
	CategoryService      ItemCategory = "service"
	CategoryProcedure    ItemCategory = "procedure"
	CategoryOther        ItemCategory = "other"
)

var validCategories = map[ItemCategory]bool{
	CategoryConsultation: true, CategoryLabTest: true, CategoryScan: true, CategoryMedicine: true,
	CategoryBed: true, CategoryService: true, CategoryProcedure: true, CategoryOther: true,
}

// Item is a free-form billable line. TotalPrice is recomputed on every write.
type Item struct {
	Description string          `json:"description"`
	Category    ItemCategory    `json:"category"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// ItemPatch carries the fields of an item update; nil fields are left alone.
type ItemPatch struct {
	Description *string          `json:"description,omitempty"`
	Category    *ItemCategory    `json:"category,omitempty"`
	Quantity    *int             `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodUPI          PaymentMethod = "upi"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodInsurance    PaymentMethod = "insurance"
	MethodOnline       PaymentMethod = "online"
)

var validMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCard: true, MethodUPI: true,
	MethodBankTransfer: true, MethodInsurance: true, MethodOnline: true,
}

type PaymentKind string

const (
	KindPayment  PaymentKind = "payment"
	KindReversal PaymentKind = "reversal"
)

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is an entry in the append-only payment ledger. Reversals carry a
// negative Amount and point at the payment they undo.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	Kind              PaymentKind     `json:"kind"`
	Method            PaymentMethod   `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	PaymentDate       time.Time       `json:"payment_date"`
	Status            PaymentStatus   `json:"status"`
	Notes             string          `json:"notes,omitempty"`
	ReversesPaymentID *uuid.UUID      `json:"reverses_payment_id,omitempty"`
	RecordedBy        string          `json:"recorded_by"`
}

// Bill is the aggregate root. The embedded Totals are derived by Recompute
// and are never written from request input.
type Bill struct {
	ID             uuid.UUID `json:"id"`
	PatientRef     string    `json:"patient_ref"`
	DoctorRef      *string   `json:"doctor_ref,omitempty"`
	AppointmentRef *string   `json:"appointment_ref,omitempty"`
	Patient        Snapshot  `json:"patient"`
	Doctor         *Snapshot `json:"doctor,omitempty"`
	Status         Status    `json:"status"`

	ConsultationFee *ConsultationFee `json:"consultation_fee,omitempty"`
	HospitalCharges HospitalCharges  `json:"hospital_charges"`
	Items           []Item           `json:"items"`

	TaxRate        decimal.Decimal `json:"tax_rate"`
	Discount       decimal.Decimal `json:"discount"`
	DiscountReason string          `json:"discount_reason,omitempty"`

	Totals

	Payments []Payment `json:"payments"`

	BillDate time.Time  `json:"bill_date"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Notes    string     `json:"notes,omitempty"`

	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	FinalizedBy  string     `json:"finalized_by,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAssignedDoctor reports whether actorID is the bill's doctor.
func (b *Bill) IsAssignedDoctor(actorID string) bool {
	return b.DoctorRef != nil && actorID != "" && *b.DoctorRef == actorID
}

// Clone returns a deep copy so callers cannot alias the ledger slices.
func (b *Bill) Clone() *Bill {
	c := *b
	if b.DoctorRef != nil {
		v := *b.DoctorRef
		c.DoctorRef = &v
	}
	if b.AppointmentRef != nil {
		v := *b.AppointmentRef
		c.AppointmentRef = &v
	}
	if b.Doctor != nil {
		v := *b.Doctor
		c.Doctor = &v
	}
	if b.ConsultationFee != nil {
		v := *b.ConsultationFee
		c.ConsultationFee = &v
	}
	c.HospitalCharges.LabTests = append(make([]LabTest, 0, len(b.HospitalCharges.LabTests)), b.HospitalCharges.LabTests...)
	c.HospitalCharges.Scans = append(make([]Scan, 0, len(b.HospitalCharges.Scans)), b.HospitalCharges.Scans...)
	c.HospitalCharges.Medicines = append(make([]Medicine, 0, len(b.HospitalCharges.Medicines)), b.HospitalCharges.Medicines...)
	c.HospitalCharges.ServiceFees = append(make([]ServiceFee, 0, len(b.HospitalCharges.ServiceFees)), b.HospitalCharges.ServiceFees...)
	c.HospitalCharges.UpdatedAt = cloneTime(b.HospitalCharges.UpdatedAt)
	c.Items = append(make([]Item, 0, len(b.Items)), b.Items...)
	c.Payments = make([]Payment, len(b.Payments))
	for i, p := range b.Payments {
		if p.ReversesPaymentID != nil {
			id := *p.ReversesPaymentID
			p.ReversesPaymentID = &id
		}
		c.Payments[i] = p
	}
	c.DueDate = cloneTime(b.DueDate)
	c.FinalizedAt = cloneTime(b.FinalizedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	c.PaidAt = cloneTime(b.PaidAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ListFilter narrows ListBills. Empty fields match everything.
type ListFilter struct {
	Status     Status
	PatientRef string
	DoctorRef  string
}
