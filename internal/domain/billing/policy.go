package billing

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleSystem  Role = "system"
)

// Actor is the authenticated caller. It is passed explicitly into every
// service call; the policy trusts it as already verified.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by the event consumer and the overdue sweep.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Field names the writable parts of a bill.
type Field string

const (
	FieldConsultationFee Field = "consultation_fee"
	FieldHospitalCharges Field = "hospital_charges"
	FieldItems           Field = "items"
	FieldTaxRate         Field = "tax_rate"
	FieldDiscount        Field = "discount"
	FieldPayments        Field = "payments"
	FieldStatus          Field = "status"
)

// Policy decides who may do what to a bill.
type Policy struct {
	// PatientSelfCheckout lets patients pay their own bills.
	PatientSelfCheckout bool
}

// fieldRoles maps each charge field to the only role that may write it.
var fieldRoles = map[Field]Role{
	FieldConsultationFee: RoleDoctor,
	FieldHospitalCharges: RoleAdmin,
	FieldItems:           RoleAdmin,
	FieldTaxRate:         RoleAdmin,
	FieldDiscount:        RoleAdmin,
}

func (p Policy) canPay(role Role) bool {
	return role == RoleAdmin || (role == RolePatient && p.PatientSelfCheckout)
}

// CanMutate answers the role/status part of the policy. Identity checks
// (assigned doctor, own bill) are applied by the Authorize methods.
func (p Policy) CanMutate(role Role, status Status, field Field) bool {
	switch field {
	case FieldPayments:
		return p.canPay(role) && status.IsPayable()
	case FieldStatus:
		return role == RoleAdmin && !status.IsTerminal() && (status.IsMutable() || CanTransition(status, StatusCancelled))
	}
	want, ok := fieldRoles[field]
	if !ok {
		return false
	}
	return role == want && status.IsMutable()
}

// AuthorizeField checks a charge write. Role and identity denials are
// Forbidden; a valid writer blocked by status gets BillLocked.
func (p Policy) AuthorizeField(a Actor, b *Bill, field Field) error {
	want, ok := fieldRoles[field]
	if !ok {
		return forbiddenError("%s is not writable", field)
	}
	if a.Role != want {
		return forbiddenError("role %s may not write %s", a.Role, field)
	}
	if field == FieldConsultationFee && !b.IsAssignedDoctor(a.ID) {
		return forbiddenError("only the assigned doctor may set the consultation fee")
	}
	if !p.CanMutate(a.Role, b.Status, field) {
		return lockedError(b.Status, string(field))
	}
	return nil
}

// AuthorizeStatusChange gates finalize and cancel.
func (p Policy) AuthorizeStatusChange(a Actor, b *Bill, to Status) error {
	if a.Role != RoleAdmin {
		return forbiddenError("only admin may move a bill to %s", to)
	}
	if !p.CanMutate(a.Role, b.Status, FieldStatus) || !CanTransition(b.Status, to) {
		return lockedError(b.Status, "")
	}
	return nil
}

func (p Policy) AuthorizePayment(a Actor, b *Bill) error {
	if !p.canPay(a.Role) {
		return forbiddenError("role %s may not record payments", a.Role)
	}
	if a.Role == RolePatient && (a.ID == "" || a.ID != b.PatientRef) {
		return forbiddenError("patients may only pay their own bills")
	}
	if !p.CanMutate(a.Role, b.Status, FieldPayments) {
		return lockedError(b.Status, string(FieldPayments))
	}
	return nil
}

func (p Policy) AuthorizeReversal(a Actor, b *Bill) error {
	if a.Role != RoleAdmin {
		return forbiddenError("only admin may reverse payments")
	}
	return nil
}

// AuthorizeRead lets admin read everything, doctors their assigned bills and
// patients their own.
func (p Policy) AuthorizeRead(a Actor, b *Bill) error {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return nil
	case RoleDoctor:
		if b.IsAssignedDoctor(a.ID) {
			return nil
		}
	case RolePatient:
		if a.ID != "" && a.ID == b.PatientRef {
			return nil
		}
	}
	return forbiddenError("not allowed to read bill %s", b.ID)
}

// AuthorizeCreate gates bill creation. Admins may not set a consultation
// fee, so they create bills without one.
func (p Policy) AuthorizeCreate(a Actor, withFee bool) error {
	switch a.Role {
	case RoleAdmin:
		if withFee {
			return forbiddenError("only the assigned doctor may set the consultation fee")
		}
		return nil
	case RoleDoctor, RoleSystem:
		return nil
	}
	return forbiddenError("role %s may not create bills", a.Role)
}

// ScopeFilter restricts a list filter to what the actor may read.
func (p Policy) ScopeFilter(a Actor, f ListFilter) (ListFilter, error) {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return f, nil
	case RoleDoctor:
		if a.ID == "" {
			return f, forbiddenError("doctor identity missing")
		}
		if f.DoctorRef != "" && f.DoctorRef != a.ID {
			return f, forbiddenError("doctors may only list their own bills")
		}
		f.DoctorRef = a.ID
		return f, nil
	case RolePatient:
		if a.ID == "" {
			return f, forbiddenError("patient identity missing")
		}
		if f.PatientRef != "" && f.PatientRef != a.ID {
			return f, forbiddenError("patients may only list their own bills")
		}
		f.PatientRef = a.ID
		return f, nil
	}
	return f, forbiddenError("role %s may not list bills", a.Role)
}
