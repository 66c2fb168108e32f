package services

// POST actions. Each name doubles as the endpoint path segment and as the
// batch_action recorded on the audit trail.
const (
	ActionDemographic             = "demographic"
	ActionActivateDemographic     = "activate_demographic"
	ActionDeactivateDemographic   = "deactivate_demographic"
	ActionDeleteDemographic       = "delete_demographic"
	ActionDeleteAction            = "delete_action"
	ActionMatchAffirm             = "match_affirm"
	ActionMatchDeny               = "match_deny"
	ActionAddCrosswalk            = "add_crosswalk"
	ActionActivateCrosswalk       = "activate_crosswalk"
	ActionDeactivateCrosswalk     = "deactivate_crosswalk"
	ActionAddCrosswalkBind        = "add_crosswalk_bind"
	ActionActivateCrosswalkBind   = "activate_crosswalk_bind"
	ActionDeactivateCrosswalkBind = "deactivate_crosswalk_bind"
)

// TelecomInput is one phone/email/endpoint attached to an incoming record.
type TelecomInput struct {
	Type    string `json:"telecoms_type"`
	Subtype string `json:"telecoms_subtype"`
	Value   string `json:"telecoms_value"`
}

// IngestRecord is one row of a demographic POST. given_name, family_name,
// and name_day are required; name_day arrives as YYYYMMDD.
type IngestRecord struct {
	OrganizationKey      string         `json:"organization_key"`
	SystemKey            string         `json:"system_key"`
	SystemID             string         `json:"system_id"`
	ForeignRecordID      string         `json:"foreign_record_id"`
	GivenName            string         `json:"given_name"`
	MiddleName           string         `json:"middle_name"`
	FamilyName           string         `json:"family_name"`
	Gender               string         `json:"gender"`
	NameDay              string         `json:"name_day"`
	SocialSecurityNumber string         `json:"social_security_number"`
	Address1             string         `json:"address_1"`
	Address2             string         `json:"address_2"`
	City                 string         `json:"city"`
	State                string         `json:"state"`
	PostalCode           string         `json:"postal_code"`
	Telecoms             []TelecomInput `json:"telecoms"`
}

// DemographicPayload is the body of a demographic POST.
type DemographicPayload struct {
	User         string         `json:"user" validate:"required"`
	Demographics []IngestRecord `json:"demographics" validate:"required"`
}

// RecordPayload is the body of the activate/deactivate/delete POSTs.
type RecordPayload struct {
	User     string `json:"user" validate:"required"`
	RecordID int64  `json:"record_id" validate:"required"`
}

// PairPayload is the body of the match_affirm and match_deny POSTs. The
// field names promise an order but none is required; the pair is
// canonicalized before lookup.
type PairPayload struct {
	User         string `json:"user" validate:"required"`
	RecordIDLow  int64  `json:"record_id_low" validate:"required"`
	RecordIDHigh int64  `json:"record_id_high" validate:"required"`
}

// DeleteActionPayload names a prior batch row whose effect should be undone.
type DeleteActionPayload struct {
	User    string `json:"user" validate:"required"`
	BatchID int64  `json:"batch_id" validate:"required"`
	ProcID  int64  `json:"proc_id" validate:"required"`
	Action  string `json:"action" validate:"required"`
}

// CrosswalkPayload is the body of an add_crosswalk POST.
type CrosswalkPayload struct {
	User          string `json:"user" validate:"required"`
	CrosswalkName string `json:"crosswalk_name" validate:"required"`
	KeyName       string `json:"key_name"`
}

// CrosswalkTogglePayload is the body of the crosswalk activate/deactivate
// POSTs.
type CrosswalkTogglePayload struct {
	User        string `json:"user" validate:"required"`
	CrosswalkID int64  `json:"crosswalk_id" validate:"required"`
}

// CrosswalkBindPayload is the body of an add_crosswalk_bind POST.
type CrosswalkBindPayload struct {
	User        string `json:"user" validate:"required"`
	CrosswalkID int64  `json:"crosswalk_id" validate:"required"`
	BatchID     int64  `json:"batch_id" validate:"required"`
}

// BindTogglePayload is the body of the bind activate/deactivate POSTs.
type BindTogglePayload struct {
	User   string `json:"user" validate:"required"`
	BindID int64  `json:"bind_id" validate:"required"`
}

// AffectedRecord ties an ingested row back to its audit coordinates.
type AffectedRecord struct {
	BatchID        int64  `json:"batch_id"`
	ProcID         int64  `json:"proc_id"`
	RecordID       int64  `json:"record_id"`
	TransactionKey string `json:"transaction_key"`
}

// IngestMetrics is the per-batch accounting a demographic POST produces.
type IngestMetrics struct {
	RecordCount     int              `json:"record_count"`
	ErrorCount      int              `json:"error_count"`
	SkippedCount    int              `json:"skipped_count"`
	PendingCount    int              `json:"pending_count"`
	TelecomsCount   int              `json:"telecoms_count"`
	ErrorRows       []int64          `json:"error_rows"`
	ProcIDs         []int64          `json:"proc_ids"`
	BulletinIDs     []int64          `json:"bulletin_ids"`
	AffectedRecords []AffectedRecord `json:"affected_records"`
}

// BatchResult is what a finished batch reports: row and error counts for
// every action, plus the full ingest accounting when the action was an
// ingest.
type BatchResult struct {
	Action  string         `json:"action"`
	BatchID int64          `json:"batch_id"`
	Rows    int            `json:"rows"`
	Errors  int            `json:"errors"`
	Elapsed string         `json:"elapsed"`
	Ingest  *IngestMetrics `json:"ingest,omitempty"`
}
