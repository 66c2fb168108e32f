package models

import "time"

// Demographic is a person record from a source system. Rows are created
// inactive by ingest and immediately activated; deactivation flips the flag
// back without destroying history.
type Demographic struct {
	RecordID                   int64     `json:"record_id"`
	OrganizationKey            string    `json:"organization_key"`
	SystemKey                  string    `json:"system_key"`
	SystemID                   string    `json:"system_id"`
	GivenName                  string    `json:"given_name"`
	MiddleName                 string    `json:"middle_name"`
	FamilyName                 string    `json:"family_name"`
	Gender                     string    `json:"gender"`
	NameDay                    time.Time `json:"name_day"`
	SocialSecurityNumber       string    `json:"social_security_number"`
	Address1                   string    `json:"address_1"`
	Address2                   string    `json:"address_2"`
	City                       string    `json:"city"`
	State                      string    `json:"state"`
	PostalCode                 string    `json:"postal_code"`
	UqHash                     string    `json:"uq_hash"`
	CompositeKey               string    `json:"composite_key"`
	CompositeName              string    `json:"composite_name"`
	CompositeNameDayPostalCode string    `json:"composite_name_day_postal_code"`
	IsActive                   bool      `json:"is_active"`
	TransactionKey             string    `json:"transaction_key"`
	TouchedBy                  string    `json:"touched_by"`
	TouchedTS                  time.Time `json:"touched_ts"`
}

// DemographicArchive is a point-in-time snapshot of a Demographic taken
// before destructive operations. TransactionKey carries the archiving
// transaction's key; the source row's prior key moves to
// ArchiveTransactionKey.
type DemographicArchive struct {
	RecordID                   int64     `json:"record_id"`
	OrganizationKey            string    `json:"organization_key"`
	SystemKey                  string    `json:"system_key"`
	SystemID                   string    `json:"system_id"`
	GivenName                  string    `json:"given_name"`
	MiddleName                 string    `json:"middle_name"`
	FamilyName                 string    `json:"family_name"`
	Gender                     string    `json:"gender"`
	NameDay                    time.Time `json:"name_day"`
	SocialSecurityNumber       string    `json:"social_security_number"`
	Address1                   string    `json:"address_1"`
	Address2                   string    `json:"address_2"`
	City                       string    `json:"city"`
	State                      string    `json:"state"`
	PostalCode                 string    `json:"postal_code"`
	UqHash                     string    `json:"uq_hash"`
	CompositeKey               string    `json:"composite_key"`
	CompositeName              string    `json:"composite_name"`
	CompositeNameDayPostalCode string    `json:"composite_name_day_postal_code"`
	IsActive                   bool      `json:"is_active"`
	TransactionKey             string    `json:"transaction_key"`
	ArchiveTransactionKey      string    `json:"archive_transaction_key"`
	TouchedBy                  string    `json:"touched_by"`
	TouchedTS                  time.Time `json:"touched_ts"`
}

// ArchiveOf snapshots a demographic under the archiving transaction's key.
func ArchiveOf(d *Demographic, transactionKey, user string) *DemographicArchive {
	return &DemographicArchive{
		RecordID:                   d.RecordID,
		OrganizationKey:            d.OrganizationKey,
		SystemKey:                  d.SystemKey,
		SystemID:                   d.SystemID,
		GivenName:                  d.GivenName,
		MiddleName:                 d.MiddleName,
		FamilyName:                 d.FamilyName,
		Gender:                     d.Gender,
		NameDay:                    d.NameDay,
		SocialSecurityNumber:       d.SocialSecurityNumber,
		Address1:                   d.Address1,
		Address2:                   d.Address2,
		City:                       d.City,
		State:                      d.State,
		PostalCode:                 d.PostalCode,
		UqHash:                     d.UqHash,
		CompositeKey:               d.CompositeKey,
		CompositeName:              d.CompositeName,
		CompositeNameDayPostalCode: d.CompositeNameDayPostalCode,
		IsActive:                   d.IsActive,
		TransactionKey:             transactionKey,
		ArchiveTransactionKey:      d.TransactionKey,
		TouchedBy:                  user,
	}
}

// Telecom is a phone/email/endpoint row attached to a demographic record.
type Telecom struct {
	ETLID           int64     `json:"etl_id"`
	RecordID        int64     `json:"record_id"`
	TelecomsType    string    `json:"telecoms_type"`
	TelecomsSubtype string    `json:"telecoms_subtype"`
	TelecomsValue   string    `json:"telecoms_value"`
	TransactionKey  string    `json:"transaction_key"`
	TouchedBy       string    `json:"touched_by"`
	TouchedTS       time.Time `json:"touched_ts"`
}
