package models

// Entity describes one queryable table behind an API endpoint: its backing
// table and the closed set of columns a GET filter may touch. Dispatch is by
// this registry only; endpoint strings never reach SQL directly.
type Entity struct {
	Endpoint string
	Table    string
	Columns  []string
}

var touchStamps = []string{"transaction_key", "touched_by", "touched_ts"}

var demographicColumns = append([]string{
	"record_id", "organization_key", "system_key", "system_id",
	"given_name", "middle_name", "family_name", "gender", "name_day",
	"social_security_number",
	"address_1", "address_2", "city", "state", "postal_code",
	"uq_hash", "composite_key", "composite_name", "composite_name_day_postal_code",
	"is_active",
}, touchStamps...)

// The crosswalk lifecycle endpoints all read the same two tables.
var (
	crosswalkColumns     = append([]string{"crosswalk_id", "crosswalk_name", "key_name", "is_active"}, touchStamps...)
	crosswalkBindColumns = append([]string{"bind_id", "crosswalk_id", "batch_id", "is_active"}, touchStamps...)
)

var entities = []Entity{
	{Endpoint: "demographic", Table: "demographic", Columns: demographicColumns},
	{Endpoint: "archive_demographic", Table: "archive_demographic",
		Columns: append(append([]string{}, demographicColumns...), "archive_transaction_key")},
	{Endpoint: "telecom", Table: "telecom",
		Columns: append([]string{"etl_id", "record_id", "telecoms_type", "telecoms_subtype", "telecoms_value"}, touchStamps...)},
	{Endpoint: "enterprise_match", Table: "enterprise_match",
		Columns: append([]string{"etl_id", "record_id_low", "record_id_high", "match_weight", "is_valid"}, touchStamps...)},
	{Endpoint: "enterprise_group", Table: "enterprise_group",
		Columns: append([]string{"etl_id", "enterprise_id", "record_id"}, touchStamps...)},
	{Endpoint: "batch", Table: "batch",
		Columns: []string{"batch_id", "batch_action", "batch_status", "batch_ts"}},
	{Endpoint: "process", Table: "process",
		Columns: []string{"proc_id", "batch_id", "transaction_key", "proc_record_id", "foreign_record_id", "proc_status", "row", "proc_ts"}},
	{Endpoint: "bulletin", Table: "bulletin",
		Columns: []string{"etl_id", "batch_id", "proc_id", "record_id", "empi_id", "transaction_key", "bulletin_ts"}},
	{Endpoint: "etl_id_source", Table: "etl_id_source",
		Columns: []string{"etl_id", "user", "version", "id_created_ts"}},
	{Endpoint: "activate_demographic", Table: "activate_demographic",
		Columns: []string{"etl_id", "record_id", "transaction_key", "created_ts"}},
	{Endpoint: "deactivate_demographic", Table: "deactivate_demographic",
		Columns: []string{"etl_id", "record_id", "transaction_key", "created_ts"}},
	{Endpoint: "delete_demographic", Table: "delete_demographic",
		Columns: []string{"etl_id", "record_id", "transaction_key", "created_ts"}},
	{Endpoint: "match_affirm", Table: "match_affirm",
		Columns: []string{"etl_id", "record_id_low", "record_id_high", "transaction_key", "created_ts"}},
	{Endpoint: "match_deny", Table: "match_deny",
		Columns: []string{"etl_id", "record_id_low", "record_id_high", "transaction_key", "created_ts"}},
	{Endpoint: "delete_action", Table: "delete_action",
		Columns: []string{"etl_id", "batch_action", "archive_proc_id", "archive_batch_id", "transaction_key", "created_ts"}},
	{Endpoint: "add_crosswalk", Table: "crosswalk", Columns: crosswalkColumns},
	{Endpoint: "activate_crosswalk", Table: "crosswalk", Columns: crosswalkColumns},
	{Endpoint: "deactivate_crosswalk", Table: "crosswalk", Columns: crosswalkColumns},
	{Endpoint: "add_crosswalk_bind", Table: "crosswalk_bind", Columns: crosswalkBindColumns},
	{Endpoint: "activate_crosswalk_bind", Table: "crosswalk_bind", Columns: crosswalkBindColumns},
	{Endpoint: "deactivate_crosswalk_bind", Table: "crosswalk_bind", Columns: crosswalkBindColumns},
	{Endpoint: "score_test", Table: "score_test",
		Columns: []string{"etl_id", "test_name", "metric", "threshold", "operator", "weight", "touched_by", "touched_ts"}},
	{Endpoint: "score_battery", Table: "score_battery",
		Columns: []string{"etl_id", "battery_name", "test_name", "touched_by", "touched_ts"}},
}

var entityIndex = func() map[string]Entity {
	idx := make(map[string]Entity, len(entities))
	for _, e := range entities {
		idx[e.Endpoint] = e
	}
	return idx
}()

// EntityFor resolves an endpoint name to its registry entry.
func EntityFor(endpoint string) (Entity, bool) {
	e, ok := entityIndex[endpoint]
	return e, ok
}

// Queryable reports whether the column may appear in a GET filter for the
// entity.
func (e Entity) Queryable(column string) bool {
	for _, c := range e.Columns {
		if c == column {
			return true
		}
	}
	return false
}
