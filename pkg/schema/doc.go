// Package schema resolves persisted model types into fixed field-descriptor
// lists once, at startup.
//
// Units of work, the audit configuration builder and the trigger registry all
// consult the resulting *Schema instead of reflecting over types per commit.
//
// Fields are persisted unless tagged db:"-". The db tag carries an optional
// column name followed by options:
//
//	type Order struct {
//	    Timestamps               // embedded structs are flattened
//	    ID         int64 `db:"id,pk,auto"`
//	    Status     string
//	    CustomerID int64 `db:"customer_id"`
//	}
//
// When no field is tagged pk, a field named ID or Id is the key. Table names
// default to the pluralized snake_case type name unless the model implements
// TableNamer.
//
// Specificity scores how a registration subject (a struct type or an interface)
// applies to a concrete type, and is shared by every component that resolves
// overlapping per-type settings.
package schema
