package roles

import "github.com/northwind-digital/agency/internal/datastore"

// Administrator is the role name granting access to the admin area.
const Administrator = "administrator"

// Column names of the role assignment table.
const (
	ColumnUserID = "user_id"
	ColumnRole   = "role"
)

// Assignment associates a user with a role. Rows are owned by the data store.
type Assignment struct {
	UserID string
	Role   string
}

// Row converts the assignment into a data store row.
func (a Assignment) Row() datastore.Row {
	return datastore.Row{ColumnUserID: a.UserID, ColumnRole: a.Role}
}
