package importer

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// noEmailPlaceholder stands in for the email column in rejections when the
// row did not carry one.
const noEmailPlaceholder = "(no email)"

// ValidateRow checks one raw row against the roster schema and returns its
// outcome. Checks run in a fixed order and the first failure wins, so a row
// is never double-reported:
//
//  1. name, email and role must all be present (missing-field, listing the
//     absent fields)
//  2. email must match standard address grammar (invalid-email)
//  3. role must be a member of the closed role set (invalid-role)
//
// Pure function: no I/O, deterministic, independent of row order.
func ValidateRow(row RawRow) RowOutcome {
	name := strings.TrimSpace(row.Name)
	email := strings.ToLower(strings.TrimSpace(row.Email))
	rawRole := strings.TrimSpace(row.Role)

	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if email == "" {
		missing = append(missing, "email")
	}
	if rawRole == "" {
		missing = append(missing, "role")
	}
	if len(missing) > 0 {
		return rejected(row, email, ReasonMissingField, strings.Join(missing, ", "))
	}

	if err := validation.Validate(email, is.EmailFormat); err != nil {
		return rejected(row, email, ReasonInvalidEmail, "")
	}

	role, ok := ParseRole(rawRole)
	if !ok {
		return rejected(row, email, ReasonInvalidRole, "")
	}

	return RowOutcome{
		Index: row.Index,
		Valid: &ValidatedRow{
			Index: row.Index,
			Name:  name,
			Email: email,
			Role:  role,
		},
	}
}

func rejected(row RawRow, email string, reason Reason, detail string) RowOutcome {
	if email == "" {
		email = noEmailPlaceholder
	}
	return RowOutcome{
		Index: row.Index,
		Rejected: &Rejection{
			Row:    row.SheetRow(),
			Email:  email,
			Reason: reason,
			Detail: detail,
		},
	}
}
