package enums

import "fmt"

// StaffRole is the role a dashboard user holds within their store.
type StaffRole string

const (
	StaffRoleOwner StaffRole = "owner"
	StaffRoleStaff StaffRole = "staff"
)

var validStaffRoles = []StaffRole{StaffRoleOwner, StaffRoleStaff}

func (r StaffRole) String() string {
	return string(r)
}

func (r StaffRole) IsValid() bool {
	for _, v := range validStaffRoles {
		if v == r {
			return true
		}
	}
	return false
}

func ParseStaffRole(value string) (StaffRole, error) {
	for _, v := range validStaffRoles {
		if string(v) == value {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid staff role %q", value)
}
