// Package policy holds the single authorization decision used by
// routes and services.  Roles are compared by rank, never by string
// lists scattered across handlers.
package policy

import "github.com/iliyamo/evee/internal/model"

// Action describes an operation a caller wants to perform.
type Action string

const (
	ActionStationWrite     Action = "station:write"
	ActionBookingCreate    Action = "booking:create"
	ActionBookingView      Action = "booking:view"
	ActionBookingCancel    Action = "booking:cancel"
	ActionBookingSetStatus Action = "booking:set_status"
	ActionBookingDelete    Action = "booking:delete"
	ActionBookingListAll   Action = "booking:list_all"
	ActionUserList         Action = "user:list"
	ActionUserSetRole      Action = "user:set_role"
)

// rule is the minimum role for an action and whether the owner of the
// resource is allowed regardless of role.
type rule struct {
	min        model.Role
	ownerMayDo bool
}

var rules = map[Action]rule{
	ActionStationWrite:     {min: model.RoleAdmin},
	ActionBookingCreate:    {min: model.RoleUser},
	ActionBookingView:      {min: model.RoleAdmin, ownerMayDo: true},
	ActionBookingCancel:    {min: model.RoleAdmin, ownerMayDo: true},
	ActionBookingSetStatus: {min: model.RoleAdmin},
	ActionBookingDelete:    {min: model.RoleAdmin},
	ActionBookingListAll:   {min: model.RoleAdmin},
	ActionUserList:         {min: model.RoleAdmin},
	ActionUserSetRole:      {min: model.RoleSuperAdmin},
}

// Can reports whether actor may perform action on a resource owned by
// ownerID.  Pass ownerID 0 for actions that do not target an owned
// resource.  Unknown actions and nil actors are denied.
func Can(actor *model.User, action Action, ownerID uint64) bool {
	if actor == nil {
		return false
	}
	r, ok := rules[action]
	if !ok {
		return false
	}
	if r.ownerMayDo && ownerID != 0 && actor.ID == ownerID {
		return true
	}
	return actor.Role.AtLeast(r.min)
}

