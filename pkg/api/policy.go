package api

// Actions checked by the injected Policy at every mutating entry point.
// Role checks live inside the services, not in the router, so a misrouted
// or internal caller cannot skip them.
const (
	ActionConversationClose  = "conversation.close"
	ActionConversationDelete = "conversation.delete"
	ActionConversationRead   = "conversation.read"
	ActionBroadcastSend      = "broadcast.send"
	ActionBroadcastDelete    = "broadcast.delete"
	ActionAlertCreate        = "alert.create"
	ActionAlertResolve       = "alert.resolve"
	ActionAlertDelete        = "alert.delete"
	ActionAuditRead          = "audit.read"
)

type Policy interface {
	// Authorize returns a ForbiddenError when actor may not perform action.
	Authorize(actor Actor, action string) error
}

// RolePolicy is the default table-driven policy.
type RolePolicy struct {
	allowed map[string][]Role
}

func NewRolePolicy() *RolePolicy {
	staff := []Role{RoleEmployee, RoleAdmin, RoleSystem}
	admin := []Role{RoleAdmin, RoleSystem}
	return &RolePolicy{allowed: map[string][]Role{
		ActionConversationClose:  staff,
		ActionConversationRead:   staff,
		ActionConversationDelete: admin,
		ActionBroadcastSend:      admin,
		ActionBroadcastDelete:    admin,
		ActionAlertCreate:        admin,
		ActionAlertResolve:       admin,
		ActionAlertDelete:        admin,
		ActionAuditRead:          admin,
	}}
}

func (p *RolePolicy) Authorize(actor Actor, action string) error {
	roles, ok := p.allowed[action]
	if !ok {
		// Unlisted actions are open to any authenticated actor.
		return nil
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return &ForbiddenError{Actor: actor.Id, Action: action}
}
