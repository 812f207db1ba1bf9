package rbac

type Role string
type Action string

const (
	RoleReader Role = "reader"
	RoleAuthor Role = "author"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionPublish  Action = "publish"
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAuthor:
		return action == ActionRead || action == ActionComment || action == ActionPublish
	case RoleReader:
		return action == ActionRead || action == ActionComment
	default:
		return action == ActionRead
	}
}

// Normalize maps unknown or empty role names to reader.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleAuthor, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}

// CanManage reports whether actor may change a resource created by owner: its
// creator can, and so can anyone allowed to moderate.
func CanManage(actor string, role Role, owner string) bool {
	if Can(role, ActionModerate) {
		return true
	}
	return actor != "" && actor == owner && Can(role, ActionPublish)
}
