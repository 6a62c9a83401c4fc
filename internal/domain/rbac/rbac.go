// Пакет rbac — роли пользователей CDR Core и права на операции.
// Роль вычисляется из групп IdP; при нескольких совпадениях берётся
// максимальная. Каждое действие требует минимальной роли.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleReadonly = "readonly"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleReadonly: 1,
	RoleManager:  2,
	RoleAdmin:    3,
}

// Action — операция, требующая проверки прав.
type Action string

const (
	ActionViewQueue     Action = "view-queue"
	ActionManageQueue   Action = "manage-queue"
	ActionManageStates  Action = "manage-states"
	ActionClientRefresh Action = "client-refresh"
	ActionReconcile     Action = "reconcile"
	ActionImport        Action = "import"
	ActionLoadPartners  Action = "load-partners"
)

// requiredRole — минимальная роль для действия.
var requiredRole = map[Action]string{
	ActionViewQueue:     RoleReadonly,
	ActionClientRefresh: RoleReadonly,
	ActionManageQueue:   RoleManager,
	ActionManageStates:  RoleAdmin,
	ActionReconcile:     RoleAdmin,
	ActionImport:        RoleAdmin,
	ActionLoadPartners:  RoleAdmin,
}

// Allowed проверяет, разрешено ли действие роли.
// Неизвестные действия и пустая роль запрещены.
func Allowed(role string, action Action) bool {
	need, ok := requiredRole[action]
	if !ok {
		return false
	}
	w, ok := roleWeight[role]
	return ok && w >= roleWeight[need]
}

func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// GroupMapping — группы IdP/CDR, дающие роли.
type GroupMapping struct {
	AdminGroups    []string
	ManagerGroups  []string
	ReadonlyGroups []string
}

// MapGroupsToRole определяет роль пользователя по его группам.
// Если ни одна группа не совпала — возвращает пустую строку.
func (m GroupMapping) MapGroupsToRole(groups []string) string {
	adminSet := toSet(m.AdminGroups)
	managerSet := toSet(m.ManagerGroups)
	readonlySet := toSet(m.ReadonlyGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if managerSet[g] {
			roles = append(roles, RoleManager)
		}
		if readonlySet[g] {
			roles = append(roles, RoleReadonly)
		}
	}

	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
