package domain

// Branch - физический филиал, который готовит и выдаёт заказы.
type Branch struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// BranchDirectory - справочник филиалов из конфигурации.
type BranchDirectory map[string]Branch

// NewBranchDirectory строит справочник, пропуская записи без ID.
func NewBranchDirectory(branches []Branch) BranchDirectory {
	dir := make(BranchDirectory, len(branches))
	for _, b := range branches {
		if b.ID == "" {
			continue
		}
		dir[b.ID] = b
	}
	return dir
}

// Known сообщает, допустим ли филиал. Пустой справочник принимает любой ID.
func (d BranchDirectory) Known(id string) bool {
	if len(d) == 0 {
		return true
	}
	_, ok := d[id]
	return ok
}

// Label возвращает название филиала или сам ID.
func (d BranchDirectory) Label(id string) string {
	if b, ok := d[id]; ok && b.Label != "" {
		return b.Label
	}
	return id
}
