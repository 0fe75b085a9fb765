package seller

import "time"

// Seller is the user a kit belongs to. ManagerID points at another seller
// record when the seller reports to a manager.
type Seller struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	CPF       string    `gorm:"column:cpf;type:varchar(11);uniqueIndex" json:"cpf"`
	OpticCNPJ string    `gorm:"column:optic_cnpj;type:varchar(14);index" json:"optic_cnpj,omitempty"`
	ManagerID *string   `gorm:"column:manager_id;index" json:"manager_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Seller) TableName() string { return "sellers" }

func (s *Seller) HasManager() bool {
	return s.ManagerID != nil && *s.ManagerID != ""
}
