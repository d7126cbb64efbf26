package models

import (
	"github.com/google/uuid"
)

// MemberProfile представляет анкету участника для подбора обменов.
// Данные принадлежат внешнему хранилищу профилей, здесь читаются только для подбора.
type MemberProfile struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username,omitempty"`
	Offered    []string  `json:"offered"`     // что участник предлагает (навыки/вещи)
	Needed     []string  `json:"needed"`      // что участник ищет
	Region     string    `json:"region"`      // грубый регион для бонуса за близость
	TrustScore int       `json:"trust_score"` // 0..100
	Verified   bool      `json:"verified"`
	Banned     bool      `json:"banned"`
}

// HasOffered проверяет, предлагает ли участник указанный тег
func (p MemberProfile) HasOffered(tag string) bool {
	for _, t := range p.Offered {
		if t == tag {
			return true
		}
	}
	return false
}
