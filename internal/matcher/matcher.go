package matcher

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/config"
	"github.com/rajivgeraev/barter-api/internal/models"
)

// Matcher вычисляет совместимость пар участников. Все методы чистые:
// никакого ввода-вывода и разделяемого состояния, можно звать параллельно.
type Matcher struct {
	weights config.MatcherConfig
}

// Rationale объясняет, из чего сложилась оценка совместимости
type Rationale struct {
	OfferOverlap   int `json:"offer_overlap"`   // баллы за "я предлагаю то, что ищет он"
	NeedOverlap    int `json:"need_overlap"`    // баллы за "он предлагает то, что ищу я"
	ProximityBonus int `json:"proximity_bonus"` // бонус за общий регион
	TrustBonus     int `json:"trust_bonus"`     // бонус за средний уровень доверия
}

// Candidate представляет кандидата в выдаче подбора
type Candidate struct {
	Profile   models.MemberProfile `json:"profile"`
	Score     int                  `json:"score"`
	Rationale Rationale            `json:"rationale"`
}

// New создаёт Matcher с весами из конфигурации
func New(weights config.MatcherConfig) *Matcher {
	return &Matcher{weights: weights}
}

// Score возвращает оценку совместимости пары в диапазоне [0,100].
// Оценка симметрична: Score(a, b) == Score(b, a) при равных весах направлений.
// Взаимный обмен обязателен для высокой оценки: пересечение только в одну
// сторону оставляет вторую компоненту нулевой.
func (m *Matcher) Score(a, b models.MemberProfile) (int, Rationale) {
	// Доля потребностей b, закрытых предложениями a, и наоборот
	offerCoverage := coverage(a.Offered, b.Needed)
	needCoverage := coverage(b.Offered, a.Needed)

	r := Rationale{
		OfferOverlap: int(math.Round(offerCoverage * 100 * m.weights.OfferWeight)),
		NeedOverlap:  int(math.Round(needCoverage * 100 * m.weights.NeedWeight)),
	}

	if a.Region != "" && a.Region == b.Region {
		r.ProximityBonus = m.weights.ProximityBonus
	}

	avgTrust := float64(a.TrustScore+b.TrustScore) / 2
	r.TrustBonus = int(math.Round(avgTrust * m.weights.TrustWeight))

	score := r.OfferOverlap + r.NeedOverlap + r.ProximityBonus + r.TrustBonus
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, r
}

// coverage возвращает долю тегов needed, покрытых offered
func coverage(offered, needed []string) float64 {
	if len(needed) == 0 {
		return 0
	}
	offeredSet := make(map[string]bool, len(offered))
	for _, tag := range offered {
		offeredSet[tag] = true
	}
	hits := 0
	for _, tag := range needed {
		if offeredSet[tag] {
			hits++
		}
	}
	return float64(hits) / float64(len(needed))
}

// Rank возвращает кандидатов для участника по убыванию оценки.
// Исключаются забаненные, сам участник и те, с кем уже есть активный матч.
// Ничья разрешается детерминированно: выше суммарное доверие, затем
// лексикографически меньший ID пары — повторный запуск на тех же данных
// даёт тот же порядок, что делает постраничную выдачу стабильной.
func (m *Matcher) Rank(member models.MemberProfile, pool []models.MemberProfile, activePartners map[uuid.UUID]bool) []Candidate {
	if member.Banned {
		return nil
	}

	candidates := make([]Candidate, 0, len(pool))
	for _, profile := range pool {
		if profile.ID == member.ID || profile.Banned {
			continue
		}
		if activePartners[profile.ID] {
			continue
		}
		score, rationale := m.Score(member, profile)
		candidates = append(candidates, Candidate{
			Profile:   profile,
			Score:     score,
			Rationale: rationale,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		trustI := member.TrustScore + candidates[i].Profile.TrustScore
		trustJ := member.TrustScore + candidates[j].Profile.TrustScore
		if trustI != trustJ {
			return trustI > trustJ
		}
		return pairID(member.ID, candidates[i].Profile.ID) < pairID(member.ID, candidates[j].Profile.ID)
	})

	return candidates
}

// pairID возвращает канонический строковый ID неупорядоченной пары
func pairID(a, b uuid.UUID) string {
	first, second := models.CanonicalPair(a, b)
	return first.String() + ":" + second.String()
}
