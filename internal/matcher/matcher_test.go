package matcher

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/config"
	"github.com/rajivgeraev/barter-api/internal/models"
)

func defaultWeights() config.MatcherConfig {
	return config.MatcherConfig{
		OfferWeight:    0.4,
		NeedWeight:     0.4,
		ProximityBonus: 10,
		TrustWeight:    0.2,
	}
}

func profile(offered, needed []string, region string, trust int) models.MemberProfile {
	return models.MemberProfile{
		ID:         uuid.New(),
		Offered:    offered,
		Needed:     needed,
		Region:     region,
		TrustScore: trust,
	}
}

func TestScoreReciprocalPair(t *testing.T) {
	m := New(defaultWeights())

	x := profile([]string{"guitar-lessons"}, []string{"graphic-design"}, "moscow", 90)
	y := profile([]string{"graphic-design"}, []string{"guitar-lessons"}, "moscow", 88)

	score, rationale := m.Score(x, y)
	if score < 80 {
		t.Fatalf("взаимная пара должна набирать не меньше 80, получили %d (%+v)", score, rationale)
	}
	if rationale.ProximityBonus != 10 {
		t.Errorf("ожидали бонус за регион 10, получили %d", rationale.ProximityBonus)
	}
}

func TestScoreNoOverlap(t *testing.T) {
	m := New(defaultWeights())

	x := profile([]string{"guitar-lessons"}, []string{"graphic-design"}, "moscow", 50)
	z := profile([]string{"plumbing"}, []string{"car-repair"}, "kazan", 50)

	score, _ := m.Score(x, z)
	if score > 20 {
		t.Fatalf("пара без пересечений должна набирать не больше 20, получили %d", score)
	}
}

func TestScoreSymmetry(t *testing.T) {
	m := New(defaultWeights())

	pairs := []struct {
		a, b models.MemberProfile
	}{
		{
			profile([]string{"a", "b"}, []string{"c"}, "spb", 70),
			profile([]string{"c"}, []string{"a"}, "spb", 30),
		},
		{
			profile(nil, nil, "", 0),
			profile([]string{"x"}, []string{"y"}, "spb", 100),
		},
		{
			profile([]string{"x"}, []string{"x"}, "msk", 55),
			profile([]string{"x"}, []string{"x"}, "msk", 55),
		},
	}

	for i, p := range pairs {
		ab, _ := m.Score(p.a, p.b)
		ba, _ := m.Score(p.b, p.a)
		if ab != ba {
			t.Errorf("пара %d: Score(a,b)=%d, Score(b,a)=%d", i, ab, ba)
		}
	}
}

func TestScoreOneDirectionalOverlapScoresLow(t *testing.T) {
	m := New(defaultWeights())

	// a закрывает потребность b, но b ничего не предлагает a
	a := profile([]string{"photo"}, []string{"design"}, "", 0)
	b := profile([]string{"cooking"}, []string{"photo"}, "", 0)

	score, rationale := m.Score(a, b)
	if rationale.NeedOverlap != 0 {
		t.Errorf("обратное пересечение должно быть нулевым, получили %d", rationale.NeedOverlap)
	}
	if score > 40 {
		t.Errorf("одностороннее пересечение не должно давать больше 40, получили %d", score)
	}
}

func TestRankOrderingAndExclusions(t *testing.T) {
	m := New(defaultWeights())

	member := profile([]string{"guitar-lessons"}, []string{"graphic-design"}, "moscow", 80)

	perfect := profile([]string{"graphic-design"}, []string{"guitar-lessons"}, "moscow", 90)
	distant := profile([]string{"graphic-design"}, []string{"guitar-lessons"}, "kazan", 90)
	banned := profile([]string{"graphic-design"}, []string{"guitar-lessons"}, "moscow", 90)
	banned.Banned = true
	matched := profile([]string{"graphic-design"}, []string{"guitar-lessons"}, "moscow", 90)
	unrelated := profile([]string{"plumbing"}, []string{"car-repair"}, "kazan", 10)

	pool := []models.MemberProfile{unrelated, matched, banned, distant, perfect, member}
	active := map[uuid.UUID]bool{matched.ID: true}

	ranked := m.Rank(member, pool, active)

	if len(ranked) != 3 {
		t.Fatalf("ожидали 3 кандидатов, получили %d", len(ranked))
	}
	if ranked[0].Profile.ID != perfect.ID {
		t.Errorf("первым должен идти полный взаимный матч в том же регионе")
	}
	if ranked[1].Profile.ID != distant.ID {
		t.Errorf("вторым должен идти взаимный матч из другого региона")
	}
	if ranked[2].Profile.ID != unrelated.ID {
		t.Errorf("последним должен идти кандидат без пересечений")
	}
	for _, c := range ranked {
		if c.Profile.ID == banned.ID {
			t.Errorf("забаненный участник не должен попадать в выдачу")
		}
		if c.Profile.ID == matched.ID {
			t.Errorf("участник с активным матчем не должен попадать в выдачу")
		}
		if c.Profile.ID == member.ID {
			t.Errorf("сам участник не должен попадать в выдачу")
		}
	}
}

func TestRankDeterministic(t *testing.T) {
	m := New(defaultWeights())

	member := profile([]string{"a"}, []string{"b"}, "msk", 50)
	// Одинаковые оценки и доверие: порядок определяется каноническим ID пары
	pool := make([]models.MemberProfile, 0, 6)
	for i := 0; i < 6; i++ {
		pool = append(pool, profile([]string{"b"}, []string{"a"}, "msk", 50))
	}

	first := m.Rank(member, pool, nil)
	second := m.Rank(member, pool, nil)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("повторный запуск на тех же данных должен давать тот же порядок")
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Score < first[i].Score {
			t.Fatalf("выдача должна быть отсортирована по убыванию оценки")
		}
	}
}

func TestRankBannedMember(t *testing.T) {
	m := New(defaultWeights())

	member := profile([]string{"a"}, []string{"b"}, "msk", 50)
	member.Banned = true
	pool := []models.MemberProfile{profile([]string{"b"}, []string{"a"}, "msk", 50)}

	if got := m.Rank(member, pool, nil); got != nil {
		t.Fatalf("забаненный участник не получает кандидатов, получили %d", len(got))
	}
}
