package fx

import (
	"testing"

	"cama-shuffle/internal/balance"
	"cama-shuffle/internal/config"
	"cama-shuffle/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestProvideBalancer_DefaultRatingFollowsSeed(t *testing.T) {
	tests := []struct {
		name       string
		defaultMMR int
		wantRating float64
	}{
		{name: "stock default", defaultMMR: 4000, wantRating: 1000},
		{name: "raised default", defaultMMR: 8000, wantRating: 2000},
		{name: "clamped default", defaultMMR: 20000, wantRating: 3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				OffRoleFlatPenalty: 100,
				OffRoleMultiplier:  0.95,
				GlickoTau:          0.5,
				GlickoMinRD:        30,
				DefaultMMR:         tt.defaultMMR,
			}
			rating := ProvideRatingSystem(cfg)
			assert.Equal(t, tt.wantRating, rating.SeedDefault().Value)

			b := ProvideBalancer(cfg, rating)
			unrated := balance.PlayerSnapshot{ID: "a", PreferredRoles: []domain.Role{domain.RoleCarry}}
			assert.InDelta(t, 100+0.95*tt.wantRating/100, b.OffRolePenalty(unrated, domain.RoleMid), 1e-9)
		})
	}
}
