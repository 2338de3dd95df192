package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnoverFullRotationCountsBothLegs(t *testing.T) {
	oldW := map[string]float64{"AAA": 0.5}
	newW := map[string]float64{"BBB": 0.5}

	assert.InDelta(t, 1.0, Turnover(oldW, newW), 1e-12)
}

func TestTurnoverMixedChanges(t *testing.T) {
	oldW := map[string]float64{"AAA": 0.3, "BBB": 0.2}
	newW := map[string]float64{"AAA": 0.1, "CCC": 0.4}

	// AAA shrinks by 0.2, BBB exits with 0.2, CCC enters with 0.4
	assert.InDelta(t, 0.8, Turnover(oldW, newW), 1e-12)
}

func TestTurnoverSignFlip(t *testing.T) {
	oldW := map[string]float64{"AAA": 0.25}
	newW := map[string]float64{"AAA": -0.25}

	assert.InDelta(t, 0.5, Turnover(oldW, newW), 1e-12)
}

func TestTurnoverUnchangedBook(t *testing.T) {
	w := map[string]float64{"AAA": 0.3, "BBB": -0.2}

	assert.InDelta(t, 0.0, Turnover(w, w), 1e-12)
}

func TestTurnoverEmptyBooks(t *testing.T) {
	assert.InDelta(t, 0.0, Turnover(nil, nil), 1e-12)
	assert.InDelta(t, 0.5, Turnover(nil, map[string]float64{"AAA": 0.5}), 1e-12)
	assert.InDelta(t, 0.5, Turnover(map[string]float64{"AAA": 0.5}, nil), 1e-12)
}
