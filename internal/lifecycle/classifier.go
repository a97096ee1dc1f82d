package lifecycle

import (
	"math"

	"github.com/memcore/memcore/internal/model"
)

// ln2 is used to convert a half-life into an exponential decay rate.
const ln2 = 0.6931471805599453

// Classify computes the advisory hot/cold score for a chunk (spec
// §4.6): recency (exponential decay, configurable half-life), frequency
// (log1p of access count), and category weighting (semantic >
// procedural > episodic). Higher is hotter. The stage machine in
// Tick is authoritative; this score only informs ranking/prioritization
// decisions outside the stage machine (e.g. which demoted chunks to
// review first).
func (m *Manager) Classify(c *model.Chunk) float64 {
	now := m.clock()
	halfLife := m.cfg.Decay.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 30
	}

	ageDays := now.Sub(c.LastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-ln2 * ageDays / halfLife)

	frequency := math.Log1p(float64(c.AccessCount))

	return recency * frequency * c.Category.CategoryWeight()
}
