package tiers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/graphstore"
	"github.com/memcore/memcore/internal/store/kv"
)

// observationNamespace is the kv namespace CPD observation counts are
// stored under, one key per network node.
const observationNamespace = "bayesian_obs"

// stateLow and stateHigh are the two discrete states every Bayesian
// network node takes: low or high co-occurrence/relevance strength.
const (
	stateLow  = "low"
	stateHigh = "high"
)

var binaryStates = []string{stateLow, stateHigh}

// BayesianConfig configures the Bayesian tier's network construction and
// inference strategy, matching the spec's §4.4 defaults.
type BayesianConfig struct {
	MaxNodes            int
	MinEdgeConfidence   float64
	MinSampleSize       int
	Deadline            time.Duration
	VariableElimMaxVars int
	GibbsSamples        int
	GibbsBurnIn         int
}

// DefaultBayesianConfig returns the spec's documented Bayesian tier
// parameters: node cap 1000, low-confidence edge pruning below 0.3, a
// 1-second soft inference deadline, and variable elimination for up to 8
// query variables before switching to Gibbs sampling.
func DefaultBayesianConfig() BayesianConfig {
	return BayesianConfig{
		MaxNodes:            1000,
		MinEdgeConfidence:   0.3,
		MinSampleSize:       5,
		Deadline:            time.Second,
		VariableElimMaxVars: 8,
		GibbsSamples:        500,
		GibbsBurnIn:         100,
	}
}

// BayesianTier builds a Bayesian network from the entity graph's
// co-occurrence edges and answers queries with probabilistic inference:
// exact ancestral-graph variable elimination for small query-variable
// sets, Gibbs sampling for larger ones.
type BayesianTier struct {
	graph  *graphstore.Store
	kv     *kv.Store
	config BayesianConfig

	mu      sync.RWMutex
	network *model.BayesianNetwork
}

// NewBayesianTier constructs the Bayesian retrieval tier. The network is
// built lazily on first Query and cached; call Rebuild after the entity
// graph changes materially.
func NewBayesianTier(graph *graphstore.Store, kvStore *kv.Store, cfg BayesianConfig) *BayesianTier {
	return &BayesianTier{graph: graph, kv: kvStore, config: cfg}
}

func (t *BayesianTier) Name() string { return "bayesian" }

func (t *BayesianTier) Health() HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.network == nil {
		return HealthStatus{Healthy: false, Reason: "bayesian network not yet built"}
	}
	return HealthStatus{Healthy: true}
}

// Rebuild forces reconstruction of the Bayesian network from the current
// entity graph and observation store, discarding any cached network.
func (t *BayesianTier) Rebuild(ctx context.Context) error {
	network, err := t.buildNetwork(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.network = network
	t.mu.Unlock()
	return nil
}

// ObserveCooccurrence records one observation of entityID's state given
// its parent's state, accumulating into the kv-backed sample counts that
// back CPD estimation. An empty parentState means entityID is a root
// node in the network.
func (t *BayesianTier) ObserveCooccurrence(ctx context.Context, entityID, parentState, observedState string) error {
	counts, err := t.loadObservationCounts(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load observation counts: %w", err)
	}
	if counts[parentState] == nil {
		counts[parentState] = make(map[string]int)
	}
	counts[parentState][observedState]++

	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal observation counts: %w", err)
	}
	return t.kv.Put(ctx, observationNamespace, entityID, string(data))
}

func (t *BayesianTier) loadObservationCounts(ctx context.Context, entityID string) (map[string]map[string]int, error) {
	raw, ok, err := t.kv.Get(ctx, observationNamespace, entityID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]map[string]int)
	if !ok {
		return counts, nil
	}
	if err := json.Unmarshal([]byte(raw), &counts); err != nil {
		return nil, fmt.Errorf("unmarshal observation counts: %w", err)
	}
	return counts, nil
}

// ensureNetwork returns the cached network, building it on first use.
func (t *BayesianTier) ensureNetwork(ctx context.Context) (*model.BayesianNetwork, error) {
	t.mu.RLock()
	network := t.network
	t.mu.RUnlock()
	if network != nil {
		return network, nil
	}
	if err := t.Rebuild(ctx); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.network, nil
}

// buildNetwork treats graph entities as binary (low/high) random
// variables and derives single-parent conditional dependencies from
// related_to/similar_to co-occurrence edges whose weight meets
// MinEdgeConfidence. CPDs come from historical observations in the kv
// store; nodes with too few observations fall back to a uniform prior
// (spec 4.4/9: a deliberate design, not a stub).
func (t *BayesianTier) buildNetwork(ctx context.Context) (*model.BayesianNetwork, error) {
	entities := t.graph.AllEntities()
	if t.config.MaxNodes > 0 && len(entities) > t.config.MaxNodes {
		entities = entities[:t.config.MaxNodes]
	}

	network := &model.BayesianNetwork{Nodes: make(map[string]*model.BNNode, len(entities))}
	anyObservations := false

	for _, e := range entities {
		parent := t.strongestParent(e.ID)

		counts, err := t.loadObservationCounts(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("load observations for %s: %w", e.ID, err)
		}

		var parents []string
		parentStates := []string{""}
		if parent != "" {
			parents = []string{parent}
			parentStates = binaryStates
		}

		cpd, hasObservations := computeCPD(counts, parentStates, t.config.MinSampleSize)
		if hasObservations {
			anyObservations = true
		}

		network.Nodes[e.ID] = &model.BNNode{
			EntityID: e.ID,
			States:   binaryStates,
			CPD:      cpd,
			Parents:  parents,
		}
	}

	network.Structural = !anyObservations
	return network, nil
}

// strongestParent returns the entity id at the far end of the
// highest-confidence related_to/similar_to edge out of id, provided it
// clears MinEdgeConfidence. Restricting to a single parent keeps CPD
// tables small and the network a forest, which makes exact inference by
// ancestral-graph enumeration tractable.
func (t *BayesianTier) strongestParent(id string) string {
	var best string
	var bestWeight float64
	for _, kind := range []model.EdgeKind{model.EdgeRelatedTo, model.EdgeSimilarTo} {
		for _, e := range t.graph.Edges(id, kind) {
			if e.Weight < t.config.MinEdgeConfidence {
				continue
			}
			if e.Weight > bestWeight {
				bestWeight = e.Weight
				best = e.To
			}
		}
	}
	return best
}

// computeCPD derives a conditional probability table for a node from its
// observation counts, one distribution per parent state. States below
// MinSampleSize fall back to a uniform prior. Returns whether any
// genuine observation data was used.
func computeCPD(counts map[string]map[string]int, parentStates []string, minSampleSize int) (map[string][]float64, bool) {
	cpd := make(map[string][]float64, len(parentStates))
	usedObservations := false

	for _, parentState := range parentStates {
		stateCounts := counts[parentState]
		total := 0
		for _, n := range stateCounts {
			total += n
		}

		if total < minSampleSize {
			cpd[parentState] = []float64{0.5, 0.5}
			continue
		}

		usedObservations = true
		low := float64(stateCounts[stateLow]) / float64(total)
		high := float64(stateCounts[stateHigh]) / float64(total)
		// Guard against rounding drift so each row still sums to 1±ε.
		if diff := 1.0 - (low + high); diff != 0 {
			high += diff
		}
		cpd[parentState] = []float64{low, high}
	}

	return cpd, usedObservations
}

// Query extracts seed entities from query text, infers posterior P(high)
// for every entity reachable from those seeds in the network's
// underlying forest, and aggregates the result onto mentioning chunks.
// An empty seed match returns an empty result, never an error — the
// pipeline treats a tier that finds nothing as contributing a zero
// score, not a failure.
func (t *BayesianTier) Query(ctx context.Context, query string, topK int) ([]Candidate, error) {
	network, err := t.ensureNetwork(ctx)
	if err != nil {
		return nil, fmt.Errorf("build bayesian network: %w", err)
	}

	var seeds []string
	for _, c := range candidateEntityIDs(query) {
		if _, ok := network.Nodes[c]; ok {
			seeds = append(seeds, c)
		}
	}
	sort.Strings(seeds)
	if len(seeds) == 0 {
		return nil, nil
	}

	queryVars := connectedComponent(network, seeds)

	deadlineCtx, cancel := context.WithTimeout(ctx, t.config.Deadline)
	defer cancel()

	var posteriors map[string]float64
	if len(queryVars) <= t.config.VariableElimMaxVars {
		posteriors = variableElimination(network, seeds, queryVars)
	} else {
		posteriors = gibbsSample(deadlineCtx, network, seeds, queryVars, t.config)
	}

	return aggregateEntityScoresToChunks(t.graph, posteriors, topK, t.Name()), nil
}

// connectedComponent returns every node reachable from seeds by
// following parent/child edges in either direction, which for this
// forest-shaped network is exactly the set of variables whose posterior
// can be affected by clamping seeds as evidence.
func connectedComponent(network *model.BayesianNetwork, seeds []string) []string {
	children := make(map[string][]string)
	for id, node := range network.Nodes {
		for _, p := range node.Parents {
			children[p] = append(children[p], id)
		}
	}

	visited := make(map[string]bool)
	queue := append([]string{}, seeds...)
	for _, s := range seeds {
		visited[s] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node := network.Nodes[id]
		neighbors := append([]string{}, node.Parents...)
		neighbors = append(neighbors, children[id]...)
		for _, n := range neighbors {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}

	result := make([]string, 0, len(visited))
	for id := range visited {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// variableElimination computes exact posterior P(node=high | seeds=high)
// for every node in queryVars by enumerating the joint distribution over
// the ancestral closure of queryVars and seeds. Since every node has at
// most one parent, this closure is small and the enumeration is exact
// variable elimination restricted to the variables that can actually
// influence the query (pruning non-ancestors is a standard VE
// optimization, not an approximation).
func variableElimination(network *model.BayesianNetwork, seeds, queryVars []string) map[string]float64 {
	relevant := ancestralClosure(network, append(append([]string{}, seeds...), queryVars...))
	order := topologicalOrder(network, relevant)

	evidence := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		evidence[s] = true
	}

	totals := make(map[string]float64, len(queryVars))
	normalization := 0.0

	enumerate(network, order, evidence, 0, make(map[string]string, len(order)), func(assignment map[string]string, prob float64) {
		normalization += prob
		for _, qv := range queryVars {
			if assignment[qv] == stateHigh {
				totals[qv] += prob
			}
		}
	})

	posteriors := make(map[string]float64, len(queryVars))
	for _, qv := range queryVars {
		if normalization > 0 {
			posteriors[qv] = totals[qv] / normalization
		}
	}
	return posteriors
}

// ancestralClosure returns vars plus every ancestor reachable by
// following Parents links, the minimal variable set variable elimination
// needs to touch.
func ancestralClosure(network *model.BayesianNetwork, vars []string) map[string]bool {
	closure := make(map[string]bool, len(vars))
	var visit func(id string)
	visit = func(id string) {
		if closure[id] {
			return
		}
		closure[id] = true
		node, ok := network.Nodes[id]
		if !ok {
			return
		}
		for _, p := range node.Parents {
			visit(p)
		}
	}
	for _, v := range vars {
		visit(v)
	}
	return closure
}

// topologicalOrder returns the ids in closure ordered parents-before-children.
func topologicalOrder(network *model.BayesianNetwork, closure map[string]bool) []string {
	var order []string
	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		if node, ok := network.Nodes[id]; ok {
			for _, p := range node.Parents {
				if closure[p] {
					visit(p)
				}
			}
		}
		order = append(order, id)
	}
	ids := make([]string, 0, len(closure))
	for id := range closure {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}
	return order
}

// enumerate walks every joint assignment over order (clamping evidence
// variables to high) and invokes fn with each assignment's unnormalized
// joint probability.
func enumerate(network *model.BayesianNetwork, order []string, evidence map[string]bool, i int, assignment map[string]string, fn func(map[string]string, float64)) {
	if i == len(order) {
		prob := 1.0
		for _, id := range order {
			node := network.Nodes[id]
			parentState := ""
			if len(node.Parents) > 0 {
				parentState = assignment[node.Parents[0]]
			}
			dist := node.CPD[parentState]
			idx := 0
			if assignment[id] == stateHigh {
				idx = 1
			}
			prob *= dist[idx]
		}
		fn(assignment, prob)
		return
	}

	id := order[i]
	states := binaryStates
	if evidence[id] {
		states = []string{stateHigh}
	}
	for _, s := range states {
		assignment[id] = s
		enumerate(network, order, evidence, i+1, assignment, fn)
	}
	delete(assignment, id)
}

// gibbsSample estimates posterior P(node=high | seeds=high) for larger
// query-variable sets via single-site Gibbs sampling with a soft
// deadline: if ctx expires before GibbsBurnIn+GibbsSamples iterations
// complete, whatever samples were collected so far are used, producing a
// partial-but-usable result rather than an error.
func gibbsSample(ctx context.Context, network *model.BayesianNetwork, seeds, queryVars []string, cfg BayesianConfig) map[string]float64 {
	children := make(map[string][]string)
	for id, node := range network.Nodes {
		for _, p := range node.Parents {
			children[p] = append(children[p], id)
		}
	}

	evidence := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		evidence[s] = true
	}

	rng := rand.New(rand.NewSource(1))
	state := make(map[string]string, len(queryVars))
	for _, v := range queryVars {
		state[v] = stateLow
	}
	for _, s := range seeds {
		state[s] = stateHigh
	}

	highCounts := make(map[string]int, len(queryVars))
	samples := 0

	totalIterations := cfg.GibbsBurnIn + cfg.GibbsSamples
	for iter := 0; iter < totalIterations; iter++ {
		select {
		case <-ctx.Done():
			iter = totalIterations // fall through to return partial counts
		default:
		}
		if iter >= totalIterations {
			break
		}

		for _, v := range queryVars {
			if evidence[v] {
				continue
			}
			state[v] = sampleConditional(network, children, state, v, rng)
		}

		if iter >= cfg.GibbsBurnIn {
			samples++
			for _, v := range queryVars {
				if state[v] == stateHigh {
					highCounts[v]++
				}
			}
		}
	}

	posteriors := make(map[string]float64, len(queryVars))
	for _, v := range queryVars {
		if evidence[v] {
			posteriors[v] = 1.0
			continue
		}
		if samples > 0 {
			posteriors[v] = float64(highCounts[v]) / float64(samples)
		}
	}
	return posteriors
}

// sampleConditional draws a new state for node v from its full
// conditional P(v | Markov blanket): the product of v's own CPD given
// its parent's current state and every child's CPD given v as their
// hypothesized parent state.
func sampleConditional(network *model.BayesianNetwork, children map[string][]string, state map[string]string, v string, rng *rand.Rand) string {
	node := network.Nodes[v]
	weights := make([]float64, len(binaryStates))

	parentState := ""
	if len(node.Parents) > 0 {
		parentState = state[node.Parents[0]]
	}
	ownCPD := node.CPD[parentState]

	for i, candidateState := range binaryStates {
		w := ownCPD[i]
		for _, childID := range children[v] {
			child := network.Nodes[childID]
			childDist := child.CPD[candidateState]
			childIdx := 0
			if state[childID] == stateHigh {
				childIdx = 1
			}
			w *= childDist[childIdx]
		}
		weights[i] = w
	}

	total := weights[0] + weights[1]
	if total == 0 {
		return binaryStates[0]
	}
	r := rng.Float64() * total
	if r < weights[0] {
		return binaryStates[0]
	}
	return binaryStates[1]
}
