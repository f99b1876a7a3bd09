package translate

// ---------------------------------------------------------------------------
// Token estimation
// ---------------------------------------------------------------------------

// TokenEstimator approximates the token cost of a string.
type TokenEstimator func(s string) int

// CharClassEstimator is the default estimator: each CJK Unified Ideograph
// (U+4E00..U+9FFF) costs 0.66 and every other rune 0.5, truncated to an
// integer. It is a heuristic, not the tokenizer of any particular model.
func CharClassEstimator(s string) int {
	var n float64
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			n += 0.66
		} else {
			n += 0.5
		}
	}
	return int(n)
}

// TokenCeiling returns the per-request budget for a model allowance of
// maxTokens. Half is reserved for the model's response.
func TokenCeiling(maxTokens int) int {
	return int(float64(maxTokens) * 0.5)
}

// Fixed wire fragments whose estimates seed the planner.
const (
	wireOverheadSample = `{"items":["modid":"","texts":[]..]}`
	itemWrapSample     = `{"t":""},`
)

// ---------------------------------------------------------------------------
// Batch planning
// ---------------------------------------------------------------------------

// Item is one string to translate. Index is its position in the caller's
// input and the only ordering authority after planning.
type Item struct {
	Namespace string
	Key       string
	Text      string
	Index     int
}

// Batch is a group of items sent in a single request. Tokens is the
// estimated request cost including the fixed prompt overhead.
type Batch struct {
	Items  []Item
	Tokens int
}

// Planner packs items into token-bounded batches.
type Planner struct {
	// Estimate is the token estimator (CharClassEstimator when nil).
	Estimate TokenEstimator
	// SystemPrompt is counted once per batch.
	SystemPrompt string
}

func (p Planner) estimator() TokenEstimator {
	if p.Estimate != nil {
		return p.Estimate
	}
	return CharClassEstimator
}

// Overhead is the fixed cost every batch starts with.
func (p Planner) Overhead() int {
	est := p.estimator()
	return est(p.SystemPrompt) + est(wireOverheadSample)
}

// ItemCost is the marginal cost of adding one item to a batch.
func (p Planner) ItemCost(it Item) int {
	est := p.estimator()
	return est(it.Text) + est(itemWrapSample)
}

// Plan splits items into batches in input order. A batch is closed when the
// next item would push it past ceiling; an item that does not fit even an
// empty batch still gets a batch of its own, so nothing is dropped.
func (p Planner) Plan(items []Item, ceiling int) []Batch {
	if len(items) == 0 {
		return nil
	}

	overhead := p.Overhead()
	var batches []Batch
	cur := Batch{Tokens: overhead}

	for _, it := range items {
		cost := p.ItemCost(it)
		if cur.Tokens+cost > ceiling && len(cur.Items) > 0 {
			batches = append(batches, cur)
			cur = Batch{Tokens: overhead}
		}
		cur.Items = append(cur.Items, it)
		cur.Tokens += cost
	}
	if len(cur.Items) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
