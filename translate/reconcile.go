package translate

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution is a translated text restored to its original input index.
type Resolution struct {
	Index       int
	Translation string
}

// MismatchKind classifies a disagreement between request and response.
type MismatchKind int

const (
	// CountMismatch: a namespace came back with a different number of texts
	// than were sent (zero when the namespace is missing entirely).
	CountMismatch MismatchKind = iota
	// UnknownNamespace: the response names a namespace that was not sent.
	UnknownNamespace
	// DuplicateGroup: a namespace appears more than once in the response;
	// slots already filled keep their first value.
	DuplicateGroup
)

func (k MismatchKind) String() string {
	switch k {
	case CountMismatch:
		return "count mismatch"
	case UnknownNamespace:
		return "unknown namespace"
	case DuplicateGroup:
		return "duplicate group"
	default:
		return fmt.Sprintf("mismatch(%d)", int(k))
	}
}

// Mismatch describes one reconciliation warning.
type Mismatch struct {
	Kind      MismatchKind
	Namespace string
	Sent      int
	Received  int
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %q sent %d, received %d", m.Kind, m.Namespace, m.Sent, m.Received)
}

// Reconciliation is the outcome of matching a response to its request.
type Reconciliation struct {
	Resolved   []Resolution // ordered by Index
	Unresolved []int        // original indices with no translation, ascending
	Mismatches []Mismatch
}

// Reconcile maps every text of a decoded response back to an original
// input index through the batch's position map. Positions the map does not
// know are ignored; positions the response does not cover stay unresolved.
// Reconcile never fails: all disagreements are reported as mismatches.
func Reconcile(resp DecodedResponse, pm PositionMap) Reconciliation {
	var rec Reconciliation

	sent := pm.GroupSizes()
	received := make(map[string]int, len(sent))
	seen := make(map[string]bool, len(resp.Items))
	filled := make(map[int]string, len(pm))

	for _, g := range resp.Items {
		if _, known := sent[g.Namespace]; !known {
			rec.Mismatches = append(rec.Mismatches, Mismatch{
				Kind:      UnknownNamespace,
				Namespace: g.Namespace,
				Received:  len(g.Texts),
			})
			continue
		}
		if seen[g.Namespace] {
			rec.Mismatches = append(rec.Mismatches, Mismatch{
				Kind:      DuplicateGroup,
				Namespace: g.Namespace,
				Sent:      sent[g.Namespace],
				Received:  len(g.Texts),
			})
		} else {
			seen[g.Namespace] = true
			received[g.Namespace] = len(g.Texts)
		}

		for i, text := range g.Texts {
			idx, ok := pm[Slot{Namespace: g.Namespace, Index: i}]
			if !ok {
				continue
			}
			if _, done := filled[idx]; done {
				continue
			}
			filled[idx] = text
		}
	}

	namespaces := make([]string, 0, len(sent))
	for ns := range sent {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		if received[ns] != sent[ns] {
			rec.Mismatches = append(rec.Mismatches, Mismatch{
				Kind:      CountMismatch,
				Namespace: ns,
				Sent:      sent[ns],
				Received:  received[ns],
			})
		}
	}

	for _, idx := range pm {
		if text, ok := filled[idx]; ok {
			rec.Resolved = append(rec.Resolved, Resolution{Index: idx, Translation: text})
		} else {
			rec.Unresolved = append(rec.Unresolved, idx)
		}
	}
	sort.Slice(rec.Resolved, func(i, j int) bool { return rec.Resolved[i].Index < rec.Resolved[j].Index })
	sort.Ints(rec.Unresolved)

	return rec
}

// countAudit renders the per-namespace sent/received table written to the
// attempt log.
func countAudit(req EncodedRequest, resp DecodedResponse) string {
	received := make(map[string]int)
	for _, g := range resp.Items {
		received[g.Namespace] += len(g.Texts)
	}
	var b strings.Builder
	for _, g := range req.Items {
		status := "ok"
		if received[g.Namespace] != len(g.Texts) {
			status = "MISMATCH"
		}
		fmt.Fprintf(&b, "%s: sent %d, received %d [%s]\n", g.Namespace, len(g.Texts), received[g.Namespace], status)
		delete(received, g.Namespace)
	}
	extra := make([]string, 0, len(received))
	for ns := range received {
		extra = append(extra, ns)
	}
	sort.Strings(extra)
	for _, ns := range extra {
		fmt.Fprintf(&b, "%s: sent 0, received %d [UNKNOWN]\n", ns, received[ns])
	}
	return strings.TrimRight(b.String(), "\n")
}
