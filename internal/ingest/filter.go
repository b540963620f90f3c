package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"leafprep/internal/logging"
)

// Reclamation status labels.
const (
	StatusNotReclaimed      = "not_reclaimed"
	StatusReclamationExempt = "reclamation_exempt"
	StatusReclaimed         = "reclaimed"
	StatusNoData            = "no_data"
)

// Columns used by the reclaimed wells preset, after CleanNames.
const (
	ColReclamationStatus     = "reclamation_status"
	ColReclamationDate       = "reclamation_date"
	ColMaxAbandonedDate      = "max_abandoned_date"
	ColMaxLastProductionDate = "max_last_production_date"
)

// ReclamationStatus maps the HFI reclamation_status code to its label.
func ReclamationStatus(v interface{}) string {
	n, ok := toFloat(v)
	if !ok {
		return StatusNoData
	}
	switch n {
	case 1:
		return StatusNotReclaimed
	case 2:
		return StatusReclamationExempt
	case 3:
		return StatusReclaimed
	default:
		return StatusNoData
	}
}

// ReclaimedWells labels reclamation_status on every well and keeps the
// reclaimed ones whose dates are consistent: reclaimed after abandonment and
// after last production, abandoned after last production. Comparisons with a
// missing value are false.
func ReclaimedWells(t *Table) {
	kept := t.Features[:0]
	for _, f := range t.Features {
		status := ReclamationStatus(f.Properties[ColReclamationStatus])
		f.Properties[ColReclamationStatus] = status
		if status != StatusReclaimed {
			continue
		}
		rd := f.Properties[ColReclamationDate]
		mad := f.Properties[ColMaxAbandonedDate]
		mlpd := f.Properties[ColMaxLastProductionDate]
		if isZero(rd) {
			continue
		}
		if !greater(rd, mad) || !greater(rd, mlpd) || !greater(mad, mlpd) {
			continue
		}
		kept = append(kept, f)
	}
	logging.IngestDebug("Reclaimed wells filter kept %d of %d", len(kept), len(t.Features))
	t.Features = kept
}

// Match keeps features whose column equals the value, compared as text.
func Match(t *Table, conditions map[string]string) {
	kept := t.Features[:0]
	for _, f := range t.Features {
		ok := true
		for col, want := range conditions {
			v, present := f.Properties[col]
			if !present || v == nil || textOf(v) != want {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, f)
		}
	}
	t.Features = kept
}

func textOf(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isZero(v interface{}) bool {
	if v == nil {
		return false
	}
	if n, ok := toFloat(v); ok {
		return n == 0
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// greater reports a > b. Numbers compare numerically, other strings (dates
// such as 2001/05/12) lexically. Missing values never compare.
func greater(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa > fb
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB && sa != "" && sb != "" {
		return sa > sb
	}
	return false
}
