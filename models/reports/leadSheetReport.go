package reports

import (
	"fmt"
	"hash/fnv"

	"bitbucket.org/mmdatafocus/audit_backend/models"
	"github.com/shopspring/decimal"
)

// LeadSheetTotals are running sums over a group's contributing rows,
// post sign-normalization.
type LeadSheetTotals struct {
	CurrentYear      decimal.Decimal `json:"current_year"`
	PriorYear        decimal.Decimal `json:"prior_year"`
	Adjustments      decimal.Decimal `json:"adjustments"`
	Reclassification decimal.Decimal `json:"reclassification"`
	FinalBalance     decimal.Decimal `json:"final_balance"`
}

// LeadSheetGroup is a grouping3 leaf of the classification tree.
type LeadSheetGroup struct {
	Id     string          `json:"id"`
	Group  string          `json:"group"`
	Totals LeadSheetTotals `json:"totals"`
	RowIds []string        `json:"row_ids"`
}

// LeadSheetBranch is a grouping2 node.
type LeadSheetBranch struct {
	Name   string            `json:"name"`
	Groups []*LeadSheetGroup `json:"groups"`
}

// LeadSheetFamily is a grouping1 node (Assets, Liabilities, Equity).
type LeadSheetFamily struct {
	Name     models.Grouping1   `json:"name"`
	Branches []*LeadSheetBranch `json:"branches"`
}

type LeadSheetTree struct {
	Families []*LeadSheetFamily `json:"families"`

	byPath map[string]*LeadSheetGroup
}

// LeadSheetId derives a group's id from its classification path alone, so a
// rebuild from the same rows always assigns the same ids regardless of row
// iteration order.
func LeadSheetId(path string) string {
	h := fnv.New32a()
	h.Write([]byte(path))
	return fmt.Sprintf("LS_%08x", h.Sum32())
}

// NormalizeRows returns sign-normalized copies of the rows: credit-family rows
// (Equity, Liabilities) have currentYear/priorYear/adjustments/reclassification
// flipped and finalBalance recomputed, so every value reads as a contribution
// to equity. Rows with an unparsable classification are passed through as-is.
func NormalizeRows(rows []*models.ETBRow) []*models.ETBRow {
	out := make([]*models.ETBRow, 0, len(rows))
	for _, row := range rows {
		copied := *row
		if c, err := models.ParseClassification(row.Classification); err == nil && c.Grouping1.IsCreditFamily() {
			copied.CurrentYear = copied.CurrentYear.Neg()
			copied.PriorYear = copied.PriorYear.Neg()
			copied.Adjustments = copied.Adjustments.Neg()
			copied.Reclassification = copied.Reclassification.Neg()
			copied.RecomputeFinalBalance()
		}
		out = append(out, &copied)
	}
	return out
}

// BuildLeadSheetTree aggregates normalized rows into the 3-level grouping
// tree. Rows whose classification does not parse are excluded from the tree
// but remain in the flat row list the caller holds.
func BuildLeadSheetTree(rows []*models.ETBRow) *LeadSheetTree {
	tree := &LeadSheetTree{byPath: make(map[string]*LeadSheetGroup)}
	families := make(map[models.Grouping1]*LeadSheetFamily)
	branches := make(map[string]*LeadSheetBranch)

	for _, row := range rows {
		c, err := models.ParseClassification(row.Classification)
		if err != nil {
			continue
		}

		family, ok := families[c.Grouping1]
		if !ok {
			family = &LeadSheetFamily{Name: c.Grouping1}
			families[c.Grouping1] = family
			tree.Families = append(tree.Families, family)
		}

		branchKey := string(c.Grouping1) + "\x00" + c.Grouping2
		branch, ok := branches[branchKey]
		if !ok {
			branch = &LeadSheetBranch{Name: c.Grouping2}
			branches[branchKey] = branch
			family.Branches = append(family.Branches, branch)
		}

		path := c.Path()
		group, ok := tree.byPath[path]
		if !ok {
			group = &LeadSheetGroup{Id: LeadSheetId(path), Group: c.Grouping3}
			tree.byPath[path] = group
			branch.Groups = append(branch.Groups, group)
		}

		group.Totals.CurrentYear = group.Totals.CurrentYear.Add(row.CurrentYear)
		group.Totals.PriorYear = group.Totals.PriorYear.Add(row.PriorYear)
		group.Totals.Adjustments = group.Totals.Adjustments.Add(row.Adjustments)
		group.Totals.Reclassification = group.Totals.Reclassification.Add(row.Reclassification)
		group.Totals.FinalBalance = group.Totals.FinalBalance.Add(row.FinalBalance)
		group.RowIds = append(group.RowIds, row.RowId)
	}

	return tree
}

// Family returns the grouping1 node, or nil if no row landed there.
func (t *LeadSheetTree) Family(name models.Grouping1) *LeadSheetFamily {
	for _, f := range t.Families {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Branch returns the grouping2 node under a family, or nil.
func (f *LeadSheetFamily) Branch(name string) *LeadSheetBranch {
	if f == nil {
		return nil
	}
	for _, b := range f.Branches {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Group returns the grouping3 node by name, or nil.
func (b *LeadSheetBranch) Group(name string) *LeadSheetGroup {
	if b == nil {
		return nil
	}
	for _, g := range b.Groups {
		if g.Group == name {
			return g
		}
	}
	return nil
}
