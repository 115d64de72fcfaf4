package analysis

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jchen/finsight/internal/domain"
)

// DerivedMetrics are deterministic aggregates computed from the extracted
// records before any model is invoked. They anchor the prompts so the model
// reasons over real numbers instead of inventing them.
type DerivedMetrics struct {
	TotalRevenue      float64            `json:"total_revenue"`
	TotalExpenses     float64            `json:"total_expenses"`
	NetCashFlow       float64            `json:"net_cash_flow"`
	PeriodDays        int                `json:"period_days"`
	MonthlyBurnRate   float64            `json:"monthly_burn_rate"`
	RunwayMonths      float64            `json:"runway_months"`
	DebtToIncome      float64            `json:"debt_to_income_ratio"`
	LiquidityRatio    float64            `json:"liquidity_ratio"`
	ExpenseByCategory map[string]float64 `json:"expense_by_category"`
	RecurringPayments []RecurringPayment `json:"recurring_payments,omitempty"`
	RecordCount       int                `json:"record_count"`
}

// RecurringPayment is a detected repeating charge.
type RecurringPayment struct {
	Description     string  `json:"description"`
	Amount          float64 `json:"amount"`
	Frequency       string  `json:"frequency"`
	Occurrences     int     `json:"occurrences"`
	AvgIntervalDays int     `json:"avg_interval_days"`
}

// categoryKeywords drives rule-based categorization of record descriptions.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"salary", []string{"salary", "payroll", "wage", "compensation"}},
	{"rent", []string{"rent", "lease", "rental"}},
	{"utilities", []string{"electricity", "water", "gas", "utility", "internet", "phone"}},
	{"marketing", []string{"marketing", "advertising", "ads", "promotion", "social media"}},
	{"loan_emi", []string{"emi", "loan", "installment", "repayment"}},
	{"tax", []string{"tax", "gst", "income tax", "tds", "vat"}},
	{"revenue", []string{"revenue", "sales", "income", "payment received", "invoice"}},
}

// CategorizeRecord assigns a category from description keywords, falling back
// to the sign of the amount. An explicit category on the record wins.
func CategorizeRecord(rec domain.FinancialRecord) string {
	if rec.Category != "" {
		return rec.Category
	}
	desc := strings.ToLower(rec.Description)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(desc, kw) {
				return c.category
			}
		}
	}
	if rec.Amount < 0 {
		return "expense"
	}
	return "revenue"
}

// ComputeMetrics derives aggregate metrics from the records of all documents
// in a job. Outflows are negative amounts; the revenue category counts as
// income regardless of sign.
func ComputeMetrics(docs []*domain.Document) *DerivedMetrics {
	m := &DerivedMetrics{
		ExpenseByCategory: make(map[string]float64),
	}

	var records []domain.FinancialRecord
	for _, doc := range docs {
		records = append(records, doc.Records...)
	}
	m.RecordCount = len(records)

	var minDate, maxDate time.Time
	var totalDebt float64
	for _, rec := range records {
		cat := CategorizeRecord(rec)
		if cat == "revenue" {
			m.TotalRevenue += math.Abs(rec.Amount)
		} else {
			amt := math.Abs(rec.Amount)
			m.TotalExpenses += amt
			m.ExpenseByCategory[cat] += amt
			if cat == "loan_emi" {
				totalDebt += amt
			}
		}

		if d, err := time.Parse("2006-01-02", rec.Date); err == nil {
			if minDate.IsZero() || d.Before(minDate) {
				minDate = d
			}
			if maxDate.IsZero() || d.After(maxDate) {
				maxDate = d
			}
		}
	}

	m.NetCashFlow = round2(m.TotalRevenue - m.TotalExpenses)
	m.TotalRevenue = round2(m.TotalRevenue)
	m.TotalExpenses = round2(m.TotalExpenses)
	for k, v := range m.ExpenseByCategory {
		m.ExpenseByCategory[k] = round2(v)
	}

	m.PeriodDays = periodDays(minDate, maxDate)
	m.MonthlyBurnRate = round2(BurnRate(m.TotalExpenses, m.PeriodDays) * 30)
	m.RunwayMonths = Runway(m.NetCashFlow, m.MonthlyBurnRate)
	// Infinite runway (nothing burning) is capped so the struct stays
	// JSON-encodable for prompt assembly.
	if math.IsInf(m.RunwayMonths, 1) {
		m.RunwayMonths = 999
	}

	monthlyIncome := 0.0
	if m.PeriodDays > 0 {
		monthlyIncome = m.TotalRevenue / float64(m.PeriodDays) * 30
	}
	m.DebtToIncome = DebtToIncome(totalDebt, monthlyIncome)
	m.LiquidityRatio = LiquidityRatio(m.TotalRevenue, m.TotalExpenses)
	m.RecurringPayments = DetectRecurringPayments(records)

	return m
}

// periodDays returns the inclusive day span covered by the records, defaulting
// to 30 when dates are missing so rates stay finite.
func periodDays(min, max time.Time) int {
	if min.IsZero() || max.IsZero() {
		return 30
	}
	days := int(max.Sub(min).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// BurnRate returns the average daily cash burn over the period.
func BurnRate(totalExpenses float64, periodDays int) float64 {
	if totalExpenses <= 0 || periodDays <= 0 {
		return 0
	}
	return round2(totalExpenses / float64(periodDays))
}

// Runway returns the months until cash depletes at the given burn rate.
// Returns +Inf when nothing is burning.
func Runway(currentCash, monthlyBurn float64) float64 {
	if monthlyBurn <= 0 {
		return math.Inf(1)
	}
	if currentCash <= 0 {
		return 0
	}
	return round1(currentCash / monthlyBurn)
}

// DebtToIncome returns total debt as a percentage of monthly income.
func DebtToIncome(totalDebt, monthlyIncome float64) float64 {
	if monthlyIncome <= 0 {
		return 0
	}
	return round2(totalDebt / monthlyIncome * 100)
}

// LiquidityRatio returns current assets over current liabilities.
func LiquidityRatio(currentAssets, currentLiabilities float64) float64 {
	if currentLiabilities <= 0 {
		return 0
	}
	return round2(currentAssets / currentLiabilities)
}

// GrowthRate returns the percentage change from the first to the last value.
func GrowthRate(values []float64) float64 {
	if len(values) < 2 || values[0] == 0 {
		return 0
	}
	return round2((values[len(values)-1] - values[0]) / values[0] * 100)
}

// DetectRecurringPayments groups records by similar amounts (5% tolerance) and
// reports groups of 3+ occurrences with consistent intervals (7-day tolerance).
func DetectRecurringPayments(records []domain.FinancialRecord) []RecurringPayment {
	type group struct {
		base    float64
		records []domain.FinancialRecord
	}
	var groups []*group

	for _, rec := range records {
		amount := math.Abs(rec.Amount)
		if amount == 0 {
			continue
		}
		matched := false
		for _, g := range groups {
			if math.Abs(amount-g.base)/g.base < 0.05 {
				g.records = append(g.records, rec)
				matched = true
				break
			}
		}
		if !matched {
			groups = append(groups, &group{base: amount, records: []domain.FinancialRecord{rec}})
		}
	}

	var recurring []RecurringPayment
	for _, g := range groups {
		if len(g.records) < 3 {
			continue
		}
		sort.Slice(g.records, func(i, j int) bool {
			return g.records[i].Date < g.records[j].Date
		})

		var intervals []float64
		for i := 1; i < len(g.records); i++ {
			prev, err1 := time.Parse("2006-01-02", g.records[i-1].Date)
			cur, err2 := time.Parse("2006-01-02", g.records[i].Date)
			if err1 != nil || err2 != nil {
				continue
			}
			intervals = append(intervals, cur.Sub(prev).Hours()/24)
		}
		if len(intervals) == 0 {
			continue
		}

		var sum float64
		for _, iv := range intervals {
			sum += iv
		}
		avg := sum / float64(len(intervals))

		consistent := true
		for _, iv := range intervals {
			if math.Abs(iv-avg) > 7 {
				consistent = false
				break
			}
		}
		if !consistent {
			continue
		}

		recurring = append(recurring, RecurringPayment{
			Description:     g.records[0].Description,
			Amount:          round2(g.base),
			Frequency:       frequencyLabel(avg),
			Occurrences:     len(g.records),
			AvgIntervalDays: int(avg),
		})
	}
	return recurring
}

func frequencyLabel(avgIntervalDays float64) string {
	switch {
	case avgIntervalDays >= 25 && avgIntervalDays <= 35:
		return "monthly"
	case avgIntervalDays >= 85 && avgIntervalDays <= 95:
		return "quarterly"
	case avgIntervalDays >= 350 && avgIntervalDays <= 380:
		return "yearly"
	case avgIntervalDays >= 12 && avgIntervalDays <= 17:
		return "bi-weekly"
	case avgIntervalDays >= 5 && avgIntervalDays <= 9:
		return "weekly"
	default:
		return "every " + strconv.Itoa(int(avgIntervalDays)) + " days"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
