package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gift-floors/models"
	"gift-floors/utils"
)

const cheapestCount = 5

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// WithOutput redirects Print.
func (s *InsightService) WithOutput(w io.Writer) *InsightService {
	s.out = w
	return s
}

func (s *InsightService) Generate(rows []models.Row) *models.InsightReport {
	report := &models.InsightReport{
		RowsByGift: make(map[string]int),
	}

	if len(rows) == 0 {
		return report
	}

	report.TotalRows = len(rows)

	var priced []models.Row
	for _, r := range rows {
		report.RowsByGift[r.Gift]++
		if r.Price == nil {
			report.UnpricedRows++
			continue
		}
		priced = append(priced, r)
	}
	report.PricedRows = len(priced)

	if len(priced) == 0 {
		return report
	}

	sort.SliceStable(priced, func(i, j int) bool {
		return priced[i].Price.LessThan(*priced[j].Price)
	})

	minPrice := *priced[0].Price
	maxPrice := *priced[len(priced)-1].Price
	total := decimal.Zero
	for _, r := range priced {
		total = total.Add(*r.Price)
	}
	avg := total.Div(decimal.NewFromInt(int64(len(priced)))).Round(2)

	report.MinPrice = &minPrice
	report.MaxPrice = &maxPrice
	report.AveragePrice = &avg

	expensive := priced[len(priced)-1]
	report.MostExpensive = &expensive

	n := cheapestCount
	if len(priced) < n {
		n = len(priced)
	}
	report.Cheapest = append([]models.Row(nil), priced[:n]...)

	return report
}

func (s *InsightService) Print(r *models.InsightReport, run *models.RunReport) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🎁 GIFT FLOOR INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	if run != nil {
		fmt.Fprintf(w, "\033[1;33m  Run\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  Run ID      : %s\n", run.RunID)
		fmt.Fprintf(w, "  Source      : %s\n", run.Source)
		fmt.Fprintf(w, "  Duration    : %s\n", run.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  Collections : \033[1m%d\033[0m scanned, %d skipped, %d failed, %d incomplete (of %d)\n",
			run.CollectionsScanned, run.CollectionsSkipped, run.CollectionsFailed,
			run.CollectionsIncomplete, run.CollectionsTotal)
		fmt.Fprintf(w, "  Pages       : %d (duplicates %d, out of order %d)\n",
			run.PagesFetched, run.Duplicates, run.OutOfOrder)
		if len(run.FailedCollections) > 0 {
			fmt.Fprintf(w, "  Failed      : \033[1;31m%s\033[0m\n", strings.Join(run.FailedCollections, ", "))
		}
		if run.Interrupted {
			fmt.Fprintf(w, "  \033[1;31mInterrupted — output holds the rows gathered so far\033[0m\n")
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total rows    : \033[1m%d\033[0m\n", r.TotalRows)
	fmt.Fprintf(w, "  Priced rows   : \033[1m%d\033[0m\n", r.PricedRows)
	fmt.Fprintf(w, "  Unpriced rows : \033[1m%d\033[0m\n", r.UnpricedRows)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Floor Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice != nil {
		fmt.Fprintf(w, "  Average floor : \033[1;32m%s\033[0m\n", r.AveragePrice.StringFixed(2))
		fmt.Fprintf(w, "  Lowest floor  : \033[1;32m%s\033[0m\n", r.MinPrice.String())
		fmt.Fprintf(w, "  Highest floor : \033[1;32m%s\033[0m\n", r.MaxPrice.String())
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Model\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s / %s\n", truncate(r.MostExpensive.Gift, 24), truncate(r.MostExpensive.Model, 24))
		fmt.Fprintf(w, "  Floor : \033[1;31m%s\033[0m\n", r.MostExpensive.Price.String())
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Cheapest Models\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Cheapest) == 0 {
		fmt.Fprintf(w, "  No priced models found\n")
	} else {
		for i, row := range r.Cheapest {
			label := truncate(row.Gift+" / "+row.Model, 38)
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%s\033[0m\n", i+1, label, row.Price.String())
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Models per Gift\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.RowsByGift) == 0 {
		fmt.Fprintf(w, "  No gift data\n")
	} else {
		type giftCount struct {
			gift  string
			count int
		}
		var gifts []giftCount
		for g, cnt := range r.RowsByGift {
			gifts = append(gifts, giftCount{g, cnt})
		}
		sort.Slice(gifts, func(i, j int) bool {
			if gifts[i].count != gifts[j].count {
				return gifts[i].count > gifts[j].count
			}
			return gifts[i].gift < gifts[j].gift
		})
		for _, gc := range gifts {
			bar := strings.Repeat("█", min(gc.count, 40))
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(gc.gift, 28), bar, gc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
