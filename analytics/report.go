package analytics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
)

// WriteReport renders a plain-text analysis of the stored record set, the
// counterpart of the run summary printed after a scrape.
func WriteReport(w io.Writer, stats *AggregateStats, top []*models.Book) {
	separator := strings.Repeat("-", 50)

	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "Catalog analysis")
	fmt.Fprintf(w, "  Total books:   %d\n", stats.TotalBooks)
	if stats.TotalBooks == 0 {
		fmt.Fprintln(w, separator)
		return
	}

	fmt.Fprintf(w, "  Price:         min %.2f / max %.2f / mean %.2f / median %.2f\n",
		stats.Price.Min, stats.Price.Max, stats.Price.Mean, stats.Price.Median)

	fmt.Fprintln(w, "  Ratings:")
	for _, bucket := range stats.RatingHistogram {
		fmt.Fprintf(w, "    %d star: %4d (%5.1f%%)\n", bucket.Rating, bucket.Count, bucket.Percent)
	}

	fmt.Fprintln(w, "  Availability:")
	keys := make([]string, 0, len(stats.Availability))
	for key := range stats.Availability {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry := stats.Availability[key]
		fmt.Fprintf(w, "    %-15s %4d (%5.1f%%)\n", key, entry.Count, entry.Percent)
	}

	if len(top) > 0 {
		fmt.Fprintln(w, "  Most expensive:")
		for i, book := range top {
			title := book.Title
			if len(title) > 45 {
				title = title[:42] + "..."
			}
			fmt.Fprintf(w, "    %2d. %-45s %7.2f (%d star)\n", i+1, title, book.Price, book.StarRating)
		}
	}
	fmt.Fprintln(w, separator)
}
