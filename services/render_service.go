package services

import (
	"sort"
	"strings"

	"github.com/fenilmodi00/giftlist-backend/models"
)

// FilterAll is the identity filter. No valid gift has an empty requester,
// so it never collides with a person's name.
const FilterAll = ""

// FilterAllLabel is how the identity filter is shown
const FilterAllLabel = "all"

// GiftView is one rendered gift with its display bucket
type GiftView struct {
	Gift        models.Gift `json:"gift"`
	Bucket      string      `json:"bucket"`
	BucketLabel string      `json:"bucket_label"`
}

// BucketCount is the aggregate for one bucket of the progress indicator
type BucketCount struct {
	Bucket  string  `json:"bucket"`
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// FilterOption is one selectable requester with its record count
type FilterOption struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
	Active bool   `json:"active"`
}

// ViewModel is everything the page displays for one (records, filter) pair
type ViewModel struct {
	Filter        string         `json:"filter"`
	Items         []GiftView     `json:"items"`
	Counts        []BucketCount  `json:"counts"`
	Total         int            `json:"total"`
	FilterOptions []FilterOption `json:"filter_options"`
	Empty         bool           `json:"empty"`
}

// Render projects records through a filter. It has no side effects.
// Counts and percentages cover the filtered records; filter options cover all of them.
func Render(records []models.Gift, filter string, taxonomy *StatusTaxonomy) ViewModel {
	filter = normalizeFilter(filter)

	valid := make([]models.Gift, 0, len(records))
	perWho := make(map[string]int)
	for _, r := range records {
		if !r.IsValid() {
			continue
		}
		valid = append(valid, r)
		perWho[strings.TrimSpace(r.Who)]++
	}

	vm := ViewModel{
		Filter: filter,
		Items:  make([]GiftView, 0, len(valid)),
	}

	counts := make(map[string]int)
	for _, r := range valid {
		if filter != FilterAll && strings.TrimSpace(r.Who) != filter {
			continue
		}
		bucket := taxonomy.Bucket(r.Status)
		counts[bucket]++
		vm.Items = append(vm.Items, GiftView{
			Gift:        r,
			Bucket:      bucket,
			BucketLabel: taxonomy.Label(bucket),
		})
	}

	vm.Total = len(vm.Items)
	vm.Empty = vm.Total == 0
	vm.Counts = bucketCounts(taxonomy, counts, vm.Total)
	vm.FilterOptions = filterOptions(perWho, len(valid), filter)

	return vm
}

func normalizeFilter(filter string) string {
	return strings.TrimSpace(filter)
}

// bucketCounts lists every bucket in taxonomy order; a zero total gives zero percentages
func bucketCounts(taxonomy *StatusTaxonomy, counts map[string]int, total int) []BucketCount {
	buckets := taxonomy.Buckets()
	out := make([]BucketCount, 0, len(buckets))
	for _, b := range buckets {
		bc := BucketCount{
			Bucket: b.Name,
			Label:  taxonomy.Label(b.Name),
			Count:  counts[b.Name],
		}
		if total > 0 {
			bc.Percent = float64(bc.Count) / float64(total) * 100
		}
		out = append(out, bc)
	}
	return out
}

func filterOptions(perWho map[string]int, total int, active string) []FilterOption {
	names := make([]string, 0, len(perWho))
	for who := range perWho {
		names = append(names, who)
	}
	sort.Strings(names)

	options := make([]FilterOption, 0, len(names)+1)
	options = append(options, FilterOption{Value: FilterAll, Label: FilterAllLabel, Count: total, Active: active == FilterAll})
	for _, who := range names {
		options = append(options, FilterOption{Value: who, Label: who, Count: perWho[who], Active: active == who})
	}
	return options
}
