package services

import (
	"math"
	"testing"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGifts() []models.Gift {
	return []models.Gift{
		{Who: "Ann", Item: "Book", Status: "Vyjasnit"},
		{Who: "Bob", Item: "Socks", Status: "Hotovo"},
		{Who: "Ann", Item: "Scarf", Status: "Objednáno"},
		{Who: " Ann ", Item: "Tea", Status: ""},
		{Who: "", Item: "Orphan", Status: "Hotovo"},
		{Who: "Cid", Item: "  ", Status: "Hotovo"},
	}
}

func TestRenderAllFilter(t *testing.T) {
	vm := Render(sampleGifts(), FilterAll, DefaultStatusTaxonomy())

	assert.Equal(t, FilterAll, vm.Filter)
	assert.Equal(t, 4, vm.Total)
	require.Len(t, vm.Items, 4)
	assert.False(t, vm.Empty)

	got := map[string]int{}
	for _, c := range vm.Counts {
		got[c.Bucket] = c.Count
	}
	assert.Equal(t, map[string]int{"pending": 2, "ordered": 1, "done": 1}, got)

	require.Len(t, vm.FilterOptions, 3)
	assert.Equal(t, FilterOption{Value: FilterAll, Label: FilterAllLabel, Count: 4, Active: true}, vm.FilterOptions[0])
	assert.Equal(t, FilterOption{Value: "Ann", Label: "Ann", Count: 3}, vm.FilterOptions[1])
	assert.Equal(t, FilterOption{Value: "Bob", Label: "Bob", Count: 1}, vm.FilterOptions[2])
}

func TestRenderWhoFilter(t *testing.T) {
	vm := Render(sampleGifts(), " Ann", DefaultStatusTaxonomy())

	assert.Equal(t, "Ann", vm.Filter)
	assert.Equal(t, 3, vm.Total)
	for _, item := range vm.Items {
		assert.Contains(t, item.Gift.Who, "Ann")
	}
	assert.Equal(t, 4, vm.FilterOptions[0].Count, "all option counts every record")
	assert.True(t, vm.FilterOptions[1].Active)

	lower := Render(sampleGifts(), "ann", DefaultStatusTaxonomy())
	assert.True(t, lower.Empty, "filter is case-sensitive")
}

func TestRenderRequesterNamedAll(t *testing.T) {
	rows := []models.Gift{
		{Who: "all", Item: "Sled", Status: "Hotovo"},
		{Who: "Ann", Item: "Book", Status: "Vyjasnit"},
	}

	vm := Render(rows, "all", DefaultStatusTaxonomy())
	require.Len(t, vm.Items, 1)
	assert.Equal(t, "Sled", vm.Items[0].Gift.Item)

	require.Len(t, vm.FilterOptions, 3)
	assert.Equal(t, FilterOption{Value: FilterAll, Label: FilterAllLabel, Count: 2}, vm.FilterOptions[0])
	assert.Equal(t, FilterOption{Value: "all", Label: "all", Count: 1, Active: true}, vm.FilterOptions[2])

	everyone := Render(rows, FilterAll, DefaultStatusTaxonomy())
	assert.Equal(t, 2, everyone.Total)
	assert.True(t, everyone.FilterOptions[0].Active)
}

func TestRenderEmptyHasZeroPercentages(t *testing.T) {
	vm := Render(nil, "", DefaultStatusTaxonomy())

	assert.True(t, vm.Empty)
	assert.Equal(t, 0, vm.Total)
	require.Len(t, vm.Counts, 3)
	for _, c := range vm.Counts {
		assert.Zero(t, c.Percent)
		assert.Zero(t, c.Count)
	}
	require.Len(t, vm.FilterOptions, 1)
	assert.Equal(t, FilterAll, vm.FilterOptions[0].Value)
}

func genGift() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("Ann", "Bob", " Ann", "", "  ", "Cid"),
		gen.OneConstOf("Book", "Socks", "", " ", "Tea"),
		gen.OneConstOf("Vyjasnit", "Hotovo", "koupeno", "", "weird", "DAROVÁNO"),
	).Map(func(values []interface{}) models.Gift {
		return models.Gift{Who: values[0].(string), Item: values[1].(string), Status: values[2].(string)}
	})
}

func TestRenderProperties(t *testing.T) {
	taxonomy := DefaultStatusTaxonomy()
	properties := gopter.NewProperties(nil)

	properties.Property("rendered rows never exceed input rows and are all valid", prop.ForAll(
		func(rows []models.Gift) bool {
			vm := Render(rows, FilterAll, taxonomy)
			if len(vm.Items) > len(rows) {
				return false
			}
			for _, item := range vm.Items {
				if !item.Gift.IsValid() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genGift()),
	))

	properties.Property("percentages sum to 100 when non-empty and to 0 when empty", prop.ForAll(
		func(rows []models.Gift, filter string) bool {
			vm := Render(rows, filter, taxonomy)
			sum := 0.0
			for _, c := range vm.Counts {
				sum += c.Percent
			}
			if vm.Total == 0 {
				return sum == 0
			}
			return math.Abs(sum-100) < 1e-9
		},
		gen.SliceOf(genGift()),
		gen.OneConstOf("all", "Ann", "Bob", "nobody", ""),
	))

	properties.Property("filter option counts add up to the all option", prop.ForAll(
		func(rows []models.Gift) bool {
			vm := Render(rows, FilterAll, taxonomy)
			sum := 0
			for _, o := range vm.FilterOptions[1:] {
				sum += o.Count
			}
			return vm.FilterOptions[0].Value == FilterAll && sum == vm.FilterOptions[0].Count
		},
		gen.SliceOf(genGift()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
